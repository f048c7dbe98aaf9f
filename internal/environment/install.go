package environment

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"lipsync-studio/internal/command"
)

const installCommandTimeout = 45 * time.Minute

// installOption is one package manager and the commands it needs.
type installOption struct {
	manager  string
	commands [][]string
}

// packageInstallOptions lists package managers to try for pkg on goos, in order.
func packageInstallOptions(goos, pkg string) []installOption {
	switch goos {
	case "windows":
		wingetID := pkg
		if pkg == "ffmpeg" {
			wingetID = "Gyan.FFmpeg"
		} else if pkg == "git" {
			wingetID = "Git.Git"
		}
		return []installOption{
			{
				manager: "winget",
				commands: [][]string{
					{"winget", "install", "--id", wingetID, "--exact", "--accept-source-agreements", "--accept-package-agreements"},
				},
			},
			{
				manager:  "choco",
				commands: [][]string{{"choco", "install", pkg, "-y"}},
			},
			{
				manager:  "scoop",
				commands: [][]string{{"scoop", "install", pkg}},
			},
		}
	case "darwin":
		return []installOption{
			{
				manager:  "brew",
				commands: [][]string{{"brew", "install", pkg}},
			},
		}
	default:
		return []installOption{
			{
				manager: "apt-get",
				commands: [][]string{
					{"apt-get", "update"},
					{"apt-get", "install", "-y", pkg},
				},
			},
			{
				manager:  "dnf",
				commands: [][]string{{"dnf", "install", "-y", pkg}},
			},
			{
				manager:  "pacman",
				commands: [][]string{{"pacman", "-Sy", "--noconfirm", pkg}},
			},
			{
				manager:  "zypper",
				commands: [][]string{{"zypper", "install", "-y", pkg}},
			},
			{
				manager:  "brew",
				commands: [][]string{{"brew", "install", pkg}},
			},
		}
	}
}

// installer runs package manager commands through a command.Runner.
type installer struct {
	goos     string
	runner   command.Runner
	lookPath func(string) (string, error)
}

// install tries each available package manager until one succeeds.
func (i *installer) install(ctx context.Context, pkg string) error {
	options := packageInstallOptions(i.goos, pkg)
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", i.goos)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !i.available(option.manager) {
			continue
		}
		atLeastOneManager = true
		err := i.runCommands(ctx, option.commands)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if !atLeastOneManager {
		return fmt.Errorf("no supported package manager found for %s", i.goos)
	}
	return fmt.Errorf("%s", strings.Join(errorsByManager, " | "))
}

func (i *installer) runCommands(ctx context.Context, commands [][]string) error {
	for _, cmd := range commands {
		if err := i.runWithPossibleElevation(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// runWithPossibleElevation retries privileged managers through pkexec or
// non-interactive sudo on linux.
func (i *installer) runWithPossibleElevation(ctx context.Context, cmd []string) error {
	if len(cmd) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{cmd}
	if i.goos == "linux" && requiresElevation(cmd[0]) {
		if i.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, cmd...))
		}
		if i.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, cmd...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		err := i.run(ctx, candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attemptErrors = append(attemptErrors, err.Error())
	}

	return fmt.Errorf("%s", strings.Join(attemptErrors, " | "))
}

func (i *installer) run(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, installCommandTimeout)
	defer cancel()

	log, err := command.Run(ctx, i.runner, command.Spec{Name: name, Args: args})
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s timed out after %s", log, installCommandTimeout)
	}

	output := command.Tail(log.Stderr+"\n"+log.Stdout, 500)
	if output == "" {
		return fmt.Errorf("%s failed: %w", log, err)
	}
	return fmt.Errorf("%s failed: %w (%s)", log, err, output)
}

func (i *installer) available(name string) bool {
	lookPath := i.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	_, err := lookPath(name)
	return err == nil
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}
