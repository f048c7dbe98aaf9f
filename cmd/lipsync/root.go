package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"lipsync-studio/internal/config"
	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/logging"
	"lipsync-studio/internal/metrics"
	"lipsync-studio/internal/pipeline"
)

// runner is the slice of the pipeline the commands drive.
type runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Prepare(ctx context.Context) ([]domain.AcquisitionResult, error)
}

// cli carries resolved settings and shared dependencies between commands.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	settingsPath string
	envFile      string
	logLevel     string
	logFormat    string
	workspaceDir string
	codeDir      string
	python       string
	forceCPU     bool

	settings    domain.Settings
	logger      *slog.Logger
	environ     func() []string
	newPipeline func(settings domain.Settings, m *metrics.Metrics, logger *slog.Logger) runner
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{
		stdout:  stdout,
		stderr:  stderr,
		environ: os.Environ,
		newPipeline: func(settings domain.Settings, m *metrics.Metrics, logger *slog.Logger) runner {
			return pipeline.New(settings, m, logger)
		},
	}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lipsync",
		Short:         "Turn a face image and speech into a lip-synced video.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.settingsPath, "settings", "", "Path to settings JSON (default $HOME/.lipsync-studio/settings.json)")
	flags.StringVar(&c.envFile, "env-file", ".env", "Optional .env file with LIPSYNC_* variables")
	flags.StringVar(&c.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&c.logFormat, "log-format", "text", "Log format: text or json")
	flags.StringVar(&c.workspaceDir, "workspace", "", "Workspace directory override")
	flags.StringVar(&c.codeDir, "code-dir", "", "Wav2Lip code directory override")
	flags.StringVar(&c.python, "python", "", "Python interpreter override")
	flags.BoolVar(&c.forceCPU, "cpu", true, "Hide GPUs from the inference program")

	root.AddCommand(c.runCmd(), c.resetCmd(), c.checkCmd(), c.fetchCmd())
	return root
}

// load resolves settings: defaults, settings file, .env, environment, flags.
func (c *cli) load(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := config.LoadDotEnv(c.envFile); err != nil {
			return err
		}
	}

	c.logger = logging.New(c.stderr, c.logLevel, c.logFormat)

	path := c.settingsPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve user home: %w", err)
		}
		path = filepath.Join(config.AppDir(homeDir), "settings.json")
	}

	settings, err := config.Load(config.NewJSONStore(path), c.environ())
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("workspace") {
		settings.WorkspaceDir = c.workspaceDir
	}
	if flags.Changed("code-dir") {
		settings.CodeDir = c.codeDir
	}
	if flags.Changed("python") {
		settings.PythonBinary = c.python
	}
	if flags.Changed("cpu") {
		settings.ForceCPU = c.forceCPU
	}
	c.settings = config.Normalize(settings)

	c.logger.Debug("settings resolved",
		slog.String("settings", path),
		slog.String("workspace", c.settings.WorkspaceDir),
		slog.String("code_dir", c.settings.CodeDir),
	)
	return nil
}
