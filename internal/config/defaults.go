package config

import (
	"os"
	"path/filepath"
	"strings"

	"lipsync-studio/internal/domain"
)

const (
	DefaultRepositoryURL = "https://github.com/Rudrabha/Wav2Lip.git"
	DefaultCheckpoint    = "wav2lip_gan.pth"
	DefaultPads          = "0 0 0 0"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		WorkspaceDir:  filepath.Join(AppDir(homeDir), "temp"),
		CodeDir:       filepath.Join(AppDir(homeDir), "Wav2Lip"),
		PythonBinary:  "python",
		CodecBinary:   "ffmpeg",
		RepositoryURL: DefaultRepositoryURL,
		Checkpoint:    DefaultCheckpoint,
		ForceCPU:      true,
		StaticImage:   true,
		Pads:          DefaultPads,
		TTSLanguage:   "en",
	}
}

// AppDir is the per-user directory holding settings, workspace, and models.
func AppDir(homeDir string) string {
	return filepath.Join(homeDir, ".lipsync-studio")
}

// Normalize trims user input and fills empty fields from defaults.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()
	fill := func(value *string, fallback string) {
		*value = strings.TrimSpace(*value)
		if *value == "" {
			*value = fallback
		}
	}

	fill(&settings.WorkspaceDir, defaults.WorkspaceDir)
	fill(&settings.CodeDir, defaults.CodeDir)
	fill(&settings.PythonBinary, defaults.PythonBinary)
	fill(&settings.CodecBinary, defaults.CodecBinary)
	fill(&settings.RepositoryURL, defaults.RepositoryURL)
	fill(&settings.Checkpoint, defaults.Checkpoint)
	fill(&settings.Pads, defaults.Pads)
	fill(&settings.TTSLanguage, defaults.TTSLanguage)
	return settings
}
