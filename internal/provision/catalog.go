package provision

import (
	"os"
	"path/filepath"

	"lipsync-studio/internal/domain"
)

const (
	// CodeEntryFile marks a usable code tree and is the inference entry point.
	CodeEntryFile = "inference.py"
	// CheckpointDirName holds the weight assets inside the code tree.
	CheckpointDirName = "checkpoint"
)

var weightCatalog = []domain.ModelAsset{
	{
		Name:      "wav2lip_gan.pth",
		SourceURL: "https://github.com/justinjohn0306/Wav2Lip/releases/download/models/wav2lip_gan.pth",
		SizeLabel: "~416 MB",
		MinSize:   1 << 20,
	},
	{
		Name:      "wav2lip.pth",
		SourceURL: "https://github.com/justinjohn0306/Wav2Lip/releases/download/models/wav2lip.pth",
		SizeLabel: "~416 MB",
		MinSize:   1 << 20,
	},
	{
		Name:      "mobilenet.pth",
		SourceURL: "https://github.com/justinjohn0306/Wav2Lip/releases/download/models/mobilenet.pth",
		SizeLabel: "~2 MB",
		MinSize:   64 << 10,
	},
}

// Catalog returns the weight assets with local paths rooted in codeDir.
func Catalog(codeDir string) []domain.ModelAsset {
	assets := make([]domain.ModelAsset, len(weightCatalog))
	copy(assets, weightCatalog)
	for i := range assets {
		assets[i].LocalPath = filepath.Join(CheckpointDir(codeDir), assets[i].Name)
	}
	return assets
}

// Complete reports whether info describes a regular file of at least minSize
// bytes. Empty files never count.
func Complete(info os.FileInfo, minSize int64) bool {
	return info != nil && info.Mode().IsRegular() && info.Size() >= max(1, minSize)
}

// CheckpointDir returns the weight directory inside codeDir.
func CheckpointDir(codeDir string) string {
	return filepath.Join(codeDir, CheckpointDirName)
}

// EntryPath returns the inference entry file inside codeDir.
func EntryPath(codeDir string) string {
	return filepath.Join(codeDir, CodeEntryFile)
}

// CheckpointPath returns the configured checkpoint file inside codeDir.
func CheckpointPath(codeDir, checkpoint string) string {
	return filepath.Join(CheckpointDir(codeDir), checkpoint)
}
