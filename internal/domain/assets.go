package domain

// ModelAsset describes one externally fetched file required for inference.
type ModelAsset struct {
	Name      string `json:"name"`
	SourceURL string `json:"sourceUrl"`
	LocalPath string `json:"localPath"`
	SHA256    string `json:"sha256,omitempty"`
	MinSize   int64  `json:"minSize,omitempty"`
	SizeLabel string `json:"sizeLabel,omitempty"`
	Present   bool   `json:"present"`
}

// AcquisitionResult is the verified outcome of ensuring one asset.
type AcquisitionResult struct {
	Asset    ModelAsset `json:"asset"`
	Fetched  bool       `json:"fetched"`
	ExitCode int        `json:"exitCode"`
	Bytes    int64      `json:"bytes"`
	SHA256   string     `json:"sha256,omitempty"`
}
