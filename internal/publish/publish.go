// Package publish turns the produced video into bytes the caller can play
// back or offer for download.
package publish

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"os"
	"strings"
)

const (
	// DownloadFileName is the name offered to the user on download.
	DownloadFileName = "lip_sync_output.mp4"
	// VideoContentType is the MIME type of every artifact.
	VideoContentType = "video/mp4"
)

// ErrEmptyArtifact means the output file exists but has no content.
var ErrEmptyArtifact = errors.New("artifact is empty")

// Artifact is a published video held in memory.
type Artifact struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
	Size        int64  `json:"size"`
}

// Present reads the video at outputPath.
func Present(outputPath string) (Artifact, error) {
	data, err := os.ReadFile(outputPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact: %w", err)
	}
	if len(data) == 0 {
		return Artifact{}, fmt.Errorf("%w: %s", ErrEmptyArtifact, outputPath)
	}
	return Artifact{
		FileName:    DownloadFileName,
		ContentType: VideoContentType,
		Data:        data,
		Size:        int64(len(data)),
	}, nil
}

// DataURI encodes the artifact as a base64 data URI.
func (a Artifact) DataURI() string {
	contentType := a.ContentType
	if contentType == "" {
		contentType = VideoContentType
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// DownloadLink returns an HTML anchor that downloads the artifact.
func (a Artifact) DownloadLink() string {
	name := a.FileName
	if name == "" {
		name = DownloadFileName
	}
	return fmt.Sprintf(`<a href="%s" download="%s">Download video</a>`, a.DataURI(), html.EscapeString(name))
}

// DecodeDataURI returns the bytes of a base64 data URI.
func DecodeDataURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, errors.New("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("data URI has no payload")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URI: %w", err)
	}
	return data, nil
}
