// Package media checks face images before inference and renders previews
// for the form.
package media

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	// DefaultPreviewWidth bounds preview thumbnails horizontally.
	DefaultPreviewWidth = 480
	// DefaultPreviewHeight bounds preview thumbnails vertically.
	DefaultPreviewHeight = 480
)

// ErrNotImage means the file could not be decoded as an image.
var ErrNotImage = errors.New("file is not a decodable image")

// ImageInfo describes a decoded face image.
type ImageInfo struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Inspect decodes the image at path, honoring EXIF orientation.
func Inspect(path string) (ImageInfo, error) {
	img, err := open(path)
	if err != nil {
		return ImageInfo{}, err
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return ImageInfo{}, fmt.Errorf("%w: %s has no pixels", ErrNotImage, path)
	}
	return ImageInfo{Path: path, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

// Preview writes a copy of src scaled to fit width x height into dst. The
// format follows dst's extension.
func Preview(src, dst string, width, height int) (ImageInfo, error) {
	if width <= 0 {
		width = DefaultPreviewWidth
	}
	if height <= 0 {
		height = DefaultPreviewHeight
	}

	img, err := open(src)
	if err != nil {
		return ImageInfo{}, err
	}
	thumbnail := imaging.Fit(img, width, height, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ImageInfo{}, fmt.Errorf("prepare preview directory: %w", err)
	}
	if err := imaging.Save(thumbnail, dst, imaging.JPEGQuality(80)); err != nil {
		return ImageInfo{}, fmt.Errorf("save preview: %w", err)
	}

	bounds := thumbnail.Bounds()
	return ImageInfo{Path: dst, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func open(path string) (image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotImage, path, err)
	}
	return img, nil
}
