package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrUnsupportedType is returned for uploads that are not notification images
var ErrUnsupportedType = errors.New("unsupported image type")

// MaxImageSize bounds a single notification image upload
const MaxImageSize = 5 << 20

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// FileStorage defines the interface for file storage operations
type FileStorage interface {
	// SaveFile saves a file and returns its public URL
	SaveFile(ctx context.Context, file io.Reader, filename string, contentType string) (string, error)
	// DeleteFile deletes a file by its URL
	DeleteFile(ctx context.Context, fileURL string) error
}

// ImageExtension returns the file extension for a supported image content type
func ImageExtension(contentType string) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := imageExtensions[mediaType]
	if !ok {
		return "", ErrUnsupportedType
	}
	return ext, nil
}
