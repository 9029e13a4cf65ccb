// Package storage persists generated image bytes and returns their public URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for filenames that are empty or would escape
// the storage root.
var ErrInvalidName = errors.New("storage: invalid object name")

// Metadata travels with a stored object. Backends store what they can.
type Metadata struct {
	ContentType string
	Provider    string
	RequestID   string
	UserID      string
}

// Store is the object storage contract used by the generation pipeline.
// Delete and Exists accept either the URL returned by Save or the bare
// filename.
type Store interface {
	Save(ctx context.Context, data []byte, filename string, meta Metadata) (string, error)
	Delete(ctx context.Context, urlOrName string) (bool, error)
	Exists(ctx context.Context, urlOrName string) (bool, error)
}

// ObjectName reduces a URL or path to the bare object name and rejects
// names containing traversal segments.
func ObjectName(urlOrName string) (string, error) {
	s := strings.TrimSpace(urlOrName)
	if u, err := url.Parse(s); err == nil && (u.Scheme != "" || u.RawQuery != "") {
		s = u.Path
	}
	name := path.Base(filepath.ToSlash(s))
	if name == "" || name == "." || name == "/" || name == ".." || strings.ContainsAny(name, `\:`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, urlOrName)
	}
	return name, nil
}

// ContentTypeFor returns the MIME type for a filename, defaulting to
// application/octet-stream.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	}
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name
}
