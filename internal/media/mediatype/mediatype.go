// Package mediatype classifies media files by extension.
package mediatype

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Kind is the broad class of an imported media file.
type Kind string

const (
	Video Kind = "video"
	Audio Kind = "audio"
	Image Kind = "image"
)

var extensions = map[Kind][]string{
	Video: {".mp4", ".mov", ".avi", ".mkv", ".webm", ".flv", ".m4v"},
	Audio: {".mp3", ".wav", ".aac", ".m4a", ".ogg", ".flac", ".wma"},
	Image: {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tiff", ".svg"},
}

var byExtension = func() map[string]Kind {
	out := make(map[string]Kind)
	for kind, exts := range extensions {
		for _, ext := range exts {
			out[ext] = kind
		}
	}
	return out
}()

// UnsupportedError reports a file whose extension maps to no Kind.
type UnsupportedError struct {
	Path      string
	Extension string
}

func (e *UnsupportedError) Error() string {
	if e.Extension == "" {
		return fmt.Sprintf("unsupported media type: %s has no extension", filepath.Base(e.Path))
	}
	return fmt.Sprintf("unsupported media type %q: %s", e.Extension, filepath.Base(e.Path))
}

// FromPath infers the Kind from the extension of path, case-insensitively.
func FromPath(path string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := byExtension[ext]; ok {
		return kind, nil
	}
	return "", &UnsupportedError{Path: path, Extension: ext}
}

// Parse converts a user-supplied kind name into a Kind.
func Parse(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case Video:
		return Video, true
	case Audio:
		return Audio, true
	case Image:
		return Image, true
	default:
		return "", false
	}
}

// Subfolder returns the directory name below assets/media holding files of kind.
func (k Kind) Subfolder() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Image:
		return "images"
	default:
		return ""
	}
}

// HasTimebase reports whether files of this kind carry duration and stream
// metadata worth probing.
func (k Kind) HasTimebase() bool {
	return k == Video || k == Audio
}

// Extensions lists the accepted extensions for kind, sorted.
func Extensions(kind Kind) []string {
	out := append([]string(nil), extensions[kind]...)
	sort.Strings(out)
	return out
}
