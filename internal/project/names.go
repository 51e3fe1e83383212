package project

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"reelvault/internal/faults"
)

// MaxNameLength bounds project names, counted in characters.
const MaxNameLength = 255

const forbiddenNameChars = `<>:"/\|?*`

// ValidateName checks a project name and returns its NFC form, which is also
// the project's directory name.
func ValidateName(name string) (string, error) {
	normalized := norm.NFC.String(name)
	switch {
	case normalized == "":
		return "", nameError("name must not be empty")
	case strings.TrimSpace(normalized) != normalized:
		return "", nameError("name must not start or end with whitespace")
	case strings.ContainsAny(normalized, forbiddenNameChars):
		return "", nameError(`name must not contain any of <>:"/\|?*`)
	case strings.ContainsFunc(normalized, unicode.IsControl):
		return "", nameError("name must not contain control characters")
	case utf8.RuneCountInString(normalized) > MaxNameLength:
		return "", nameError("name is longer than 255 characters")
	case normalized == "." || normalized == "..":
		return "", nameError("name must not be a relative path element")
	}
	return normalized, nil
}

func nameError(msg string) error {
	return faults.Wrap(faults.ErrValidation, "project", "validate name", msg, nil)
}

var syncedFolderMarkers = []string{"onedrive", "dropbox", "icloud", "google drive"}

// CloudSyncWarning returns a warning when path lies inside a folder that a
// sync client is likely to upload, or "" otherwise.
func CloudSyncWarning(path string) string {
	lower := strings.ToLower(path)
	for _, marker := range syncedFolderMarkers {
		if strings.Contains(lower, marker) {
			return "project is inside a cloud-synced folder; exclude cache/ and assets/proxies/ from sync"
		}
	}
	return ""
}
