// Package faults defines the error taxonomy shared by the project store.
//
// Components tag failures with one of the sentinel markers through Wrap so
// callers can branch with errors.Is while the message keeps the component
// and operation that failed.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrLocked       = errors.New("project locked")
	ErrOffline      = errors.New("media offline")
	ErrExternalTool = errors.New("external tool error")
	ErrIntegrity    = errors.New("integrity error")
	ErrIO           = errors.New("i/o error")
)

// Wrap builds an error that includes component context while tagging it with
// the provided marker. The marker should be one of the sentinels above; a nil
// marker is treated as ErrIO.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a stable short name for the marker carried by err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrOffline):
		return "offline"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	default:
		return "io"
	}
}

// Sentinel is the inverse of Kind: it returns the marker named kind, or nil
// for an unknown name.
func Sentinel(kind string) error {
	switch kind {
	case "validation":
		return ErrValidation
	case "not_found":
		return ErrNotFound
	case "locked":
		return ErrLocked
	case "offline":
		return ErrOffline
	case "external_tool":
		return ErrExternalTool
	case "integrity":
		return ErrIntegrity
	case "io":
		return ErrIO
	default:
		return nil
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "store failure"
	}
	return strings.Join(parts, ": ")
}
