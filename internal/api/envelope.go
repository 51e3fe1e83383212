package api

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"

	"reelvault/internal/assets"
	"reelvault/internal/faults"
	"reelvault/internal/lock"
)

// Response is the discriminated result of one operation.
type Response struct {
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
	Kind        string     `json:"kind,omitempty"`
	Locked      bool       `json:"locked,omitempty"`
	LockInfo    *lock.Info `json:"lock_info,omitempty"`
	Offline     bool       `json:"offline,omitempty"`
	OfflinePath string     `json:"offline_path,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
	Data        any        `json:"data,omitempty"`
}

// OK wraps a successful result.
func OK(data any) Response {
	return Response{Success: true, Data: data, Warnings: warningsOf(data)}
}

// Fail converts an error into a failure envelope. A nil error yields a
// success envelope without data.
func Fail(err error) Response {
	if err == nil {
		return Response{Success: true}
	}
	resp := Response{Error: err.Error(), Kind: faults.Kind(err)}

	var locked *lock.LockedError
	if errors.As(err, &locked) {
		info := locked.Info
		resp.Locked = true
		resp.LockInfo = &info
	} else if errors.Is(err, faults.ErrLocked) {
		resp.Locked = true
	}

	var offline *assets.OfflineError
	if errors.As(err, &offline) {
		resp.Offline = true
		resp.OfflinePath = offline.Path
	} else if errors.Is(err, faults.ErrOffline) {
		resp.Offline = true
	}
	return resp
}

// From builds the envelope for the common (result, error) return pair.
func From(data any, err error) Response {
	if err != nil {
		return Fail(err)
	}
	return OK(data)
}

// Write encodes resp as indented JSON followed by a newline.
func Write(w io.Writer, resp Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// warningsOf returns the Warnings []string field of a result struct, if any.
func warningsOf(data any) []string {
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	field := v.FieldByName("Warnings")
	if !field.IsValid() || field.Kind() != reflect.Slice || field.Type().Elem().Kind() != reflect.String {
		return nil
	}
	if field.Len() == 0 {
		return nil
	}
	out := make([]string, field.Len())
	for i := range out {
		out[i] = field.Index(i).String()
	}
	return out
}
