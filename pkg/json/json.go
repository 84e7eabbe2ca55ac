// Package json wraps goccy/go-json for the reports the tool emits.
package json

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

// Marshal is a drop-in replacement for encoding/json.Marshal.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for encoding/json.MarshalIndent.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Encode writes v to w as indented JSON followed by a newline.
func Encode(w io.Writer, v interface{}) error {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteFile encodes v into path through a staging file in the same
// directory, so readers never see a partial document.
func WriteFile(path string, v interface{}) error {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode JSON")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create report directory").
			WithDetail("path", path)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create staging file").
			WithDetail("path", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to set report permissions").WithDetail("path", path)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write JSON").WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close staging file").WithDetail("path", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to publish JSON").WithDetail("path", path)
	}
	return nil
}
