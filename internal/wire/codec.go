package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// compressThreshold is the encoded size above which Encode gzips the JSON
// body. Senders in the fleet are free to compress or not; receivers must
// accept both, so the exact threshold only affects bandwidth.
const compressThreshold = 1024

// Encode marshals v to JSON, gzipping the body when it is large enough to
// be worth it.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	if len(raw) < compressThreshold {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode unmarshals a payload that may or may not be gzip-compressed:
// gunzip-then-parse first, then the raw bytes as JSON. Publishers differ,
// so both paths must work.
func Decode(data []byte, v any) error {
	if zr, err := gzip.NewReader(bytes.NewReader(data)); err == nil {
		if raw, err := io.ReadAll(zr); err == nil {
			if err := json.Unmarshal(raw, v); err == nil {
				return nil
			}
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
