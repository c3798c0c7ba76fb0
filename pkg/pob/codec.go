// Package pob handles Path of Building export codes: the base64url + zlib wire
// encoding and the XML document they carry.
package pob

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// DefaultMaxDecoded bounds the inflated size of a single export.
const DefaultMaxDecoded = 8 * 1024 * 1024

type DecodeError struct {
	Reason string
	cause  error
}

func (e *DecodeError) Error() string {
	if e.cause != nil {
		return e.Reason + ": " + e.cause.Error()
	}
	return e.Reason
}
func (e *DecodeError) Unwrap() error { return e.cause }

var urlSafe = strings.NewReplacer("+", "-", "/", "_")

// Decompress turns an export code into the XML text it encodes.
// maxDecoded <= 0 uses DefaultMaxDecoded.
func Decompress(code string, maxDecoded int64) (string, error) {
	if maxDecoded <= 0 {
		maxDecoded = DefaultMaxDecoded
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", &DecodeError{Reason: "empty paste"}
	}
	code = strings.TrimRight(urlSafe.Replace(code), "=")
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return "", &DecodeError{Reason: "invalid base64", cause: err}
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", &DecodeError{Reason: "invalid zlib header", cause: err}
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxDecoded+1))
	if err != nil {
		return "", &DecodeError{Reason: "invalid zlib stream", cause: err}
	}
	if int64(len(out)) > maxDecoded {
		return "", &DecodeError{Reason: "decompressed paste too large"}
	}
	if !utf8.Valid(out) {
		return "", &DecodeError{Reason: "decompressed paste is not valid utf-8"}
	}
	return string(out), nil
}

// Compress produces an export code in the form Path of Building emits.
func Compress(text string) (string, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", errors.Wrap(err, "zlib writer")
	}
	if _, err := io.WriteString(zw, text); err != nil {
		return "", errors.Wrap(err, "compress")
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "compress close")
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}
