// Package qr renders QR code payloads as PNG images.
package qr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

const (
	DefaultSize = 512
	minSize     = 64
	maxSize     = 2048
)

// Encodes content with medium error correction and scales it to size x size.
func PNG(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("qr.PNG: content is blank")
	}
	if size < minSize || size > maxSize {
		return nil, fmt.Errorf("qr.PNG: size must be between %d and %d", minSize, maxSize)
	}
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("qr.PNG: %w", err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("qr.PNG: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("qr.PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// For embedding the PNG straight into an <img> tag.
func DataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
