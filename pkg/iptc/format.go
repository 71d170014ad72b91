// Package iptc writes descriptive metadata (title, description, keywords) into images
// by driving exiftool against a throwaway staged copy.
package iptc

import (
	"path/filepath"
	"strings"
)

// Format is a supported upload encoding.
type Format string

const (
	Unsupported Format = ""
	JPEG        Format = "jpeg"
	PNG         Format = "png"
	WebP        Format = "webp"
)

// JPEGMIME is the content type of the baseline encoding.
const JPEGMIME = "image/jpeg"

var mimeFormats = map[string]Format{
	"image/jpeg":   JPEG,
	"image/png":    PNG,
	"image/webp":   WebP,
	"image/x-webp": WebP,
}

var extFormats = map[string]Format{
	".jpg":  JPEG,
	".jpeg": JPEG,
	".png":  PNG,
	".webp": WebP,
}

// Resolve returns the format of an upload from its declared content type, falling back
// to the filename extension. Clients often omit or mis-set the content type.
func Resolve(contentType string, filename string) Format {
	if f, ok := mimeFormats[strings.ToLower(strings.TrimSpace(contentType))]; ok {
		return f
	}
	return extFormats[strings.ToLower(filepath.Ext(filename))]
}

// MIMEType returns the canonical content type for a format.
func (f Format) MIMEType() string {
	switch f {
	case JPEG:
		return JPEGMIME
	case PNG:
		return "image/png"
	case WebP:
		return "image/webp"
	}
	return "application/octet-stream"
}
