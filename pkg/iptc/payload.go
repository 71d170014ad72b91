package iptc

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Field names written by exiftool. Text fields are mirrored into XMP Dublin Core and
// legacy IPTC IIM because downstream tools often read only one of them.
const (
	FieldTitle          = "XMP-dc:Title"
	FieldObjectName     = "IPTC:ObjectName"
	FieldDescription    = "XMP-dc:Description"
	FieldCaption        = "IPTC:Caption-Abstract"
	FieldSubject        = "XMP-dc:Subject"
	FieldKeywords       = "IPTC:Keywords"
	FieldCodedCharSet   = "IPTC:CodedCharacterSet"
	codedCharSetUTF8    = "UTF8"
	downloadSuffix      = "-iptc.jpg"
	defaultDownloadStem = "image"
)

// Payload is the metadata to write. Empty fields are never written.
type Payload struct {
	Title       string
	Description string
	Tags        []string
}

// NewPayload builds a Payload from loosely-typed form values. tags is comma-separated.
func NewPayload(title, description, tags string) Payload {
	return Payload{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Tags:        ParseTags(tags),
	}
}

// ParseTags splits a comma-separated tag list, trimming entries and dropping empty ones.
func ParseTags(s string) []string {
	return cleanTags(strings.Split(s, ","))
}

func cleanTags(in []string) []string {
	var tags []string
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Empty reports whether there is nothing to write.
func (p Payload) Empty() bool {
	return len(p.Fields()) == 0
}

// FieldMap maps exiftool tag names to a string or []string value.
type FieldMap map[string]any

// Fields derives the exiftool field map for p.
func (p Payload) Fields() FieldMap {
	fm := FieldMap{}
	if t := strings.TrimSpace(p.Title); t != "" {
		fm[FieldTitle] = t
		fm[FieldObjectName] = t
	}
	if d := strings.TrimSpace(p.Description); d != "" {
		fm[FieldDescription] = d
		fm[FieldCaption] = d
	}
	if tags := cleanTags(p.Tags); len(tags) > 0 {
		fm[FieldSubject] = tags
		fm[FieldKeywords] = tags
		fm[FieldCodedCharSet] = codedCharSetUTF8
	}
	return fm
}

var unsafeRun = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// DownloadName derives the name of the written file from the uploaded filename,
// e.g. "my photo #1.png" becomes "my_photo_1-iptc.jpg".
func DownloadName(original string) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	if base == "." || base == "/" {
		base = ""
	}
	stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	stem = unsafeRun.ReplaceAllString(stem, "_")
	if stem == "" {
		stem = defaultDownloadStem
	}
	return stem + downloadSuffix
}
