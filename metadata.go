package imagepick

import (
	"bytes"

	"github.com/bep/imagemeta"
)

// ImageMetadata holds the EXIF, IPTC and XMP rights fields extracted from
// image binary data. Used for stock-photo detection.
type ImageMetadata struct {
	EXIFCopyright string
	EXIFArtist    string
	IPTCCopyright string
	IPTCCredit    string
	IPTCSource    string
	IPTCByline    string
	DCRights      string
	DCCreator     string
}

// fields returns the rights fields in a fixed order.
func (m *ImageMetadata) fields() []string {
	return []string{
		m.EXIFCopyright,
		m.EXIFArtist,
		m.IPTCCopyright,
		m.IPTCCredit,
		m.IPTCSource,
		m.IPTCByline,
		m.DCRights,
		m.DCCreator,
	}
}

// stockDetail returns the first non-empty rights field for diagnostics.
func (m *ImageMetadata) stockDetail() string {
	if m == nil {
		return ""
	}
	for _, f := range m.fields() {
		if f != "" {
			return f
		}
	}
	return ""
}

// wantedTags maps (source, tag-name) → true for every tag we care about.
var wantedTags = map[imagemeta.Source]map[string]bool{
	imagemeta.IPTC: {
		"CopyrightNotice": true,
		"Credit":          true,
		"Byline":          true,
		"Source":          true,
	},
	imagemeta.EXIF: {
		"Copyright": true,
		"Artist":    true,
	},
	imagemeta.XMP: {
		"Rights":  true,
		"Creator": true,
	},
}

// ExtractImageMetadata parses EXIF/IPTC/XMP metadata from raw image bytes.
// Returns nil if the data is empty, cannot be parsed or carries none of the
// wanted tags. Never returns an error.
func ExtractImageMetadata(data []byte) *ImageMetadata {
	if len(data) == 0 {
		return nil
	}

	format, ok := metadataFormat(data)
	if !ok {
		return nil
	}

	meta := &ImageMetadata{}
	found := false

	_, err := imagemeta.Decode(imagemeta.Options{
		R:           bytes.NewReader(data),
		ImageFormat: format,
		Sources:     imagemeta.EXIF | imagemeta.IPTC | imagemeta.XMP,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			if tags, ok := wantedTags[ti.Source]; ok {
				return tags[ti.Tag]
			}
			return false
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			if setMetadataField(meta, ti) {
				found = true
			}
			return nil
		},
	})

	if err != nil || !found {
		return nil
	}
	return meta
}

// metadataFormat sniffs the container format from its magic bytes.
// imagemeta does no detection of its own.
func metadataFormat(data []byte) (imagemeta.ImageFormat, bool) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		return imagemeta.JPEG, true
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return imagemeta.PNG, true
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return imagemeta.WebP, true
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return imagemeta.TIFF, true
	}
	return imagemeta.ImageFormatAuto, false
}

// setMetadataField stores a tag value and reports whether it was used.
func setMetadataField(meta *ImageMetadata, ti imagemeta.TagInfo) bool {
	s := tagValueString(ti.Value)
	if s == "" {
		return false
	}

	var dst *string
	switch ti.Source {
	case imagemeta.IPTC:
		switch ti.Tag {
		case "CopyrightNotice":
			dst = &meta.IPTCCopyright
		case "Credit":
			dst = &meta.IPTCCredit
		case "Byline":
			dst = &meta.IPTCByline
		case "Source":
			dst = &meta.IPTCSource
		}
	case imagemeta.EXIF:
		switch ti.Tag {
		case "Copyright":
			dst = &meta.EXIFCopyright
		case "Artist":
			dst = &meta.EXIFArtist
		}
	case imagemeta.XMP:
		switch ti.Tag {
		case "Rights":
			dst = &meta.DCRights
		case "Creator":
			dst = &meta.DCCreator
		}
	}
	if dst == nil {
		return false
	}
	*dst = s
	return true
}

// tagValueString extracts a string from a tag value.
// XMP values may be string or []string (from altList/seqList).
func tagValueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		if len(val) > 0 {
			return val[0]
		}
	case []any:
		if len(val) > 0 {
			if s, ok := val[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
