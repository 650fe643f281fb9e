package imagepick

import (
	"strings"
	"testing"
)

func TestIsStockByMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		meta *ImageMetadata
		want bool
	}{
		{name: "nil metadata", meta: nil, want: false},
		{name: "empty metadata", meta: &ImageMetadata{}, want: false},
		{name: "shutterstock copyright", meta: &ImageMetadata{IPTCCopyright: "Copyright Shutterstock Inc."}, want: true},
		{name: "getty credit", meta: &ImageMetadata{IPTCCredit: "Getty Images"}, want: true},
		{name: "istock exif", meta: &ImageMetadata{EXIFCopyright: "iStockPhoto.com/someone"}, want: true},
		{name: "adobe stock rights", meta: &ImageMetadata{DCRights: "Licensed via Adobe Stock"}, want: true},
		{name: "uppercase", meta: &ImageMetadata{IPTCSource: "ALAMY STOCK PHOTO"}, want: true},
		{
			name: "photographer only",
			meta: &ImageMetadata{IPTCCopyright: "Copyright 2024 Jane Roe", EXIFArtist: "Jane Roe"},
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsStockByMetadata(tc.meta); got != tc.want {
				t.Errorf("IsStockByMetadata() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsStockSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		imageURL string
		origin   string
		want     bool
	}{
		{name: "stock image host", imageURL: "https://image.shutterstock.com/z/apple.jpg", want: true},
		{name: "stock origin site", imageURL: "https://cdn.example.com/a.jpg", origin: "www.alamy.com", want: true},
		{name: "free host", imageURL: "https://images.unsplash.com/photo.jpg", origin: "unsplash.com", want: false},
		{name: "empty", want: false},
		{name: "unparseable url", imageURL: "://bad", origin: "", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsStockSource(tc.imageURL, tc.origin); got != tc.want {
				t.Errorf("IsStockSource(%q, %q) = %v, want %v", tc.imageURL, tc.origin, got, tc.want)
			}
		})
	}
}

func TestExtractImageMetadataWithoutTags(t *testing.T) {
	t.Parallel()

	for name, data := range map[string][]byte{
		"nil":        nil,
		"empty":      {},
		"garbage":    {0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x11},
		"plain jpeg": makeJPEG(32, 32),
	} {
		if got := ExtractImageMetadata(data); got != nil {
			t.Errorf("%s: ExtractImageMetadata() = %+v, want nil", name, got)
		}
	}
}

func TestExtractImageMetadataEXIFCopyright(t *testing.T) {
	t.Parallel()

	data := withEXIFCopyright(makeNoisyJPEG(32, 32, 3), "Shutterstock, Inc.")

	meta := ExtractImageMetadata(data)
	if meta == nil {
		t.Fatal("ExtractImageMetadata() = nil, want EXIF copyright")
	}
	if !strings.Contains(meta.EXIFCopyright, "Shutterstock") {
		t.Errorf("EXIFCopyright = %q, want Shutterstock", meta.EXIFCopyright)
	}
	if !IsStockByMetadata(meta) {
		t.Error("IsStockByMetadata() = false for Shutterstock copyright")
	}
}

func TestMetadataFormat(t *testing.T) {
	t.Parallel()

	if _, ok := metadataFormat(makeJPEG(8, 8)); !ok {
		t.Error("jpeg not recognised")
	}
	if _, ok := metadataFormat(makeTransparentPNG(16, 16)); !ok {
		t.Error("png not recognised")
	}
	if _, ok := metadataFormat([]byte("GIF89a")); ok {
		t.Error("gif reported as supported")
	}
}
