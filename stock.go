package imagepick

import (
	"net/url"
	"strings"
)

// StockDomains are stock photo hosts. Images served from them carry
// watermarks in preview sizes.
var StockDomains = []string{
	"shutterstock",
	"gettyimages",
	"istockphoto",
	"adobestock",
	"stock.adobe",
	"depositphotos",
	"dreamstime",
	"123rf",
	"alamy",
	"bigstockphoto",
	"stocksy",
	"pond5",
	"thinkstockphotos",
	"canstockphoto",
	"masterfile",
	"superstock",
	"agefotostock",
	"colourbox",
	"yayimages",
	"vectorstock",
	"freepik",
}

// stockMetadataKeywords are substrings that indicate a stock-photo agency when
// found (case-insensitive) in any metadata field.
var stockMetadataKeywords = []string{
	"shutterstock",
	"gettyimages",
	"getty images",
	"istockphoto",
	"istock",
	"alamy",
	"depositphotos",
	"dreamstime",
	"123rf",
	"adobestock",
	"adobe stock",
	"bigstockphoto",
	"stocksy",
	"pond5",
	"masterfile",
	"superstock",
	"agefotostock",
	"age fotostock",
	"colourbox",
	"yayimages",
	"vectorstock",
	"freepik",
	"canstockphoto",
}

// IsStockSource reports whether the image URL or the origin site belongs to
// a stock photo host. origin may be a bare host ("www.alamy.com").
func IsStockSource(imageURL, origin string) bool {
	for _, host := range []string{hostOf(imageURL), strings.ToLower(origin)} {
		if host == "" {
			continue
		}
		for _, d := range StockDomains {
			if strings.Contains(host, d) {
				return true
			}
		}
	}
	return false
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// IsStockByMetadata reports whether the image metadata contains fingerprints
// of a known stock-photo agency (case-insensitive substring match).
func IsStockByMetadata(meta *ImageMetadata) bool {
	if meta == nil {
		return false
	}
	for _, f := range meta.fields() {
		if f == "" {
			continue
		}
		lower := strings.ToLower(f)
		for _, kw := range stockMetadataKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}
