package imagepick

import "strings"

// WatermarkExclusions are appended to the query when watermark suppression is on.
var WatermarkExclusions = []string{
	"-watermark",
	`-"stock photo"`,
	"-shutterstock",
	"-getty",
	"-istockphoto",
	"-alamy",
}

// BuildQuery returns the query text sent to the search provider.
// With excludeWatermark the fixed negative terms are appended.
func BuildQuery(keyword string, excludeWatermark bool) string {
	keyword = strings.TrimSpace(keyword)
	if !excludeWatermark || keyword == "" {
		return keyword
	}
	return keyword + " " + strings.Join(WatermarkExclusions, " ")
}
