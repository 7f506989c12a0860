package models

import (
	"hash/fnv"
	"regexp"
)

// DefaultPalette is used when a user joins without picking a color.
var DefaultPalette = []string{
	"#FF5733", "#33FF57", "#3357FF", "#FF33A6", "#33FFF5",
	"#F5FF33", "#C70039", "#900C3F", "#FFC300", "#00FFFF",
}

var colorPattern = regexp.MustCompile(`^(#[0-9a-fA-F]{3}|#[0-9a-fA-F]{6}|#[0-9a-fA-F]{8}|[a-zA-Z]{3,20}|(rgb|rgba|hsl|hsla)\([0-9., %]{1,40}\))$`)

// ValidColor reports whether c is a color token safe to hand to clients.
func ValidColor(c string) bool {
	return len(c) <= 64 && colorPattern.MatchString(c)
}

// ColorFor picks a stable palette color for an address.
func ColorFor(address string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(NormalizeAddress(address)))
	return DefaultPalette[h.Sum32()%uint32(len(DefaultPalette))]
}
