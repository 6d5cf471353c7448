package listing

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const itemPathMarker = "/item/"

// ItemIDFromURL derives the stable listing id: the path segment after /item/
// when present, otherwise the first 10 hex chars of the URL's MD5.
func ItemIDFromURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return ""
	}

	if idx := strings.Index(trimmed, itemPathMarker); idx >= 0 {
		rest := trimmed[idx+len(itemPathMarker):]
		if cut := strings.IndexAny(rest, "/?#"); cut >= 0 {
			rest = rest[:cut]
		}
		if rest != "" {
			return rest
		}
	}

	sum := md5.Sum([]byte(trimmed))
	return hex.EncodeToString(sum[:])[:10]
}
