package models

import "strings"

const (
	legacyItemsMarker = "[items]"
	legacyMemoMarker  = "[memo]"
)

// ParseLegacyContent splits the old single-field log encoding
//
//	[items]
//	meal, bath
//	[memo]
//	free text
//
// into performed items and memo. Content without markers is treated as memo.
func ParseLegacyContent(content string) (items []string, memo string) {
	if !strings.Contains(content, legacyItemsMarker) && !strings.Contains(content, legacyMemoMarker) {
		return nil, strings.TrimSpace(content)
	}

	section := ""
	var memoLines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case legacyItemsMarker:
			section = "items"
			continue
		case legacyMemoMarker:
			section = "memo"
			continue
		}
		switch section {
		case "items":
			for _, item := range strings.Split(trimmed, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
		case "memo":
			memoLines = append(memoLines, line)
		}
	}
	return items, strings.TrimSpace(strings.Join(memoLines, "\n"))
}

// NormalizeItems trims, drops empties and de-duplicates performed item tags, keeping order.
func NormalizeItems(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
