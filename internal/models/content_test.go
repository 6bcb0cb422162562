package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLegacyContent(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantItems []string
		wantMemo  string
	}{
		{
			name:      "items and memo",
			content:   "[items]\nmeal, bath ,  walk\n[memo]\nslept well\nate all lunch",
			wantItems: []string{"meal", "bath", "walk"},
			wantMemo:  "slept well\nate all lunch",
		},
		{
			name:      "items only",
			content:   "[items]\nmeal,,medication",
			wantItems: []string{"meal", "medication"},
			wantMemo:  "",
		},
		{
			name:     "memo only",
			content:  "[memo]\n  quiet day  ",
			wantMemo: "quiet day",
		},
		{
			name:     "no markers is memo",
			content:  "  plain text log ",
			wantMemo: "plain text log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, memo := ParseLegacyContent(tt.content)
			assert.Equal(t, tt.wantItems, items)
			assert.Equal(t, tt.wantMemo, memo)
		})
	}
}

func TestNormalizeItems(t *testing.T) {
	assert.Equal(t, []string{"meal", "bath"}, NormalizeItems([]string{" meal", "", "bath", "meal "}))
	assert.Equal(t, []string{}, NormalizeItems(nil))
}
