package gmail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		doneLabel string
		want      string
	}{
		{
			name: "empty everything",
			want: "",
		},
		{
			name: "base only",
			base: "newer_than:1y",
			want: "newer_than:1y",
		},
		{
			name:      "done label only",
			doneLabel: "Downloaded",
			want:      "-label:Downloaded",
		},
		{
			name:      "base and done label",
			base:      "newer_than:1y",
			doneLabel: "Downloaded",
			want:      "newer_than:1y -label:Downloaded",
		},
		{
			name:      "done label with spaces is quoted",
			base:      "newer_than:1y",
			doneLabel: "Done Reading",
			want:      `newer_than:1y -label:"Done Reading"`,
		},
		{
			name:      "quoted label without base",
			doneLabel: "Done Reading",
			want:      `-label:"Done Reading"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.base, tt.doneLabel))
		})
	}
}
