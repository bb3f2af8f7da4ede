package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `[{"a":1}]`, `[{"a":1}]`},
		{"fenced", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"bare fence", "```\n[]\n```", `[]`},
		{"chatter", "Here you go:\n[1, 2]\nHope it helps.", `[1, 2]`},
		{"no array", "nothing", "nothing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.raw))
		})
	}
}
