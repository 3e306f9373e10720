package sizefmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHumanReadable(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"just under a kilobyte", 1023, "1023 B"},
		{"one kilobyte", 1024, "1 KB"},
		{"just over a kilobyte", 1025, "1 KB"},
		{"one and a half kilobytes", 1536, "1.5 KB"},
		{"fractional megabytes", 1024 * 1024 * 1008 / 10, "100.8 MB"},
		{"one gigabyte", 1 << 30, "1 GB"},
		{"terabytes stay in gigabytes", 2 << 40, "2048 GB"},
		{"negative", -1536, "-1.5 KB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HumanReadable(tt.in))
		})
	}
}
