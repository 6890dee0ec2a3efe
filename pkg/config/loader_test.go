package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpiry(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"15m", 15 * time.Minute},
		{"24h", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"1.5d", 36 * time.Hour},
		{" 30m ", 30 * time.Minute},
	}

	for _, tc := range cases {
		got, err := ParseExpiry(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestParseExpiry_Invalid(t *testing.T) {
	for _, in := range []string{"", "7x", "d", "seven days"} {
		_, err := ParseExpiry(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestLoad(t *testing.T) {
	type cfg struct {
		Port  int      `env:"TEST_LOADER_PORT" envDefault:"8080"`
		Names []string `env:"TEST_LOADER_NAMES" envSeparator:","`
	}

	t.Setenv("TEST_LOADER_NAMES", "a,b")

	var c cfg
	require.NoError(t, Load(&c))
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, []string{"a", "b"}, c.Names)
}
