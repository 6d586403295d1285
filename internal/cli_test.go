package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFlags(t *testing.T, args ...string) error {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return ParseArgs()
}

func TestParseArgsDefaults(t *testing.T) {
	require.NoError(t, parseFlags(t))
	assert.Equal(t, SignallerWS, SignallerName)
	assert.Equal(t, "ws://127.0.0.1:8443", SignallerURL)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, STUNServers)
	assert.Equal(t, 5*time.Second, SnapshotInterval)
	assert.False(t, AutoStart)
}

func TestParseArgsValidation(t *testing.T) {
	replay := filepath.Join(t.TempDir(), "in.webm")
	require.NoError(t, os.WriteFile(replay, []byte{0x1A}, 0o644))

	cases := []struct {
		name string
		args []string
		err  string
	}{
		{"whep", []string{"-s", "WHEP", "-u", "https://example.org/whep"}, ""},
		{"unknown signaller", []string{"-s", "sip"}, "unsupported signaller"},
		{"ws needs ws url", []string{"-u", "http://example.org"}, "ws:// or wss://"},
		{"whep needs http url", []string{"-s", "whep", "-u", "ws://example.org"}, "http:// or https://"},
		{"replay skips url", []string{"-r", replay, "-u", "nonsense"}, ""},
		{"missing replay", []string{"-r", filepath.Join(t.TempDir(), "none.webm")}, "--replay"},
		{"audio output", []string{"--audio-output", "alsa"}, "unsupported audio output"},
		{"negative size", []string{"--max-width=-1"}, "must not be negative"},
		{"snapshot interval", []string{"--snapshot", "out.png", "--snapshot-interval", "0s"}, "--snapshot-interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := parseFlags(t, tc.args...)
			if tc.err == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.err)
		})
	}
}

func TestElementOptions(t *testing.T) {
	require.NoError(t, parseFlags(t, "--max-width", "640", "--max-height", "360", "--audio-output", "none"))
	opts := ElementOptions()
	assert.Equal(t, 640, opts.MaxWidth)
	assert.Equal(t, 360, opts.MaxHeight)
	assert.Equal(t, "none", opts.AudioOutput)
}
