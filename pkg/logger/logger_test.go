package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestResolveLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		conf Config
		want zerolog.Level
	}{
		{Config{}, zerolog.InfoLevel},
		{Config{Debug: true}, zerolog.DebugLevel},
		{Config{Debug: true, Level: "warn"}, zerolog.WarnLevel},
		{Config{Level: "ERROR"}, zerolog.ErrorLevel},
		{Config{Level: "nonsense"}, zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := resolveLevel(&tc.conf); got != tc.want {
			t.Fatalf("resolveLevel(%+v) = %v, want %v", tc.conf, got, tc.want)
		}
	}
}

// Mutates the global logger, so not parallel.
func TestInitWriterAddsServiceField(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	InitWriter(&buf, Config{Service: "aba-test"})
	log.Info().Msg("hello")
	log.Debug().Msg("hidden")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["service"] != "aba-test" || entry["message"] != "hello" {
		t.Fatalf("entry = %#v", entry)
	}
}
