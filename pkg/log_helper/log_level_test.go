package log_helper

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevelFromString(t *testing.T) {
	originalLevel := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(originalLevel)

	testCases := []struct {
		input    string
		expected zerolog.Level
	}{
		{"error", zerolog.ErrorLevel},
		{"warning", zerolog.WarnLevel},
		{"info", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			SetLogLevelFromString(tc.input)
			require.Equal(t, tc.expected, zerolog.GlobalLevel())
		})
	}
}

func TestSetLogLevelFromStringFallsBackToInfo(t *testing.T) {
	originalLogger := log.Logger
	originalLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = originalLogger
		zerolog.SetGlobalLevel(originalLevel)
	}()

	for _, input := range []string{"", "INFO", "trace", "infoo"} {
		t.Run("input_"+input, func(t *testing.T) {
			var buf bytes.Buffer
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
			log.Logger = zerolog.New(&buf)

			SetLogLevelFromString(input)

			require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
			require.Contains(t, buf.String(), "unexpected log_level="+input+", will apply `info`")
		})
	}
}
