// File: config/config_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, runtime.NumCPU(), cfg.Workers)
	require.Equal(t, Backend(BackendAuto), cfg.IOBackend)
	require.Equal(t, uint32(DefaultRingEntries), cfg.RingEntries)
	require.Equal(t, DefaultEventInterval, cfg.EventInterval)
	require.True(t, cfg.Pinning)
	require.NoError(t, cfg.Validate())
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(strings.TrimSpace(`
workers: 2
pin_mapping: [0, 0]
io_backend: poll
event_interval: 16
grace_period: 1s
log_level: debug
`)))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, BackendPoll, cfg.IOBackend)
	require.Equal(t, 16, cfg.EventInterval)
	require.Equal(t, time.Second, cfg.GracePeriod)
	require.Equal(t, 0, cfg.CPUFor(1))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.RingEntries = MaxRingEntries + 1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.IOBackend = "kqueue"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Workers = 2
	cfg.PinMapping = []int{0}
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Workers = 1
	cfg.PinMapping = []int{runtime.NumCPU()}
	require.Error(t, cfg.Validate())
}

func TestLoggerWritesJSONLines(t *testing.T) {
	var sb strings.Builder
	log := NewLogger(&sb, "info")
	log.Info().Str("component", "test").Log("hello")
	out := sb.String()
	require.True(t, strings.HasSuffix(out, "}\n"), "got %q", out)
	require.Contains(t, out, `"component":"test"`)
	require.Contains(t, out, `"msg":"hello"`)

	sb.Reset()
	log = NewLogger(&sb, "off")
	log.Info().Log("silent")
	require.Empty(t, sb.String())
}
