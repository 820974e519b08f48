// internal/utils/utils_test.go
package utils

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewLogger(&buf, WARNING)

	l.Info("hidden", nil)
	l.Warn("shown", map[string]interface{}{"b": 2, "a": 1})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARNING]")
	assert.Contains(t, out, "shown | a=1 b=2")
	assert.Contains(t, out, "utils_test.go")
	assert.False(t, l.IsDebug())

	l.SetLogLevel(DEBUG)
	assert.True(t, l.IsDebug())
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARNING, ParseLogLevel(" WARN "))
	assert.Equal(t, ERROR, ParseLogLevel("error"))
	assert.Equal(t, INFO, ParseLogLevel("nonsense"))
}

func TestMetricsConcurrentCounters(t *testing.T) {
	t.Parallel()

	m := NewMetricsCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.RecordHistogram("lat", 10)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.GetCounterValue("hits"))
	hist := m.GetMetrics()["histograms"].(map[string]map[string]int64)["lat"]
	assert.Equal(t, int64(50), hist["count"])
	assert.Equal(t, int64(10), hist["max"])
}

func TestRelayMetricsGauges(t *testing.T) {
	t.Parallel()

	rm := NewRelayMetricsWith(NewMetricsCollector())
	rm.InFlight("ollama", 1)
	rm.InFlight("ollama", 1)
	rm.InFlight("ollama", -1)
	rm.RecordSessionOp("retry", errors.New("boom"))

	c := rm.Collector()
	assert.Equal(t, int64(1), c.GetGauge("llm_in_flight_ollama"))
	assert.Equal(t, int64(1), c.GetCounterValue("session_ops_failed_retry"))
}

func TestRevealSecret(t *testing.T) {
	t.Parallel()

	plain, err := RevealSecret("plain-token", "")
	require.NoError(t, err)
	assert.Equal(t, "plain-token", plain)

	ct, err := Encrypt("s3cret", "k")
	require.NoError(t, err)

	got, err := RevealSecret(EncryptedPrefix+ct, "k")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	_, err = RevealSecret(EncryptedPrefix+ct, "")
	assert.Error(t, err)
	_, err = RevealSecret(EncryptedPrefix+ct, "other")
	assert.Error(t, err)
}
