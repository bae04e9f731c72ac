package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEventTracksPeers(t *testing.T) {
	m := NewMetrics("zyre", prometheus.NewRegistry())

	m.RecordEvent("ENTER")
	m.RecordEvent("ENTER")
	m.RecordEvent("EXIT")
	m.RecordEvent("SHOUT")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Peers))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("ENTER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("SHOUT")))
}

func TestRecordSendAndStart(t *testing.T) {
	m := NewMetrics("zyre", nil)

	m.RecordSend("whisper", 2, true)
	m.RecordSend("shout", 1, false)
	m.RecordStart(false)
	m.RecordStart(true)
	m.RecordRawReceive("WHISPER")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("whisper", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("shout", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeStarts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeStarts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RawMessagesReceived))
}

func TestMetricsServerEndpoints(t *testing.T) {
	m := NewMetrics("zyre", prometheus.NewRegistry())
	m.RecordEvent("JOIN")
	srv := NewMetricsServer(":0", m)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `zyre_events_received_total{type="JOIN"} 1`))
}

func TestRecordRawReceiveTracksPeers(t *testing.T) {
	m := NewMetrics("zyre", prometheus.NewRegistry())

	m.RecordRawReceive("ENTER")
	m.RecordRawReceive("ENTER")
	m.RecordEvent("EXIT")
	m.RecordRawReceive("WHISPER")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Peers))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RawMessagesReceived))
}
