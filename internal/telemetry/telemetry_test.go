package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/emarzona/backend/internal/models"
)

func newManualMeter(t *testing.T) (*metric.ManualReader, *metric.MeterProvider) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

// sumOf returns the value of counter name for the data point carrying attr.
func sumOf(t *testing.T, reader *metric.ManualReader, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr.Key); ok && v.Emit() == attr.Value.Emit() {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestParseExporter(t *testing.T) {
	tests := map[string]Exporter{
		"":           ExporterPrometheus,
		"scraper":    ExporterPrometheus,
		"Prometheus": ExporterPrometheus,
		"grpc":       ExporterGRPC,
		"none":       ExporterNone,
	}
	for in, want := range tests {
		got, err := ParseExporter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseExporter("statsd")
	assert.Error(t, err)
}

func TestSyncMetrics_RecordAction(t *testing.T) {
	reader, mp := newManualMeter(t)
	m, err := NewSyncMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordAction(ctx, models.ActionAddToCart, OutcomeApplied)
	m.RecordAction(ctx, models.ActionAddToCart, OutcomeApplied)
	m.RecordAction(ctx, models.ActionCreateOrder, OutcomeDuplicate)

	assert.EqualValues(t, 2, sumOf(t, reader, "sync_actions_total", attribute.String("outcome", OutcomeApplied)))
	assert.EqualValues(t, 1, sumOf(t, reader, "sync_actions_total", attribute.String("outcome", OutcomeDuplicate)))
}

func TestSyncMetrics_RecordClientSync(t *testing.T) {
	reader, mp := newManualMeter(t)
	m, err := NewSyncMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordClientSync(ctx, models.SyncResult{Success: true, Synced: 3})
	m.RecordClientSync(ctx, models.SyncResult{Synced: 1, Failed: 1})
	m.RecordClientSync(ctx, models.SyncResult{AuthRequired: true, BatchError: "x"})
	m.RecordClientSync(ctx, models.SyncResult{Skipped: models.SkipOffline})

	assert.EqualValues(t, 1, sumOf(t, reader, "sync_client_attempts_total", attribute.String("outcome", "success")))
	assert.EqualValues(t, 1, sumOf(t, reader, "sync_client_attempts_total", attribute.String("outcome", "partial")))
	assert.EqualValues(t, 1, sumOf(t, reader, "sync_client_attempts_total", attribute.String("outcome", "auth_required")))
	assert.EqualValues(t, 1, sumOf(t, reader, "sync_client_attempts_total", attribute.String("outcome", "skipped_offline")))
	assert.EqualValues(t, 4, sumOf(t, reader, "sync_client_actions_total", attribute.String("outcome", "synced")))
}

func TestSyncMetrics_nilIsNoop(t *testing.T) {
	var m *SyncMetrics
	m.RecordAction(context.Background(), models.ActionAddToCart, OutcomeApplied)
	m.RecordBatch(context.Background(), 3, time.Second)
	m.RecordClientSync(context.Background(), models.SyncResult{})
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	reader, mp := newManualMeter(t)
	hm, err := NewHTTPMetrics(mp.Meter("test"))
	require.NoError(t, err)

	router := mux.NewRouter()
	router.Use(hm.Middleware)
	router.HandleFunc("/api/actions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	for _, id := range []string{"a", "b"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/actions/"+id, nil))
	}

	assert.EqualValues(t, 2, sumOf(t, reader, "http_requests_total", attribute.String("endpoint", "/api/actions/{id}")))
	assert.EqualValues(t, 2, sumOf(t, reader, "http_requests_total", attribute.Int("status_code", http.StatusNotFound)))
}

func TestSetup_prometheusHandler(t *testing.T) {
	p, err := Setup(context.Background(), ExporterPrometheus)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	m, err := NewSyncMetrics(p.Meter("emarzona-test"))
	require.NoError(t, err)
	m.RecordAction(context.Background(), models.ActionCreateStore, OutcomeRejected)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "sync_actions_total")
	assert.Contains(t, string(body), `action_type="create_store"`)
}

func TestSetup_noneHasNoScrapeEndpoint(t *testing.T) {
	p, err := Setup(context.Background(), ExporterNone)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	w := httptest.NewRecorder()
	p.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
