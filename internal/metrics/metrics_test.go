package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObservePage(t *testing.T) {
	m := New()
	m.ObservePage("committed", "2xx", 512)
	m.ObservePage("failed", "", 0)

	if val := testutil.ToFloat64(m.pagesTotal.WithLabelValues("committed", "2xx")); val != 1 {
		t.Errorf("expected one committed page, got %f", val)
	}
	if val := testutil.ToFloat64(m.pagesTotal.WithLabelValues("failed", "none")); val != 1 {
		t.Errorf("expected one failed page, got %f", val)
	}
	if val := testutil.ToFloat64(m.bytesTotal); val != 512 {
		t.Errorf("expected 512 bytes, got %f", val)
	}
}

func TestObserveRecordsSkipsZeroes(t *testing.T) {
	m := New()
	m.ObserveRecords(3, 1, 0, 0)

	require.Equal(t, 3.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("inserted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("duplicate")))
	require.Equal(t, 2, testutil.CollectAndCount(m.recordsTotal))
}

func TestRunAndGauges(t *testing.T) {
	m := New()
	m.ObserveRun("completed", 3*time.Second)
	m.SetCheckpoint(41)
	m.SetWindow(10)
	m.ObservePacing(250 * time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("completed")))
	require.Equal(t, 41.0, testutil.ToFloat64(m.checkpointPage))
	require.Equal(t, 10.0, testutil.ToFloat64(m.windowPages))
	require.Equal(t, 1, testutil.CollectAndCount(m.pacingDelaySeconds))
}

func TestInstancesAreIndependent(t *testing.T) {
	a := New()
	b := New()
	a.SetCheckpoint(7)
	require.Zero(t, testutil.ToFloat64(b.checkpointPage))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.SetCheckpoint(12)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "harvester_checkpoint_page 12")
}

func TestPushSendsToGateway(t *testing.T) {
	var gotPath, gotBody string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	m := New()
	m.SetCheckpoint(3)
	require.NoError(t, m.Push(context.Background(), gw.URL, "harvest"))
	require.True(t, strings.HasPrefix(gotPath, "/metrics/job/harvest"), gotPath)
	require.NotEmpty(t, gotBody)
}

func TestPushDisabledWithoutURL(t *testing.T) {
	require.NoError(t, New().Push(context.Background(), "", ""))
}
