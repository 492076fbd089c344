package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/reconcile"
)

var _ executor.Recorder = (*Recorder)(nil)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.StepPlaced()
	r.StepPlaced()
	r.StepSkipped()
	r.Stalled("tools")
	r.Crafted("fence", 2)
	r.Crafted("fence", 1)
	r.BehaviorRan(executor.BehaviorAdvance)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.steps.WithLabelValues("placed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stalls.WithLabelValues("tools")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.crafts.WithLabelValues("fence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.behaviors.WithLabelValues(executor.BehaviorAdvance)))
}

func TestObserveReconcile(t *testing.T) {
	r := NewRecorder()
	r.ObserveReconcile(reconcile.Report{Restored: 2, Completed: 1, Pending: 4, Finished: []geom.Vec3i{{}}})
	r.ObserveReconcile(reconcile.Report{Pending: 3})

	assert.Equal(t, 3.0, testutil.ToFloat64(r.pending))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.reconciled.WithLabelValues("restored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconciled.WithLabelValues("completed")))
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRecorder()
	r.SetTick(77)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "settlement_tick 77")
	assert.Contains(t, string(body), "go_goroutines")
}
