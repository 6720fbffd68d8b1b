package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	result Result
}

func (s stubChecker) Check(ctx context.Context) Result { return s.result }
func (s stubChecker) Type() CheckType                  { return CheckTypeHTTP }

func TestReporterHealthyWhenAllCheckersHealthy(t *testing.T) {
	r := NewReporter(0)
	r.Register("quotaholder", stubChecker{result: Result{Healthy: true}})
	r.Register("nodestore", stubChecker{result: Result{Healthy: true}})

	rep := r.Check(context.Background())
	require.True(t, rep.Healthy)
	require.Len(t, rep.Checks, 2)
}

func TestReporterUnhealthyWhenAnyCheckerUnhealthy(t *testing.T) {
	r := NewReporter(0)
	r.Register("quotaholder", stubChecker{result: Result{Healthy: true}})
	r.Register("nodestore", stubChecker{result: Result{Healthy: false, Message: "bbolt unreachable"}})

	rep := r.Check(context.Background())
	require.False(t, rep.Healthy)
}

func TestReporterServeHTTPStatusCode(t *testing.T) {
	r := NewReporter(0)
	r.Register("quotaholder", stubChecker{result: Result{Healthy: false}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.False(t, body.Healthy)
}

func TestReporterServeHTTPHealthy(t *testing.T) {
	r := NewReporter(0)
	r.Register("quotaholder", stubChecker{result: Result{Healthy: true}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestReporterRespectsPerCheckTimeout(t *testing.T) {
	r := NewReporter(10 * time.Millisecond)
	r.Register("slow", slowChecker{})

	start := time.Now()
	rep := r.Check(context.Background())
	require.Less(t, time.Since(start), time.Second)
	require.False(t, rep.Healthy)
}

type slowChecker struct{}

func (slowChecker) Check(ctx context.Context) Result {
	<-ctx.Done()
	return Result{Healthy: false, Message: ctx.Err().Error()}
}
func (slowChecker) Type() CheckType { return CheckTypeTCP }
