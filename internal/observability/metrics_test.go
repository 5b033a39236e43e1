package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordDecision(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.Decisions.WithLabelValues("1", "buy"))
	stopsBefore := testutil.ToFloat64(DefaultMetrics.StrategyStops)

	RecordDecision("1", "buy", true)

	require.Equal(t, before+1, testutil.ToFloat64(DefaultMetrics.Decisions.WithLabelValues("1", "buy")))
	require.Equal(t, stopsBefore+1, testutil.ToFloat64(DefaultMetrics.StrategyStops))
}

func TestRecordQuote(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.QuoteCalls.WithLabelValues("error"))
	RecordQuote(0.01, errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(DefaultMetrics.QuoteCalls.WithLabelValues("error")))
}

func TestHandler(t *testing.T) {
	RecordSolve("gradual", 12, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "dca_bot_solver_runs_total")
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	a := NewMetrics("a")
	b := NewMetrics("a")
	require.NotSame(t, a.Registry(), b.Registry())
}
