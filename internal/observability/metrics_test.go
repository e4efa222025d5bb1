package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/proverctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("admin", "GET", "/health", 200, 12*time.Millisecond)
	RecordRPC("hashdb.v1.HashDBService", "Set", "ok")
	RecordMalformed()
	RecordSent("GetStatusResponse")
	RecordOutboundDropped()
	SetOutboundDepth(3)
	SetConnected(true)

	before := testutil.ToFloat64(dispatched.WithLabelValues("GetProofRequest", OutcomeMismatch))
	RecordDispatch("GetProofRequest", OutcomeMismatch)
	require.Equal(t, before+1, testutil.ToFloat64(dispatched.WithLabelValues("GetProofRequest", OutcomeMismatch)))
	require.Equal(t, float64(3), testutil.ToFloat64(outboundDepth))
	require.Equal(t, float64(1), testutil.ToFloat64(connected))
}

func TestMiddlewareRecordsRoute(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestObserver("test", zerolog.Nop()))
	r.GET("/ping/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	for _, path := range []string{"/ping/a", "/ping/b", "/nope/1", "/nope/2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}
	require.Equal(t, float64(2), testutil.ToFloat64(httpRequests.WithLabelValues("test", "GET", "/ping/:id", "418")))
	require.Equal(t, float64(2), testutil.ToFloat64(httpRequests.WithLabelValues("test", "GET", unmatchedPath, "404")))
}
