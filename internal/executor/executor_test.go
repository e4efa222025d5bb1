package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/proverctl/internal/rpcserve"
	"github.com/danmuck/proverctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestEveryMethodFaults(t *testing.T) {
	testlog.Start(t)
	svc := NewService()
	require.Len(t, svc.Methods(), 3)
	for name, m := range svc.Methods() {
		_, err := m(context.Background(), []byte(`{"batch_l2_data":"0x"}`))
		require.ErrorIs(t, err, rpcserve.ErrNotImplemented, name)
	}
}

func TestRoutesReturnUnimplemented(t *testing.T) {
	testlog.Start(t)
	s := rpcserve.Appear("executor", "127.0.0.1:0")
	s.Register(NewService())
	for _, name := range methods {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/"+ServiceName+"/"+name, strings.NewReader(`{}`)))
		require.Equal(t, http.StatusNotImplemented, rec.Code)
		var body rpcserve.ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, rpcserve.CodeUnimplemented, body.Code)
		require.Contains(t, body.Message, name)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
