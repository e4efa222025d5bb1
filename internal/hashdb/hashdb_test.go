package hashdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/proverctl/internal/rpcserve"
	"github.com/danmuck/proverctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestSetReturnsFixedResponse(t *testing.T) {
	testlog.Start(t)
	svc := NewService()
	a, err := svc.Set(context.Background(), &SetRequest{Value: "1", Key: &Fea{Fe0: 9}, Tx: 4})
	require.NoError(t, err)
	b, err := svc.Set(context.Background(), &SetRequest{})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, &Fea{}, a.NewRoot)
	require.Nil(t, a.OldRoot)
	require.Empty(t, a.Siblings)
	require.Zero(t, a.ProofHashCounter)
}

func newRouter() http.Handler {
	s := rpcserve.Appear("hashdb", "127.0.0.1:0")
	s.Register(NewService())
	return s.Handler()
}

func post(h http.Handler, method, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/"+ServiceName+"/"+method, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	testlog.Start(t)
	h := newRouter()

	rec := post(h, "Set", `{"old_root":{"fe0":1,"fe1":2,"fe2":3,"fe3":4},"value":"ff"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	first := rec.Body.String()
	require.Contains(t, first, `"new_root":{"fe0":0,"fe1":0,"fe2":0,"fe3":0}`)
	require.Equal(t, first, post(h, "Set", `{}`).Body.String())

	rec = post(h, "StartBlock", `{"batch_uuid":"b"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{}`, rec.Body.String())

	for _, name := range unimplemented {
		rec := post(h, name, `{}`)
		require.Equal(t, http.StatusNotImplemented, rec.Code, name)
		require.Contains(t, rec.Body.String(), rpcserve.CodeUnimplemented)
	}

	rec = post(h, "Set", `{"value":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
