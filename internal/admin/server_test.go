package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memebot/internal/storage"
	logx "memebot/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeAudit struct {
	entries []storage.AuditEntry
	err     error
	lastN   int
}

func (f *fakeAudit) RecentAudit(_ context.Context, n int) ([]storage.AuditEntry, error) {
	f.lastN = n
	return f.entries, f.err
}

func do(t *testing.T, h http.Handler, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusAndHealth(t *testing.T) {
	status := func(context.Context) any { return map[string]any{"cycle_id": 4, "live_entries": 7} }
	s := New(Config{}, status, nil, logx.Nop())
	r := s.Router()

	w := do(t, r, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 4, body["cycle_id"])
	assert.Equal(t, 7, body["live_entries"])

	w = do(t, r, "/api/audit", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTokenGuardsAPI(t *testing.T) {
	s := New(Config{Token: "sekret"}, func(context.Context) any { return gin.H{} }, nil, logx.Nop())
	r := s.Router()

	assert.Equal(t, http.StatusOK, do(t, r, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, r, "/api/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, r, "/api/status", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, do(t, r, "/api/status", "Bearer sekret").Code)
}

func TestAuditEndpoint(t *testing.T) {
	fa := &fakeAudit{entries: []storage.AuditEntry{{Kind: storage.KindCycle, CycleID: 2, OK: 9}}}
	r := New(Config{}, nil, fa, logx.Nop()).Router()

	w := do(t, r, "/api/audit?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, fa.lastN)
	var got []storage.AuditEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].CycleID)

	assert.Equal(t, http.StatusBadRequest, do(t, r, "/api/audit?limit=0", "").Code)

	fa.err = errors.New("disk")
	assert.Equal(t, http.StatusInternalServerError, do(t, r, "/api/audit", "").Code)
}

func TestStartStop(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Stop(ctx))
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	off := New(Config{}, nil, nil, logx.Nop()).Router()
	assert.Equal(t, http.StatusNotFound, do(t, off, "/debug/pprof/", "").Code)

	on := New(Config{Pprof: true, Token: "sekret"}, nil, nil, logx.Nop()).Router()
	assert.Equal(t, http.StatusUnauthorized, do(t, on, "/debug/pprof/", "").Code)
	assert.Equal(t, http.StatusOK, do(t, on, "/debug/pprof/", "Bearer sekret").Code)
	assert.Equal(t, http.StatusOK, do(t, on, "/debug/pprof/goroutine?debug=1", "Bearer sekret").Code)
}
