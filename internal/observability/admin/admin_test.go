package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftwatch/internal/storage"
	"nftwatch/internal/watcher"
	logx "nftwatch/pkg/logx"
)

type fakeWatcher struct {
	running bool
	offset  int64
}

func (w *fakeWatcher) Start(context.Context) error {
	if w.running {
		return watcher.ErrAlreadyRunning
	}
	w.running = true
	return nil
}

func (w *fakeWatcher) Stop(context.Context) error {
	if !w.running {
		return watcher.ErrNotRunning
	}
	w.running = false
	return nil
}

func (w *fakeWatcher) Status() watcher.Status {
	return watcher.Status{Running: w.running, Offset: w.offset}
}

type fakeJournal struct {
	gotLimit int
	recs     []storage.DeliveryRecord
	err      error
}

func (j *fakeJournal) RecentDeliveries(_ context.Context, limit int) ([]storage.DeliveryRecord, error) {
	j.gotLimit = limit
	return j.recs, j.err
}

func do(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTokenGuardsEverythingButHealthz(t *testing.T) {
	h := Routes(Config{Token: "s3cret"}, Deps{Watcher: &fakeWatcher{}}, logx.Nop())

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	rec := do(t, h, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/status", "nope").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/status", "s3cret").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/status?token=s3cret", "").Code)
}

func TestStartStopLifecycle(t *testing.T) {
	w := &fakeWatcher{offset: 42}
	h := Routes(Config{}, Deps{Watcher: w}, logx.Nop())

	rec := do(t, h, http.MethodPost, "/watcher/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st watcher.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.Equal(t, int64(42), st.Offset)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/watcher/start", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/watcher/stop", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/watcher/stop", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/watcher/stop", "").Code)
}

func TestDeliveries(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &fakeJournal{recs: []storage.DeliveryRecord{{ID: "d1", ItemID: "0:a", Tag: "0:a_11", Power: 120, At: at, OK: true}}}
	h := Routes(Config{}, Deps{Watcher: &fakeWatcher{}, Journal: j}, logx.Nop())

	rec := do(t, h, http.MethodGet, "/deliveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultDeliveriesLimit, j.gotLimit)
	var got []storage.DeliveryRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, j.recs, got)

	do(t, h, http.MethodGet, "/deliveries?limit=5000", "")
	assert.Equal(t, maxDeliveriesLimit, j.gotLimit)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/deliveries?limit=-1", "").Code)

	j.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/deliveries", "").Code)
}

func TestDeliveriesWithoutJournal(t *testing.T) {
	h := Routes(Config{}, Deps{Watcher: &fakeWatcher{}}, logx.Nop())
	rec := do(t, h, http.MethodGet, "/deliveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHealthzMergesComponents(t *testing.T) {
	h := Routes(Config{}, Deps{Watcher: &fakeWatcher{}, Health: func() map[string]any {
		return map[string]any{"watcher": "running"}
	}}, logx.Nop())
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.JSONEq(t, `{"ok":true,"watcher":"running"}`, rec.Body.String())
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	off := Routes(Config{}, Deps{Watcher: &fakeWatcher{}}, logx.Nop())
	assert.Equal(t, http.StatusNotFound, do(t, off, http.MethodGet, "/debug/pprof/", "").Code)

	on := Routes(Config{Pprof: true}, Deps{Watcher: &fakeWatcher{}}, logx.Nop())
	assert.Equal(t, http.StatusOK, do(t, on, http.MethodGet, "/debug/pprof/", "").Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:8090": true,
		"localhost:1":    true,
		"[::1]:8090":     true,
		":8090":          false,
		"0.0.0.0:8090":   false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	} {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

func TestServiceServesAndStops(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Watcher: &fakeWatcher{}}, logx.Nop())
	s.Start(context.Background())

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Empty(t, s.Addr())
}

func TestServiceRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{Watcher: &fakeWatcher{}}, logx.Nop())
	err := s.serveOnce(context.Background())
	require.ErrorIs(t, err, ErrInsecureBind)
}

func TestStatusIncludesSupervisorsAndEvents(t *testing.T) {
	h := Routes(Config{}, Deps{
		Watcher: &fakeWatcher{running: true, offset: 7},
		Events:  func() map[string]uint64 { return map[string]uint64{"item.delivered": 3} },
	}, logx.Nop())

	rec := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Watcher watcher.Status    `json:"watcher"`
		Events  map[string]uint64 `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Watcher.Running)
	assert.Equal(t, int64(7), body.Watcher.Offset)
	assert.Equal(t, uint64(3), body.Events["item.delivered"])
}
