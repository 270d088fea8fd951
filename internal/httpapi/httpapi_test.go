package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loggerbot/internal/delivery"
	"loggerbot/internal/format"
	"loggerbot/internal/reporter"
	"loggerbot/internal/storage"
	logx "loggerbot/pkg/logx"
)

type fakeReporter struct {
	mu      sync.Mutex
	entries []reporter.Entry
	ctxErr  []error
	err     error
}

func (f *fakeReporter) Log(ctx context.Context, e reporter.Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.entries = append(f.entries, e)
	f.ctxErr = append(f.ctxErr, ctx.Err())
	return fmt.Sprintf("id-%d", len(f.entries)), nil
}

type memStore struct{ recs []storage.Record }

func (m *memStore) AppendDelivery(context.Context, storage.Record) error { return nil }
func (m *memStore) Recent(_ context.Context, limit int) ([]storage.Record, error) {
	if limit > len(m.recs) {
		limit = len(m.recs)
	}
	return m.recs[:limit], nil
}
func (m *memStore) Prune(context.Context, time.Time) (int, error) { return 0, nil }
func (m *memStore) Close() error                                  { return nil }

func newTestService(cfg Config, deps Deps) (*Service, http.Handler) {
	s := New(cfg, deps, logx.Nop())
	return s, s.router(cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPostLogAccepted(t *testing.T) {
	rep := &fakeReporter{}
	_, h := newTestService(Config{}, Deps{Reporter: rep})

	rr := do(t, h, http.MethodPost, "/v1/logs", `{"project":"shop","level":"warning","text":"disk 91%"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "id-1", resp["id"])

	require.Len(t, rep.entries, 1)
	assert.Equal(t, reporter.Entry{Project: "shop", Level: format.LevelWarning, Text: "disk 91%"}, rep.entries[0])
	assert.NoError(t, rep.ctxErr[0])
}

func TestPostLogAttachment(t *testing.T) {
	rep := &fakeReporter{}
	_, h := newTestService(Config{}, Deps{Reporter: rep})

	body := fmt.Sprintf(`{"level":"error","text":"boom","attachment_name":"trace.json","attachment_base64":%q}`,
		base64.StdEncoding.EncodeToString([]byte(`{"a":1}`)))
	rr := do(t, h, http.MethodPost, "/v1/logs", body)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	require.Len(t, rep.entries, 1)
	require.NotNil(t, rep.entries[0].Attachment)
	assert.Equal(t, "trace.json", rep.entries[0].Attachment.Name)
	assert.Equal(t, []byte(`{"a":1}`), rep.entries[0].Attachment.Data)
}

func TestPostLogRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"malformed json", `{"text":`, nil, http.StatusBadRequest},
		{"unknown field", `{"txt":"x"}`, nil, http.StatusBadRequest},
		{"unknown level", `{"level":"fatal","text":"x"}`, nil, http.StatusBadRequest},
		{"bad base64", `{"text":"x","attachment_base64":"%%%"}`, nil, http.StatusBadRequest},
		{"unknown project", `{"project":"nope","text":"x"}`, fmt.Errorf("%w: %q", reporter.ErrUnknownProject, "nope"), http.StatusNotFound},
		{"empty body", `{"text":""}`, delivery.ErrEmptyBody, http.StatusBadRequest},
		{"other error", `{"text":"x"}`, fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, h := newTestService(Config{}, Deps{Reporter: &fakeReporter{err: tc.err}})
			rr := do(t, h, http.MethodPost, "/v1/logs", tc.body)
			assert.Equal(t, tc.code, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), `"error"`)
		})
	}
}

func TestPostLogBodyLimit(t *testing.T) {
	_, h := newTestService(Config{MaxBodyBytes: 16}, Deps{Reporter: &fakeReporter{}})
	rr := do(t, h, http.MethodPost, "/v1/logs", `{"text":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestAuth(t *testing.T) {
	_, h := newTestService(Config{Token: "s3cret"}, Deps{Reporter: &fakeReporter{}})

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/healthz?token=nope", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/healthz", "", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz?token=s3cret", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "Authorization", "Bearer s3cret").Code)
}

func TestStats(t *testing.T) {
	_, h := newTestService(Config{}, Deps{
		Reporter: &fakeReporter{},
		Stats:    func() delivery.Stats { return delivery.Stats{Pending: 3, Delivered: 10} },
	})
	rr := do(t, h, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Delivery.Pending)
	assert.EqualValues(t, 10, resp.Delivery.Delivered)
}

func TestDeliveries(t *testing.T) {
	store := &memStore{recs: []storage.Record{
		{ID: "b", Outcome: "delivered"},
		{ID: "a", Outcome: "exhausted"},
	}}
	_, h := newTestService(Config{}, Deps{Reporter: &fakeReporter{}, Store: store})

	rr := do(t, h, http.MethodGet, "/v1/deliveries?limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []storage.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/deliveries?limit=-2", "").Code)

	_, h = newTestService(Config{}, Deps{Reporter: &fakeReporter{}})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/deliveries", "").Code)
}

func TestObserveUsesRouteTemplate(t *testing.T) {
	type obs struct {
		route  string
		status int
	}
	var got []obs
	_, h := newTestService(Config{Token: "t"}, Deps{
		Reporter: &fakeReporter{},
		Observe:  func(route string, status int, _ time.Duration) { got = append(got, obs{route, status}) },
	})
	do(t, h, http.MethodGet, "/v1/stats?token=t", "")
	do(t, h, http.MethodGet, "/v1/stats", "")
	assert.Equal(t, []obs{{"/v1/stats", http.StatusOK}, {"/v1/stats", http.StatusUnauthorized}}, got)
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	_, h := newTestService(Config{}, Deps{Reporter: &fakeReporter{}})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/debug/pprof/", "").Code)

	_, h = newTestService(Config{Pprof: true}, Deps{Reporter: &fakeReporter{}})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/debug/pprof/", "").Code)
}

func TestStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Reporter: &fakeReporter{}}, logx.Nop())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Empty(t, s.Addr())

	// Disabled config keeps it down.
	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{Reporter: &fakeReporter{}}, logx.Nop())
	err := s.serveOnce(context.Background())
	assert.ErrorIs(t, err, errInsecureBind)
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:8080"))
	assert.True(t, isLoopbackAddr("localhost:8080"))
	assert.True(t, isLoopbackAddr("[::1]:8080"))
	assert.False(t, isLoopbackAddr(":8080"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8080"))
	assert.False(t, isLoopbackAddr("nonsense"))
}
