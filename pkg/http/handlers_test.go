package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"link-tracker/pkg/logging"
	"link-tracker/pkg/security"
	"link-tracker/pkg/service"
	"link-tracker/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    storage.RecordStore
	recorder *service.ClickRecorder
	router   *chi.Mux
}

func newTestEnv(t *testing.T, store storage.RecordStore) *testEnv {
	t.Helper()
	logger := logging.Discard()
	codec, err := security.NewCloakCodec("test-secret")
	require.NoError(t, err)

	gate := service.NewAccountingGate()
	rec := service.NewClickRecorder(store, logger, service.RecorderConfig{Workers: 2, RetryBackoff: time.Millisecond, Gate: gate})
	t.Cleanup(rec.Close)

	handler := NewHandler(Options{
		Resolver:          service.NewResolver(store, codec, logger),
		Recorder:          rec,
		Links:             service.NewLinkService(store, codec, logger, "http://localhost:8080").WithGate(gate),
		Analytics:         service.NewAnalyticsService(store, logger).WithGate(gate),
		Logger:            logger,
		InterstitialDelay: 1500 * time.Millisecond,
	})
	r := NewRouter(logger, 5*time.Second)
	SetupRoutes(r, handler)
	return &testEnv{store: store, recorder: rec, router: r}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// flush waits for queued click accounting to finish.
func (e *testEnv) flush() {
	e.recorder.Close()
}

func (e *testEnv) clicks(t *testing.T) []storage.ClickEvent {
	t.Helper()
	clicks, err := storage.ReadClicks(context.Background(), e.store)
	require.NoError(t, err)
	return clicks
}

func (e *testEnv) link(t *testing.T, id string) storage.LinkRecord {
	t.Helper()
	links, err := storage.ReadLinks(context.Background(), e.store)
	require.NoError(t, err)
	for _, l := range links {
		if l.ID == id {
			return l
		}
	}
	t.Fatalf("link %s not found", id)
	return storage.LinkRecord{}
}

func seed(t *testing.T, s storage.RecordStore, links ...storage.LinkRecord) {
	t.Helper()
	ctx := context.Background()
	rows := make([]storage.Row, 0, len(links))
	for _, l := range links {
		rows = append(rows, l.ToRow())
	}
	require.NoError(t, s.ReplaceAll(ctx, storage.Links, rows))
	campaign := storage.CampaignRecord{ID: "camp-1", Name: "Spring sale", TotalLinks: len(links), Active: true, CreatedAt: time.Now()}
	require.NoError(t, s.ReplaceAll(ctx, storage.Campaigns, []storage.Row{campaign.ToRow()}))
}

func saleLink() storage.LinkRecord {
	return storage.LinkRecord{
		ID:          "link-1",
		CampaignID:  "camp-1",
		OriginalURL: "https://example.com/sale",
		ShortCode:   "a1b2c3d4",
		Active:      true,
		CreatedAt:   time.Now().Add(-time.Hour),
	}
}

func snapshot(t *testing.T, s storage.RecordStore) map[storage.Collection][]storage.Row {
	t.Helper()
	out := make(map[storage.Collection][]storage.Row)
	for _, c := range storage.AllCollections {
		rows, err := s.ReadAll(context.Background(), c)
		require.NoError(t, err)
		out[c] = rows
	}
	return out
}

func TestRedirectDirect(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStore())
	seed(t, env.store, saleLink())

	req := httptest.NewRequest(http.MethodGet, "/a1b2c3d4", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Referer", "https://mail.example.org/")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/sale", w.Header().Get("Location"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	env.flush()
	clicks := env.clicks(t)
	require.Len(t, clicks, 1)
	assert.Equal(t, "link-1", clicks[0].LinkID)
	assert.Equal(t, "198.51.100.4", clicks[0].IPAddress)
	assert.Equal(t, "Unknown", clicks[0].Country)
	assert.Equal(t, "Chrome", clicks[0].Browser)
	assert.Equal(t, "desktop", clicks[0].DeviceType)
	assert.Equal(t, "https://mail.example.org/", clicks[0].Referrer)
	assert.Equal(t, 1, env.link(t, "link-1").ClickCount)
}

func TestRedirectTerminalOutcomes(t *testing.T) {
	expired := saleLink()
	past := time.Now().Add(-time.Second)
	expired.ExpiresAt = &past

	disabled := saleLink()
	disabled.Active = false
	future := time.Now().Add(time.Hour)
	disabled.ExpiresAt = &future

	tests := []struct {
		name    string
		link    storage.LinkRecord
		path    string
		status  int
		message string
	}{
		{"unknown code", saleLink(), "/zzzzzzzz", http.StatusNotFound, "does not exist"},
		{"expired", expired, "/a1b2c3d4", http.StatusGone, "expired"},
		{"disabled", disabled, "/a1b2c3d4", http.StatusGone, "disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, storage.NewMemoryStore())
			seed(t, env.store, tt.link)
			before := snapshot(t, env.store)

			for i := 0; i < 3; i++ {
				w := env.do(t, http.MethodGet, tt.path, "")
				assert.Equal(t, tt.status, w.Code)
				assert.Contains(t, w.Body.String(), tt.message)
				assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
			}

			env.flush()
			assert.Empty(t, env.clicks(t))
			assert.Equal(t, before, snapshot(t, env.store))
		})
	}
}

func TestRedirectCloakedInterstitial(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStore())

	w := env.do(t, http.MethodPost, "/api/campaigns", `{"name":"Hidden"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var campaign storage.CampaignRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &campaign))

	w = env.do(t, http.MethodPost, "/api/links",
		`{"campaign_id":"`+campaign.ID+`","original_url":"https://example.com/secret","cloaked":true,"alias":"hidden"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "encrypted_destination")

	w = env.do(t, http.MethodGet, "/hidden", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "noindex, nofollow", w.Header().Get("X-Robots-Tag"))

	body := w.Body.String()
	assert.Contains(t, body, `<meta name="robots" content="noindex, nofollow">`)
	assert.Contains(t, body, `<meta name="referrer" content="no-referrer">`)
	assert.Contains(t, body, "setTimeout")
	assert.Contains(t, body, "1500")
	assert.Contains(t, body, `<noscript>`)
	assert.Contains(t, body, `href="https://example.com/secret"`)

	env.flush()
	assert.Len(t, env.clicks(t), 1)
}

func TestManagementLinks(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStore())
	seed(t, env.store, saleLink())

	w := env.do(t, http.MethodPost, "/api/links", `{"campaign_id":"camp-1","original_url":"https://example.com/new","domain":"go.example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created service.LinkView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "https://go.example.com/"+created.ShortCode, created.ShortURL)

	w = env.do(t, http.MethodGet, "/api/links?campaign_id=camp-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var links []service.LinkView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &links))
	assert.Len(t, links, 2)

	w = env.do(t, http.MethodGet, "/api/campaigns/camp-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var campaign storage.CampaignRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &campaign))
	assert.Equal(t, 2, campaign.TotalLinks)

	w = env.do(t, http.MethodPost, "/api/links/link-1/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":false`)
	assert.Equal(t, http.StatusGone, env.do(t, http.MethodGet, "/a1b2c3d4", "").Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/links/link-1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/links/link-1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/a1b2c3d4", "").Code)
}

func TestManagementErrors(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStore())
	seed(t, env.store, saleLink())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed json", http.MethodPost, "/api/links", `{"campaign_id":`, http.StatusBadRequest},
		{"invalid url", http.MethodPost, "/api/links", `{"campaign_id":"camp-1","original_url":"ftp://example.com"}`, http.StatusBadRequest},
		{"unknown campaign", http.MethodPost, "/api/links", `{"campaign_id":"nope","original_url":"https://example.com"}`, http.StatusBadRequest},
		{"alias taken", http.MethodPost, "/api/links", `{"campaign_id":"camp-1","original_url":"https://example.com","alias":"a1b2c3d4"}`, http.StatusConflict},
		{"missing campaign name", http.MethodPost, "/api/campaigns", `{"name":""}`, http.StatusBadRequest},
		{"unknown campaign id", http.MethodGet, "/api/campaigns/nope", "", http.StatusNotFound},
		{"toggle unknown link", http.MethodPost, "/api/links/nope/toggle", "", http.StatusNotFound},
		{"unknown api route", http.MethodGet, "/api/nothing", "", http.StatusNotFound},
		{"bad range", http.MethodGet, "/api/analytics?range=2w", "", http.StatusBadRequest},
		{"bad from", http.MethodGet, "/api/analytics?from=yesterday", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestDomains(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStore())

	assert.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/domains", `{"domain":"links.example.com"}`).Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/domains", `{"domain":"links.example.com"}`).Code)

	w := env.do(t, http.MethodPost, "/api/domains/links.example.com/verify", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"verified":true`)

	w = env.do(t, http.MethodGet, "/api/domains", "")
	require.Equal(t, http.StatusOK, w.Code)
	var domains []storage.DomainRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &domains))
	assert.Len(t, domains, 1)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/domains/links.example.com", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/domains/links.example.com", "").Code)
}

func TestAnalyticsAndStats(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStore())
	seed(t, env.store, saleLink())

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusFound, env.do(t, http.MethodGet, "/a1b2c3d4", "").Code)
	}
	env.flush()
	old := storage.ClickEvent{ID: "old", LinkID: "link-1", CampaignID: "camp-1", Timestamp: time.Now().Add(-40 * 24 * time.Hour)}
	require.NoError(t, env.store.Append(context.Background(), storage.Clicks, old.ToRow()))

	w := env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats service.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalLinks)
	assert.Equal(t, 4, stats.TotalClicks)
	assert.Equal(t, 3, stats.TodayClicks)

	w = env.do(t, http.MethodGet, "/api/analytics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var clicks []storage.ClickEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &clicks))
	assert.Len(t, clicks, 3)

	w = env.do(t, http.MethodGet, "/api/analytics?range=90d", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &clicks))
	assert.Len(t, clicks, 4)

	from := time.Now().Add(-50 * 24 * time.Hour).UTC().Format(time.RFC3339)
	to := time.Now().Add(-30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	w = env.do(t, http.MethodGet, "/api/analytics/export?from="+from+"&to="+to, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attachment; filename=analytics-custom.csv", w.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,link_id,campaign_id"))
	assert.True(t, strings.HasPrefix(lines[1], "old,"))

	w = env.do(t, http.MethodGet, "/api/analytics/export?range=30d", "")
	assert.Equal(t, "attachment; filename=analytics-30d.csv", w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
}

func TestReconcile(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStore())
	drifted := saleLink()
	drifted.ClickCount = 9
	seed(t, env.store, drifted)

	w := env.do(t, http.MethodPost, "/api/reconcile", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"links":1,"campaigns":1,"clicks":0}`, w.Body.String())
	assert.Equal(t, 0, env.link(t, "link-1").ClickCount)
}

// brokenStore fails every read of the link collection.
type brokenStore struct {
	*storage.MemoryStore
}

func (s brokenStore) ReadAll(ctx context.Context, c storage.Collection) ([]storage.Row, error) {
	if c == storage.Links {
		return nil, &storage.Error{Op: "read", Collection: c, Err: errors.New("disk on fire")}
	}
	return s.MemoryStore.ReadAll(ctx, c)
}

func TestStorageFailureIs500(t *testing.T) {
	env := newTestEnv(t, brokenStore{storage.NewMemoryStore()})

	w := env.do(t, http.MethodGet, "/api/links", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/a1b2c3d4", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, storage.NewMemoryStore())
	w := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestRedirectRoutesOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, saleLink())
	logger := logging.Discard()
	codec, err := security.NewCloakCodec("test-secret")
	require.NoError(t, err)
	rec := service.NewClickRecorder(store, logger, service.RecorderConfig{Workers: 1})
	defer rec.Close()

	r := NewRouter(logger, 0)
	SetupRedirectRoutes(r, NewHandler(Options{
		Resolver: service.NewResolver(store, codec, logger),
		Recorder: rec,
		Logger:   logger,
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/a1b2c3d4", nil))
	assert.Equal(t, http.StatusFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewHandlerInterstitialDelay(t *testing.T) {
	tests := []struct {
		name  string
		delay time.Duration
		want  time.Duration
	}{
		{"zero redirects immediately", 0, 0},
		{"positive kept", 2 * time.Second, 2 * time.Second},
		{"negative falls back", -time.Second, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(Options{Logger: logging.Discard(), InterstitialDelay: tt.delay})
			assert.Equal(t, tt.want, h.interstitialDelay)
		})
	}
}
