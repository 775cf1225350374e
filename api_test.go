package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRouter wires the public API and admin surface the way ServePage
// does, against a controllable dictionary.
func newTestRouter(t *testing.T, cfg *Config) (*httprouter.Router, *Dictionary, *Guard, *Stores) {
	t.Helper()

	dict := newDictionary(cfg)
	guard := newGuard(cfg)
	stores, err := newStores(cfg)
	require.NoError(t, err)
	guard.setBans(stores.banMap())

	mux := httprouter.New()
	registerDictionaryAPI(cfg, mux, dict, guard)
	registerAdmin(cfg, mux, dict, guard, stores)
	mux.GET(cfg.prefix+"/api/words.json", honeypotWords(cfg, guard))
	mux.GET(cfg.prefix+"/api/dictionary/full", honeypotDictionary(cfg, guard))

	return mux, dict, guard, stores
}

func doJSON(t *testing.T, mux *httprouter.Router, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "198.51.100.9:4242"
	req.Header.Set("User-Agent", "Mozilla/5.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	}
	return rec, payload
}

func TestValidateNotReadyThenReady(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	mux, dict, _, _ := newTestRouter(t, cfg)

	rec, payload := doJSON(t, mux, "GET", "/validate?word=BONJOUR", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, payload["ready"])

	_, err := dict.buildFrom(cfg)
	require.NoError(t, err)

	rec, payload = doJSON(t, mux, "GET", "/validate?word=BONJOUR", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["exists"])

	_, payload = doJSON(t, mux, "GET", "/validate?word=ABSENT", "", nil)
	assert.Equal(t, false, payload["exists"])
}

func TestSyllableStatsAndTop(t *testing.T) {
	cfg := testConfig(t, "BONBON", "BONJOUR", "MAISON")
	mux, dict, _, _ := newTestRouter(t, cfg)
	_, err := dict.buildFrom(cfg)
	require.NoError(t, err)

	rec, payload := doJSON(t, mux, "GET", "/syllable-stats?length=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := payload["syllables"].(map[string]any)
	assert.Equal(t, float64(3), stats["ON"])

	rec, payload = doJSON(t, mux, "GET", "/top-syllables?length=2&limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	top := payload["top"].([]any)
	require.Len(t, top, 1)
	assert.Equal(t, "ON", top[0].(map[string]any)["syllable"])

	rec, _ = doJSON(t, mux, "GET", "/syllable-stats?length=9", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchFastPathAndScanFallback(t *testing.T) {
	cfg := testConfig(t, "BONJOUR", "BONBON", "MAISON")
	mux, dict, _, _ := newTestRouter(t, cfg)
	_, err := dict.buildFrom(cfg)
	require.NoError(t, err)

	// Syllable-sized query hits the sample fast path.
	_, payload := doJSON(t, mux, "GET", "/search?q=ON", "", nil)
	words := payload["words"].([]any)
	assert.NotEmpty(t, words)

	// Longer query falls back to the sample scan.
	_, payload = doJSON(t, mux, "GET", "/search?q=ONJOU", "", nil)
	words = payload["words"].([]any)
	require.Len(t, words, 1)
	assert.Equal(t, "BONJOUR", words[0])
}

func TestHoneypotBlocksScraper(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	mux, dict, guard, _ := newTestRouter(t, cfg)
	_, err := dict.buildFrom(cfg)
	require.NoError(t, err)

	rec, payload := doJSON(t, mux, "GET", "/api/words.json", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, payload["words"], "honeypot returns plausible data")

	assert.Contains(t, guard.blockedList(), "198.51.100.9")

	// Every real endpoint now refuses the caller.
	rec, payload = doJSON(t, mux, "GET", "/validate?word=BONJOUR", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeForbidden, payload["error"])
}

func TestDictionaryDownloadHoneypot(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	mux, _, guard, _ := newTestRouter(t, cfg)

	rec, payload := doJSON(t, mux, "GET", "/api/dictionary/full", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, payload["error"])

	guard.mu.Lock()
	assert.GreaterOrEqual(t, guard.ips["198.51.100.9"].suspicion, scoreDictionaryAccess)
	guard.mu.Unlock()
}

func TestAccessTokenEndpoint(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	mux, _, guard, _ := newTestRouter(t, cfg)

	rec, payload := doJSON(t, mux, "GET", "/api/token", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token := payload["token"].(string)
	assert.Len(t, token, 64)
	assert.True(t, guard.validateToken(token, "198.51.100.9"))
}

func TestAdminAuthGate(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	cfg.adminToken = "sekrit"
	mux, dict, _, stores := newTestRouter(t, cfg)
	_, err := dict.buildFrom(cfg)
	require.NoError(t, err)

	rec, payload := doJSON(t, mux, "POST", "/admin/add-word", `{"word":"nouveau"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeUnauthorized, payload["error"])

	rec, _ = doJSON(t, mux, "POST", "/admin/add-word", `{"word":"nouveau"}`,
		map[string]string{"x-admin-token": "sekrit"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, dict.contains("NOUVEAU"))

	// A staff admin session works where the static token would.
	require.NoError(t, stores.upsertStaff("boss", "pw", "admin"))
	acct, ok := stores.staffLogin("boss", "pw")
	require.True(t, ok)

	rec, _ = doJSON(t, mux, "POST", "/admin/remove-word", `{"word":"nouveau"}`,
		map[string]string{"x-staff-token": acct.Token})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, dict.contains("NOUVEAU"))

	// A moderator session is not enough.
	require.NoError(t, stores.upsertStaff("mod", "pw", "moderator"))
	modAcct, ok := stores.staffLogin("mod", "pw")
	require.True(t, ok)
	rec, _ = doJSON(t, mux, "POST", "/admin/add-word", `{"word":"autre"}`,
		map[string]string{"x-staff-token": modAcct.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminBanEndpoints(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	mux, _, guard, _ := newTestRouter(t, cfg) // dev mode: no admin token

	rec, _ := doJSON(t, mux, "POST", "/admin/ban", `{"ip":"203.0.113.5","reason":"scraping"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, guard.isBanned("203.0.113.5"))

	rec, payload := doJSON(t, mux, "GET", "/admin/ban", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bans := payload["bans"].([]any)
	require.Len(t, bans, 1)

	rec, _ = doJSON(t, mux, "DELETE", "/admin/ban/203.0.113.5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, guard.isBanned("203.0.113.5"))

	rec, _ = doJSON(t, mux, "DELETE", "/admin/ban/203.0.113.5", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAntiscrapingEndpoints(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	mux, _, guard, _ := newTestRouter(t, cfg)

	guard.penalize("203.0.113.6", "honeypot", scoreHoneypot)

	rec, payload := doJSON(t, mux, "GET", "/admin/antiscraping/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), payload["blockedIps"])

	rec, payload = doJSON(t, mux, "GET", "/admin/antiscraping/blocked-ips", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, payload["blocked"], "203.0.113.6")

	rec, _ = doJSON(t, mux, "POST", "/admin/antiscraping/unblock", `{"ip":"203.0.113.6"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, guard.blockedList())
}

func TestStaffLoginEndpoint(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	cfg.adminPassword = "hunter2"
	mux, _, _, _ := newTestRouter(t, cfg)

	rec, payload := doJSON(t, mux, "POST", "/staff/login", `{"username":"admin","password":"hunter2"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", payload["role"])
	assert.NotEmpty(t, payload["token"])

	rec, _ = doJSON(t, mux, "POST", "/staff/login", `{"username":"admin","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
