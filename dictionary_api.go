package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// guarded wraps a public API handler with the anti-scraping checks and
// CORS headers.
func guarded(cfg *Config, g *Guard, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		securityHeaders(cfg, w)
		corsHeaders(cfg, w, r)

		ok, code := g.check(clientIP(r), r.URL.Path, r.UserAgent())
		if !ok {
			status := http.StatusTooManyRequests
			if code == codeForbidden {
				status = http.StatusForbidden
			}
			writeJSON(w, status, map[string]any{"error": code})
			return
		}

		h(w, r, ps)
	}
}

// notReady answers 503 while the index is still building. Returns true
// when the caller should bail.
func notReady(w http.ResponseWriter, dict *Dictionary) bool {
	if dict.ready() {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
	return true
}

func queryInt(r *http.Request, key, fallback string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		v = fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func serveSyllableStats(dict *Dictionary) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if notReady(w, dict) {
			return
		}
		length := queryInt(r, "length", "2")
		counts := dict.countsFor(length)
		if counts == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "length must be 2, 3 or 4"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"length": length, "syllables": counts})
	}
}

func serveWordsBySyllable(dict *Dictionary) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if notReady(w, dict) {
			return
		}
		syl := r.URL.Query().Get("syl")
		if syl == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing syl parameter"})
			return
		}
		length := queryInt(r, "length", strconv.Itoa(len([]rune(syl))))
		limit := queryInt(r, "limit", "10")
		writeJSON(w, http.StatusOK, map[string]any{
			"syllable": syl,
			"count":    dict.countFor(syl),
			"words":    dict.samplesFor(length, syl, limit),
		})
	}
}

func serveValidate(dict *Dictionary) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if notReady(w, dict) {
			return
		}
		word := r.URL.Query().Get("word")
		if word == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing word parameter"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"exists": dict.contains(word)})
	}
}

func serveTopSyllables(dict *Dictionary) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if notReady(w, dict) {
			return
		}
		length := queryInt(r, "length", "2")
		limit := queryInt(r, "limit", "20")
		top := dict.topSyllables(length, limit)
		if top == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "length must be 2, 3 or 4"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"length": length, "top": top})
	}
}

// serveSearch looks words up by substring: fast path through the syllable
// samples when the query is syllable-sized, full sample scan otherwise.
func serveSearch(dict *Dictionary) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if notReady(w, dict) {
			return
		}
		q := r.URL.Query().Get("q")
		if q == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing q parameter"})
			return
		}
		limit := queryInt(r, "limit", "20")
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		var words []string
		if n := len([]rune(q)); n >= minSyllableLen && n <= maxSyllableLen {
			words = dict.samplesFor(n, q, limit)
		}
		if len(words) < limit {
			seen := make(map[string]struct{}, len(words))
			for _, word := range words {
				seen[word] = struct{}{}
			}
			for _, word := range dict.scanContaining(q, limit) {
				if _, dup := seen[word]; dup {
					continue
				}
				words = append(words, word)
				if len(words) >= limit {
					break
				}
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"query": q, "words": words})
	}
}

// serveAccessToken issues a short-lived token bound to the caller's IP.
func serveAccessToken(g *Guard) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		token, err := g.generateToken(clientIP(r))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": codeIOError})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token, "ttl": int(guardTokenTTL.Seconds())})
	}
}

func registerDictionaryAPI(cfg *Config, mux *httprouter.Router, dict *Dictionary, g *Guard) {
	mux.GET(cfg.prefix+"/syllable-stats", guarded(cfg, g, serveSyllableStats(dict)))
	mux.GET(cfg.prefix+"/words-by-syllable", guarded(cfg, g, serveWordsBySyllable(dict)))
	mux.GET(cfg.prefix+"/validate", guarded(cfg, g, serveValidate(dict)))
	mux.GET(cfg.prefix+"/top-syllables", guarded(cfg, g, serveTopSyllables(dict)))
	mux.GET(cfg.prefix+"/search", guarded(cfg, g, serveSearch(dict)))
	mux.GET(cfg.prefix+"/api/token", guarded(cfg, g, serveAccessToken(g)))
}
