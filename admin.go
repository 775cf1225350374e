package main

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// adminOnly gates a handler behind either the static admin token or a
// staff session with the admin role. An empty configured token is dev
// mode: everything is open.
func adminOnly(cfg *Config, stores *Stores, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		securityHeaders(cfg, w)
		corsHeaders(cfg, w, r)

		if cfg.adminToken != "" {
			if r.Header.Get("x-admin-token") == cfg.adminToken {
				h(w, r, ps)
				return
			}
			if stores.staffRoleByToken(r.Header.Get("x-staff-token")) == "admin" {
				h(w, r, ps)
				return
			}
			// Never reveal whether the resource exists.
			logf(cfg, "ADMIN: Rejected %s %s from %s", r.Method, r.URL.Path, realIP(r))
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": codeUnauthorized})
			return
		}

		h(w, r, ps)
	}
}

type wordRequest struct {
	Word string `json:"word"`
}

func adminAddWord(cfg *Config, dict *Dictionary) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req wordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Word == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": codeInvalidWord})
			return
		}

		warning, err := dict.addWord(cfg, req.Word)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}

		resp := map[string]any{"ok": true, "word": normalizeWord(req.Word)}
		if warning != "" {
			resp["warning"] = warning
		}
		logf(cfg, "ADMIN: Added word %q", req.Word)
		writeJSON(w, http.StatusOK, resp)
	}
}

func adminRemoveWord(cfg *Config, dict *Dictionary) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req wordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Word == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": codeInvalidWord})
			return
		}

		warning, err := dict.removeWord(cfg, req.Word)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}

		resp := map[string]any{"ok": true, "word": normalizeWord(req.Word)}
		if warning != "" {
			resp["warning"] = warning
		}
		logf(cfg, "ADMIN: Removed word %q", req.Word)
		writeJSON(w, http.StatusOK, resp)
	}
}

func adminGuardStats(g *Guard) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, g.stats())
	}
}

func adminBlockedIPs(g *Guard) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]any{"blocked": g.blockedList()})
	}
}

type ipRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason,omitempty"`
}

func adminUnblock(cfg *Config, g *Guard) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req ipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing ip"})
			return
		}
		g.unblock(req.IP)
		logf(cfg, "ADMIN: Unblocked %s", req.IP)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func adminListUsers(stores *Stores) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]any{"users": stores.listUsers()})
	}
}

func adminListBans(stores *Stores) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]any{"bans": stores.listBans()})
	}
}

func adminBan(cfg *Config, g *Guard, stores *Stores) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req ipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing ip"})
			return
		}

		if err := stores.addBan(req.IP, req.Reason, "admin"); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": codeIOError})
			return
		}
		g.ban(req.IP, req.Reason)
		logf(cfg, "ADMIN: Banned %s (%s)", req.IP, req.Reason)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func adminUnban(cfg *Config, g *Guard, stores *Stores) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ip := ps.ByName("ip")
		if ip == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing ip"})
			return
		}

		if err := stores.removeBan(ip); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": codeNotFound})
			return
		}
		g.unban(ip)
		logf(cfg, "ADMIN: Unbanned %s", ip)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

type staffLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func staffLogin(cfg *Config, stores *Stores) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)
		corsHeaders(cfg, w, r)

		var req staffLoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": codeUnauthorized})
			return
		}

		acct, ok := stores.staffLogin(req.Username, req.Password)
		if !ok {
			logf(cfg, "ADMIN: Failed staff login for %q from %s", req.Username, realIP(r))
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": codeUnauthorized})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"token": acct.Token,
			"role":  acct.Role,
		})
	}
}

type staffUpsertRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func staffUpsert(cfg *Config, stores *Stores) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req staffUpsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing username or password"})
			return
		}

		if err := stores.upsertStaff(req.Username, req.Password, req.Role); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": codeIOError})
			return
		}
		logf(cfg, "ADMIN: Upserted staff account %q", req.Username)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func staffDelete(cfg *Config, stores *Stores) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		username := ps.ByName("username")
		if err := stores.deleteStaff(username); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": codeNotFound})
			return
		}
		logf(cfg, "ADMIN: Deleted staff account %q", username)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func staffList(stores *Stores) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]any{"staff": stores.listStaff()})
	}
}

func registerAdmin(cfg *Config, mux *httprouter.Router, dict *Dictionary, g *Guard, stores *Stores) {
	mux.POST(cfg.prefix+"/admin/add-word", adminOnly(cfg, stores, adminAddWord(cfg, dict)))
	mux.POST(cfg.prefix+"/admin/remove-word", adminOnly(cfg, stores, adminRemoveWord(cfg, dict)))

	mux.GET(cfg.prefix+"/admin/antiscraping/stats", adminOnly(cfg, stores, adminGuardStats(g)))
	mux.GET(cfg.prefix+"/admin/antiscraping/blocked-ips", adminOnly(cfg, stores, adminBlockedIPs(g)))
	mux.POST(cfg.prefix+"/admin/antiscraping/unblock", adminOnly(cfg, stores, adminUnblock(cfg, g)))

	mux.GET(cfg.prefix+"/admin/users", adminOnly(cfg, stores, adminListUsers(stores)))

	mux.GET(cfg.prefix+"/admin/ban", adminOnly(cfg, stores, adminListBans(stores)))
	mux.POST(cfg.prefix+"/admin/ban", adminOnly(cfg, stores, adminBan(cfg, g, stores)))
	mux.DELETE(cfg.prefix+"/admin/ban/:ip", adminOnly(cfg, stores, adminUnban(cfg, g, stores)))

	mux.POST(cfg.prefix+"/staff/login", staffLogin(cfg, stores))
	mux.GET(cfg.prefix+"/staff/list", adminOnly(cfg, stores, staffList(stores)))
	mux.POST(cfg.prefix+"/staff/upsert", adminOnly(cfg, stores, staffUpsert(cfg, stores)))
	mux.DELETE(cfg.prefix+"/staff/:username", adminOnly(cfg, stores, staffDelete(cfg, stores)))
}
