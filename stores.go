// JSON-file persistence for the small human-scale stores: staff accounts,
// IP bans and the per-IP user log. Each store is one JSON object in the
// data directory, held fully in memory and rewritten after every
// mutation.

package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type StaffAccount struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	Role         string    `json:"role"`
	Token        string    `json:"token,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type BanRecord struct {
	IP       string    `json:"ip"`
	Reason   string    `json:"reason"`
	BannedBy string    `json:"bannedBy,omitempty"`
	BannedAt time.Time `json:"bannedAt"`
}

type UserRecord struct {
	IP        string    `json:"ip"`
	Names     []string  `json:"names,omitempty"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	Requests  int       `json:"requests"`
}

const (
	staffFile   = "staff.json"
	bansFile    = "bans.json"
	userLogFile = "users.json"
)

// Stores caches the three JSON collections in memory; reads never touch
// disk after startup and writes rewrite the backing file immediately.
type Stores struct {
	cfg *Config
	dir string

	mu    sync.Mutex
	staff map[string]*StaffAccount // keyed by username
	bans  map[string]*BanRecord    // keyed by IP
	users map[string]*UserRecord   // keyed by IP
}

func newStores(cfg *Config) (*Stores, error) {
	st := &Stores{
		cfg:   cfg,
		dir:   cfg.dataDir,
		staff: make(map[string]*StaffAccount),
		bans:  make(map[string]*BanRecord),
		users: make(map[string]*UserRecord),
	}

	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return nil, err
	}

	if err := loadJSON(filepath.Join(st.dir, staffFile), &st.staff); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(st.dir, bansFile), &st.bans); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(st.dir, userLogFile), &st.users); err != nil {
		return nil, err
	}

	if err := st.seedAdmin(); err != nil {
		return nil, err
	}

	return st, nil
}

func loadJSON(path string, into any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

func saveJSON(path string, from any) error {
	data, err := json.MarshalIndent(from, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// seedAdmin creates the admin staff account on first start when a
// password is configured.
func (st *Stores) seedAdmin() error {
	if st.cfg.adminPassword == "" {
		return nil
	}
	if _, exists := st.staff["admin"]; exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(st.cfg.adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	st.staff["admin"] = &StaffAccount{
		Username:     "admin",
		PasswordHash: string(hash),
		Role:         "admin",
		CreatedAt:    time.Now(),
	}
	logf(st.cfg, "ADMIN: Seeded admin staff account")
	return saveJSON(filepath.Join(st.dir, staffFile), st.staff)
}

func (st *Stores) saveStaffLocked() error {
	return saveJSON(filepath.Join(st.dir, staffFile), st.staff)
}

func (st *Stores) saveBansLocked() error {
	return saveJSON(filepath.Join(st.dir, bansFile), st.bans)
}

func (st *Stores) saveUsersLocked() error {
	return saveJSON(filepath.Join(st.dir, userLogFile), st.users)
}

// staffLogin verifies credentials and issues a fresh staff session token.
func (st *Stores) staffLogin(username, password string) (*StaffAccount, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	acct, ok := st.staff[username]
	if !ok {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, false
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, false
	}
	acct.Token = hex.EncodeToString(buf)
	_ = st.saveStaffLocked()

	copied := *acct
	return &copied, true
}

// staffRoleByToken resolves a staff session token to its role; empty when
// unknown.
func (st *Stores) staffRoleByToken(token string) string {
	if token == "" {
		return ""
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, acct := range st.staff {
		if acct.Token != "" && acct.Token == token {
			return acct.Role
		}
	}
	return ""
}

func (st *Stores) upsertStaff(username, password, role string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	acct, ok := st.staff[username]
	if !ok {
		acct = &StaffAccount{Username: username, CreatedAt: time.Now()}
		st.staff[username] = acct
	}
	acct.PasswordHash = string(hash)
	if role != "" {
		acct.Role = role
	} else if acct.Role == "" {
		acct.Role = "moderator"
	}
	return st.saveStaffLocked()
}

func (st *Stores) deleteStaff(username string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.staff[username]; !ok {
		return os.ErrNotExist
	}
	delete(st.staff, username)
	return st.saveStaffLocked()
}

func (st *Stores) listStaff() []StaffAccount {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]StaffAccount, 0, len(st.staff))
	for _, acct := range st.staff {
		copied := *acct
		copied.PasswordHash = ""
		copied.Token = ""
		out = append(out, copied)
	}
	return out
}

func (st *Stores) addBan(ip, reason, by string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.bans[ip] = &BanRecord{
		IP:       ip,
		Reason:   reason,
		BannedBy: by,
		BannedAt: time.Now(),
	}
	return st.saveBansLocked()
}

func (st *Stores) removeBan(ip string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.bans[ip]; !ok {
		return os.ErrNotExist
	}
	delete(st.bans, ip)
	return st.saveBansLocked()
}

func (st *Stores) listBans() []BanRecord {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]BanRecord, 0, len(st.bans))
	for _, b := range st.bans {
		out = append(out, *b)
	}
	return out
}

// banMap mirrors the store into the guard's in-memory set.
func (st *Stores) banMap() map[string]string {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make(map[string]string, len(st.bans))
	for ip, b := range st.bans {
		out[ip] = b.Reason
	}
	return out
}

// recordUser notes activity from an IP, tracking name history.
func (st *Stores) recordUser(ip, name string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	u, ok := st.users[ip]
	if !ok {
		u = &UserRecord{IP: ip, FirstSeen: now}
		st.users[ip] = u
	}
	u.LastSeen = now
	u.Requests++
	if name != "" {
		known := false
		for _, n := range u.Names {
			if n == name {
				known = true
				break
			}
		}
		if !known {
			u.Names = append(u.Names, name)
		}
	}
	_ = st.saveUsersLocked()
}

func (st *Stores) listUsers() []UserRecord {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]UserRecord, 0, len(st.users))
	for _, u := range st.users {
		out = append(out, *u)
	}
	return out
}
