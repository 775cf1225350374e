package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	return newGuard(testConfig(t, "BONJOUR"))
}

func TestPerMinuteRateLimit(t *testing.T) {
	g := newTestGuard(t)

	for i := 0; i < guardPerMinuteMax; i++ {
		ok, _ := g.check("10.0.0.1", "/a", "Mozilla/5.0")
		require.True(t, ok, "request %d should pass", i)
	}

	ok, code := g.check("10.0.0.1", "/a", "Mozilla/5.0")
	assert.False(t, ok)
	assert.Equal(t, codeRateLimited, code)

	// Overflow raised the suspicion score.
	g.mu.Lock()
	assert.GreaterOrEqual(t, g.ips["10.0.0.1"].suspicion, scorePerMinute)
	g.mu.Unlock()
}

func TestEndpointRateLimitIsPerPath(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	cfg.rateLimitMax = 3
	g := newGuard(cfg)

	for i := 0; i < 3; i++ {
		ok, _ := g.check("10.0.0.2", "/stats", "Mozilla/5.0")
		require.True(t, ok)
	}
	ok, code := g.check("10.0.0.2", "/stats", "Mozilla/5.0")
	assert.False(t, ok)
	assert.Equal(t, codeRateLimited, code)

	// A different path is unaffected.
	ok, _ = g.check("10.0.0.2", "/other", "Mozilla/5.0")
	assert.True(t, ok)
}

func TestSuspicionBlocksAtThreshold(t *testing.T) {
	g := newTestGuard(t)

	g.penalize("10.0.0.3", "honeypot", scoreHoneypot)

	ok, code := g.check("10.0.0.3", "/a", "Mozilla/5.0")
	assert.False(t, ok)
	assert.Equal(t, codeForbidden, code)
	assert.Contains(t, g.blockedList(), "10.0.0.3")
}

func TestSweepDecaysAndUnblocks(t *testing.T) {
	g := newTestGuard(t)
	g.penalize("10.0.0.4", "honeypot", scoreHoneypot)
	require.Contains(t, g.blockedList(), "10.0.0.4")

	// Decay to just above the unblock line keeps the block.
	g.mu.Lock()
	g.ips["10.0.0.4"].suspicion = guardBlockThreshold / 2
	g.mu.Unlock()
	g.sweep(time.Now())
	assert.NotContains(t, g.blockedList(), "10.0.0.4")

	g.mu.Lock()
	assert.Equal(t, guardBlockThreshold/2-1, g.ips["10.0.0.4"].suspicion)
	g.mu.Unlock()
}

func TestSweepForgetsIdleIPs(t *testing.T) {
	g := newTestGuard(t)
	g.check("10.0.0.5", "/a", "Mozilla/5.0")

	g.mu.Lock()
	g.ips["10.0.0.5"].lastSeen = time.Now().Add(-25 * time.Hour)
	g.mu.Unlock()

	g.sweep(time.Now())

	g.mu.Lock()
	_, tracked := g.ips["10.0.0.5"]
	g.mu.Unlock()
	assert.False(t, tracked)
}

func TestSuspiciousUserAgentScored(t *testing.T) {
	g := newTestGuard(t)
	g.check("10.0.0.6", "/a", "python-requests/2.31")

	g.mu.Lock()
	assert.GreaterOrEqual(t, g.ips["10.0.0.6"].suspicion, scoreSuspiciousUA)
	g.mu.Unlock()
}

func TestSequentialPatternDetection(t *testing.T) {
	base := time.Now()
	requests := make([]guardRequest, 0, 12)
	for i := 0; i < 12; i++ {
		requests = append(requests, guardRequest{at: base.Add(time.Duration(i) * 100 * time.Millisecond)})
	}
	assert.True(t, sequentialPattern(requests, base))

	// Human-like jitter defeats the detector.
	jittery := make([]guardRequest, 0, 12)
	at := base
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			at = at.Add(400 * time.Millisecond)
		} else {
			at = at.Add(3 * time.Second)
		}
		jittery = append(jittery, guardRequest{at: at})
	}
	assert.False(t, sequentialPattern(jittery, base))

	// Too few samples never match.
	assert.False(t, sequentialPattern(requests[:5], base))
}

func TestTokenLifecycle(t *testing.T) {
	g := newTestGuard(t)

	token, err := g.generateToken("10.0.0.7")
	require.NoError(t, err)
	require.Len(t, token, 64)

	assert.True(t, g.validateToken(token, "10.0.0.7"))

	// Cross-IP use invalidates the token outright.
	assert.False(t, g.validateToken(token, "10.9.9.9"))
	assert.False(t, g.validateToken(token, "10.0.0.7"))

	g.mu.Lock()
	mismatchScore := g.ips["10.9.9.9"].suspicion
	g.mu.Unlock()
	assert.GreaterOrEqual(t, mismatchScore, scoreTokenIPMismatch)
}

func TestExpiredTokenRejected(t *testing.T) {
	g := newTestGuard(t)

	token, err := g.generateToken("10.0.0.8")
	require.NoError(t, err)

	g.mu.Lock()
	g.tokens[token].issued = time.Now().Add(-guardTokenTTL - time.Second)
	g.mu.Unlock()

	assert.False(t, g.validateToken(token, "10.0.0.8"))
}

func TestMissingTokenScoredLightly(t *testing.T) {
	g := newTestGuard(t)

	assert.False(t, g.validateToken("", "10.0.0.9"))

	g.mu.Lock()
	assert.Equal(t, scoreMissingToken, g.ips["10.0.0.9"].suspicion)
	g.mu.Unlock()
}

func TestBansRefuseBeforeAnyTracking(t *testing.T) {
	g := newTestGuard(t)
	g.setBans(map[string]string{"10.0.1.1": "cheating"})

	ok, code := g.check("10.0.1.1", "/a", "Mozilla/5.0")
	assert.False(t, ok)
	assert.Equal(t, codeForbidden, code)
	assert.True(t, g.isBanned("10.0.1.1"))

	g.unban("10.0.1.1")
	ok, _ = g.check("10.0.1.1", "/a", "Mozilla/5.0")
	assert.True(t, ok)
}

func TestUnblockResetsScore(t *testing.T) {
	g := newTestGuard(t)
	g.penalize("10.0.1.2", "honeypot", scoreHoneypot)
	require.Contains(t, g.blockedList(), "10.0.1.2")

	g.unblock("10.0.1.2")
	assert.NotContains(t, g.blockedList(), "10.0.1.2")

	ok, _ := g.check("10.0.1.2", "/a", "Mozilla/5.0")
	assert.True(t, ok)
}

func TestGuardStats(t *testing.T) {
	g := newTestGuard(t)
	g.check("10.0.1.3", "/a", "Mozilla/5.0")
	g.penalize("10.0.1.4", "honeypot", scoreHoneypot)

	stats := g.stats()
	assert.Equal(t, 2, stats.TrackedIPs)
	assert.Equal(t, 1, stats.BlockedIPs)
	require.NotEmpty(t, stats.TopOffender)
	assert.Equal(t, "10.0.1.4", stats.TopOffender[0].IP)
}
