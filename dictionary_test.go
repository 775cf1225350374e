package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestDict(t *testing.T, words ...string) (*Dictionary, *Config) {
	t.Helper()
	cfg := testConfig(t, words...)
	dict := newDictionary(cfg)
	lines, err := dict.buildFrom(cfg)
	require.NoError(t, err)
	require.Equal(t, len(words), lines)
	return dict, cfg
}

func TestBuildCountsDistinctWordsPerSyllable(t *testing.T) {
	// BANANA contains AN twice but must count once; the hyphen in
	// PORTE-CLEF splits the syllable scan into independent parts.
	dict, _ := buildTestDict(t, "BANANA", "CANAL", "PORTE-CLEF")

	assert.Equal(t, 2, dict.countFor("AN"))
	assert.Equal(t, 2, dict.countFor("NA"))
	assert.Equal(t, 1, dict.countFor("POR"))
	assert.Equal(t, 1, dict.countFor("CLEF"))

	// EC spans the hyphen and must not exist.
	assert.Equal(t, -1, dict.countFor("EC"))

	// Out-of-range lengths are not indexed.
	assert.Equal(t, -1, dict.countFor("B"))
	assert.Equal(t, -1, dict.countFor("BANAN"))
}

func TestMembershipRoundTrip(t *testing.T) {
	words := []string{"BONJOUR", "MAISON", "PORTE-CLEF"}
	dict, _ := buildTestDict(t, words...)

	for _, w := range words {
		assert.True(t, dict.contains(w), w)
	}
	assert.True(t, dict.contains("bonjour"), "membership is case-insensitive")
	assert.False(t, dict.contains("ABSENT"))
}

func TestExactWordSetMode(t *testing.T) {
	cfg := testConfig(t, "BONJOUR")
	cfg.exactWords = true

	dict := newDictionary(cfg)
	_, err := dict.buildFrom(cfg)
	require.NoError(t, err)

	assert.True(t, dict.contains("BONJOUR"))
	assert.False(t, dict.contains("BONSOIR"))
}

func TestSamplesAreCapped(t *testing.T) {
	words := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		words = append(words, "ON"+string(rune('A'+i%26))+string(rune('A'+i/26)))
	}
	cfg := testConfig(t, words...)
	cfg.sampleCap = 5

	dict := newDictionary(cfg)
	_, err := dict.buildFrom(cfg)
	require.NoError(t, err)

	assert.Len(t, dict.samplesFor(2, "ON", 0), 5)
	assert.Len(t, dict.samplesFor(2, "ON", 3), 3)
	assert.Equal(t, 40, dict.countFor("ON"))
}

func TestScanContainingDeduplicates(t *testing.T) {
	dict, _ := buildTestDict(t, "BONJOUR", "BONBON", "MAISON")

	// BONBON appears in the samples of several syllables but must come
	// back once.
	found := dict.scanContaining("BON", 0)
	seen := map[string]int{}
	for _, w := range found {
		seen[w]++
	}
	assert.Equal(t, 1, seen["BONBON"])
	assert.Equal(t, 1, seen["BONJOUR"])
	assert.NotContains(t, seen, "MAISON")
}

func TestFailedBuildKeepsPriorIndex(t *testing.T) {
	dict, cfg := buildTestDict(t, "BONJOUR")
	require.True(t, dict.ready())

	dict.path = cfg.dictPath + ".missing"
	_, err := dict.buildFrom(cfg)
	require.Error(t, err)

	assert.True(t, dict.ready())
	assert.True(t, dict.contains("BONJOUR"))
}

func TestAddThenRemoveWordRestoresState(t *testing.T) {
	dict, cfg := buildTestDict(t, "BONJOUR")

	assert.False(t, dict.contains("NOUVEAU"))

	warning, err := dict.addWord(cfg, "nouveau")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.True(t, dict.contains("NOUVEAU"))

	warning, err = dict.removeWord(cfg, "NOUVEAU")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.False(t, dict.contains("NOUVEAU"))
	assert.True(t, dict.contains("BONJOUR"))
}

func TestAppendLineHandlesMissingTrailingNewline(t *testing.T) {
	dict, cfg := buildTestDict(t, "BONJOUR")

	// Strip the trailing newline the helper wrote.
	data, err := os.ReadFile(dict.path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dict.path, data[:len(data)-1], 0o644))

	_, err = dict.addWord(cfg, "MAISON")
	require.NoError(t, err)

	assert.True(t, dict.contains("BONJOUR"))
	assert.True(t, dict.contains("MAISON"))
	assert.Equal(t, 1, dict.countFor("MAI"))
}

func TestRemoveMissingWordFails(t *testing.T) {
	dict, cfg := buildTestDict(t, "BONJOUR")

	_, err := dict.removeWord(cfg, "ABSENT")
	require.Error(t, err)
	assert.True(t, dict.contains("BONJOUR"))
}

func TestTopSyllablesOrdering(t *testing.T) {
	dict, _ := buildTestDict(t, "BONBON", "BONJOUR", "BONSOIR", "MAISON")

	top := dict.topSyllables(2, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "ON", top[0].Syllable)
	assert.Equal(t, 4, top[0].Count)
	assert.GreaterOrEqual(t, top[0].Count, top[1].Count)
}

func TestCRLFAndBlankLinesIgnored(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.dictPath, []byte("bonjour\r\n\r\nmaison\r\n"), 0o644))

	dict := newDictionary(cfg)
	lines, err := dict.buildFrom(cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, lines)
	assert.True(t, dict.contains("BONJOUR"))
	assert.True(t, dict.contains("MAISON"))
}
