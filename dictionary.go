package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	minSyllableLen = 2
	maxSyllableLen = 4
)

// dictIndex is one immutable snapshot of the dictionary. Readers grab the
// current snapshot through an atomic pointer; rebuilds swap in a fresh one.
type dictIndex struct {
	members map[uint32]struct{}
	exact   map[string]struct{}
	counts  [maxSyllableLen - minSyllableLen + 1]map[string]int
	samples [maxSyllableLen - minSyllableLen + 1]map[string][]string
	lines   int
}

func newDictIndex(exact bool) *dictIndex {
	idx := &dictIndex{
		members: make(map[uint32]struct{}),
	}
	if exact {
		idx.exact = make(map[string]struct{})
	}
	for i := range idx.counts {
		idx.counts[i] = make(map[string]int)
		idx.samples[i] = make(map[string][]string)
	}
	return idx
}

func hashWord(word string) uint32 {
	return uint32(xxhash.Sum64String(word))
}

// syllablesOf enumerates the distinct all-letter substrings of length n in
// each hyphen-separated part of word. The word contributes each syllable at
// most once regardless of how often it occurs.
func syllablesOf(word string, n int, into map[string]struct{}) {
	for _, part := range strings.Split(word, "-") {
		runes := []rune(part)
		if len(runes) < n {
			continue
		}
	outer:
		for i := 0; i+n <= len(runes); i++ {
			for j := i; j < i+n; j++ {
				if !unicode.IsLetter(runes[j]) {
					continue outer
				}
			}
			into[string(runes[i:i+n])] = struct{}{}
		}
	}
}

func (idx *dictIndex) insert(word string, sampleCap int) {
	idx.members[hashWord(word)] = struct{}{}
	if idx.exact != nil {
		idx.exact[word] = struct{}{}
	}

	seen := make(map[string]struct{})
	for n := minSyllableLen; n <= maxSyllableLen; n++ {
		clear(seen)
		syllablesOf(word, n, seen)

		slot := n - minSyllableLen
		for syl := range seen {
			idx.counts[slot][syl]++
			if list := idx.samples[slot][syl]; len(list) < sampleCap {
				idx.samples[slot][syl] = append(list, word)
			}
		}
	}
}

// Dictionary owns the dictionary file and the current index snapshot.
// Lookups are lock-free; rebuilds are serialized and atomic, so a failed
// rebuild leaves the previous snapshot untouched.
type Dictionary struct {
	path      string
	sampleCap int
	exact     bool

	current atomic.Pointer[dictIndex]

	// rebuildMu serializes buildFrom and the admin file mutations.
	rebuildMu sync.Mutex
}

func newDictionary(cfg *Config) *Dictionary {
	return &Dictionary{
		path:      cfg.dictPath,
		sampleCap: cfg.sampleCap,
		exact:     cfg.exactWords,
	}
}

func (d *Dictionary) ready() bool {
	return d.current.Load() != nil
}

func normalizeWord(line string) string {
	return strings.ToUpper(strings.TrimSpace(strings.TrimSuffix(line, "\r")))
}

// buildFrom streams the dictionary file into a fresh index and swaps it in.
// On any failure the prior index remains the visible one.
func (d *Dictionary) buildFrom(cfg *Config) (int, error) {
	d.rebuildMu.Lock()
	defer d.rebuildMu.Unlock()

	return d.buildLocked(cfg)
}

func (d *Dictionary) buildLocked(cfg *Config) (int, error) {
	startTime := time.Now()

	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%s: dictionary %q: %w", codeNotFound, d.path, err)
		}
		return 0, fmt.Errorf("%s: dictionary %q: %w", codeIOError, d.path, err)
	}
	defer f.Close()

	idx := newDictIndex(d.exact)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		word := normalizeWord(scanner.Text())
		if word == "" {
			continue
		}
		idx.insert(word, d.sampleCap)
		idx.lines++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%s: dictionary %q: %w", codeIOError, d.path, err)
	}

	d.current.Store(idx)

	logf(cfg, "DICT: Indexed %d words from %s in %s",
		idx.lines,
		d.path,
		time.Since(startTime).Round(time.Millisecond),
	)

	return idx.lines, nil
}

// contains reports dictionary membership. With hashed storage a rare 32-bit
// collision can answer true for an absent word; validation is advisory at
// gameplay scale.
func (d *Dictionary) contains(word string) bool {
	idx := d.current.Load()
	if idx == nil {
		return false
	}
	word = normalizeWord(word)
	if idx.exact != nil {
		_, ok := idx.exact[word]
		return ok
	}
	_, ok := idx.members[hashWord(word)]
	return ok
}

// countFor returns the number of distinct words containing syl, dispatched
// by syllable length, or -1 when the length is out of range or unknown.
func (d *Dictionary) countFor(syl string) int {
	idx := d.current.Load()
	if idx == nil {
		return -1
	}
	n := len([]rune(syl))
	if n < minSyllableLen || n > maxSyllableLen {
		return -1
	}
	count, ok := idx.counts[n-minSyllableLen][strings.ToUpper(syl)]
	if !ok {
		return -1
	}
	return count
}

func (d *Dictionary) samplesFor(length int, syl string, limit int) []string {
	idx := d.current.Load()
	if idx == nil || length < minSyllableLen || length > maxSyllableLen {
		return nil
	}
	list := idx.samples[length-minSyllableLen][strings.ToUpper(syl)]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return append([]string(nil), list...)
}

// countsFor exposes the full syllable→count map for one length, copied so
// callers cannot mutate the snapshot.
func (d *Dictionary) countsFor(length int) map[string]int {
	idx := d.current.Load()
	if idx == nil || length < minSyllableLen || length > maxSyllableLen {
		return nil
	}
	src := idx.counts[length-minSyllableLen]
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

type syllableCount struct {
	Syllable string `json:"syllable"`
	Count    int    `json:"count"`
}

func (d *Dictionary) topSyllables(length, limit int) []syllableCount {
	idx := d.current.Load()
	if idx == nil || length < minSyllableLen || length > maxSyllableLen {
		return nil
	}
	src := idx.counts[length-minSyllableLen]
	out := make([]syllableCount, 0, len(src))
	for syl, count := range src {
		out = append(out, syllableCount{Syllable: syl, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Syllable < out[j].Syllable
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// scanContaining walks the sample lists for words containing substr. The
// membership set is hash-only and not enumerable, so samples are the only
// word source; the cost is bounded by sampleCap per syllable.
func (d *Dictionary) scanContaining(substr string, limit int) []string {
	idx := d.current.Load()
	if idx == nil || substr == "" {
		return nil
	}
	substr = strings.ToUpper(substr)

	seen := make(map[string]struct{})
	out := make([]string, 0, limit)
	for slot := range idx.samples {
		for _, words := range idx.samples[slot] {
			for _, w := range words {
				if _, dup := seen[w]; dup {
					continue
				}
				if !strings.Contains(w, substr) {
					continue
				}
				seen[w] = struct{}{}
				out = append(out, w)
				if limit > 0 && len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}

// sampleKeys returns every syllable of the given length that has at least
// one sample word. Used as a selector fallback.
func (d *Dictionary) sampleKeys(length int) []string {
	idx := d.current.Load()
	if idx == nil || length < minSyllableLen || length > maxSyllableLen {
		return nil
	}
	src := idx.samples[length-minSyllableLen]
	out := make([]string, 0, len(src))
	for syl := range src {
		out = append(out, syl)
	}
	return out
}

// addWord appends word to the dictionary file and rebuilds the index.
// A rebuild failure after a successful append is reported through the
// returned warning, not as an error.
func (d *Dictionary) addWord(cfg *Config, word string) (warning string, err error) {
	word = normalizeWord(word)
	if word == "" {
		return "", fmt.Errorf("%s: empty word", codeInvalidWord)
	}

	d.rebuildMu.Lock()
	defer d.rebuildMu.Unlock()

	if err := appendLine(d.path, word); err != nil {
		return "", fmt.Errorf("%s: %w", codeIOError, err)
	}
	if _, err := d.buildLocked(cfg); err != nil {
		logf(cfg, "DICT: Rebuild after add-word failed: %v", err)
		return "rebuild_failed", nil
	}
	return "", nil
}

// removeWord rewrites the dictionary file without word and rebuilds.
func (d *Dictionary) removeWord(cfg *Config, word string) (warning string, err error) {
	word = normalizeWord(word)
	if word == "" {
		return "", fmt.Errorf("%s: empty word", codeInvalidWord)
	}

	d.rebuildMu.Lock()
	defer d.rebuildMu.Unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", codeIOError, err)
	}

	var kept []string
	removed := false
	for _, line := range strings.Split(string(data), "\n") {
		if normalizeWord(line) == word {
			removed = true
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, strings.TrimSuffix(line, "\r"))
	}
	if !removed {
		return "", fmt.Errorf("%s: word %q not present", codeNotFound, word)
	}

	contents := strings.Join(kept, "\n")
	if contents != "" {
		contents += "\n"
	}
	if err := os.WriteFile(d.path, []byte(contents), 0o644); err != nil {
		return "", fmt.Errorf("%s: %w", codeIOError, err)
	}

	if _, err := d.buildLocked(cfg); err != nil {
		logf(cfg, "DICT: Rebuild after remove-word failed: %v", err)
		return "rebuild_failed", nil
	}
	return "", nil
}
