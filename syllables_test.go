package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dictWithCounts hand-builds an index snapshot with fixed counts, so the
// selector can be exercised without crafting dictionary files.
func dictWithCounts(counts2 map[string]int) *Dictionary {
	d := &Dictionary{sampleCap: 30}
	idx := newDictIndex(false)
	for syl, count := range counts2 {
		idx.counts[0][syl] = count
	}
	d.current.Store(idx)
	return d
}

func TestSub8OnlyEmitsLowCountSyllables(t *testing.T) {
	dict := dictWithCounts(map[string]int{
		"XY": 3,
		"ZT": 7,
		"ON": 500,
		"RE": 120,
	})
	sp := newSyllablePicker(dict)

	used := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		syl := sp.pick(ScenarioSub8, used, nil)
		require.Contains(t, []string{"XY", "ZT"}, syl, "iteration %d", i)
		used[syl] = struct{}{}
	}
}

func TestSub8ExhaustionClearsUsedWithinScenario(t *testing.T) {
	dict := dictWithCounts(map[string]int{"XY": 3, "ZT": 7, "ON": 500})
	sp := newSyllablePicker(dict)

	used := map[string]struct{}{"XY": {}, "ZT": {}}
	syl := sp.pick(ScenarioSub8, used, nil)

	// The pool was exhausted: selection must reset the used set and stay
	// inside the sub8 candidates, never leaking ON.
	require.Contains(t, []string{"XY", "ZT"}, syl)
	assert.Len(t, used, 0, "used set should have been cleared before reinsertion")
}

func TestSub50Filter(t *testing.T) {
	dict := dictWithCounts(map[string]int{"AA": 49, "BB": 50, "CC": 51})
	sp := newSyllablePicker(dict)

	seen := make(map[string]bool)
	used := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		clear(used)
		seen[sp.pick(ScenarioSub50, used, nil)] = true
	}
	assert.True(t, seen["AA"] || seen["BB"])
	assert.False(t, seen["CC"], "count 51 is over the sub50 cap")
}

func TestFourLetterScenarioUsesLengthFour(t *testing.T) {
	dict, _ := buildTestDict(t, "CHATEAU", "MAISONS")
	sp := newSyllablePicker(dict)

	for i := 0; i < 20; i++ {
		syl := sp.pick(ScenarioFourLetter, make(map[string]struct{}), nil)
		require.Len(t, []rune(syl), 4)
	}
}

func TestTrainSetRestrictsAndExhausts(t *testing.T) {
	dict := dictWithCounts(map[string]int{"AB": 10, "CD": 20, "EF": 30})
	sp := newSyllablePicker(dict)

	allowed := map[string]struct{}{"AB": {}, "CD": {}}
	used := make(map[string]struct{})

	first := sp.pick(ScenarioTrainSkip, used, allowed)
	require.Contains(t, []string{"AB", "CD"}, first)
	used[first] = struct{}{}

	second := sp.pick(ScenarioTrainSkip, used, allowed)
	require.Contains(t, []string{"AB", "CD"}, second)
	require.NotEqual(t, first, second)
	used[second] = struct{}{}

	// Exhausted train set ends the game rather than falling back.
	assert.Empty(t, sp.pick(ScenarioTrainSkip, used, allowed))
}

func TestTrainSetUnknownSyllablesPickedUniformly(t *testing.T) {
	dict := dictWithCounts(map[string]int{})
	sp := newSyllablePicker(dict)

	allowed := map[string]struct{}{"QQ": {}, "WW": {}}
	syl := sp.pick(ScenarioTrainSkip, make(map[string]struct{}), allowed)
	assert.Contains(t, []string{"QQ", "WW"}, syl)
}

func TestEmptyIndexFallsBackToSeedList(t *testing.T) {
	dict := &Dictionary{sampleCap: 30}
	dict.current.Store(newDictIndex(false))
	sp := newSyllablePicker(dict)

	syl := sp.pick(ScenarioNone, make(map[string]struct{}), nil)
	require.NotEmpty(t, syl)
	assert.Contains(t, seedSyllables, syl)
}

func TestWeightedPickBiasesTowardFrequent(t *testing.T) {
	dict := dictWithCounts(map[string]int{"ON": 10000, "QX": 1})
	sp := newSyllablePicker(dict)

	hits := 0
	for i := 0; i < 200; i++ {
		if sp.pick(ScenarioNone, make(map[string]struct{}), nil) == "ON" {
			hits++
		}
	}
	// sqrt weighting gives ON 100:1 odds; anything under half would mean
	// the weighting is broken.
	assert.Greater(t, hits, 150)
}

func TestScenarioLengthTables(t *testing.T) {
	assert.Equal(t, []int{4}, scenarioLengths(ScenarioFourLetter))
	assert.Equal(t, []int{2, 3}, scenarioLengths(ScenarioNone))
	assert.Equal(t, []int{2, 3}, scenarioLengths(ScenarioSub8))

	assert.Equal(t, 8, scenarioCountCap(ScenarioSub8))
	assert.Equal(t, 50, scenarioCountCap(ScenarioSub50))
	assert.Zero(t, scenarioCountCap(ScenarioNone))
}
