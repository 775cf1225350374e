package main

import (
	"math"
	"math/rand"
)

// Scenario names are wire-level strings chosen by the host.
const (
	ScenarioNone       = ""
	ScenarioFourLetter = "4 lettres"
	ScenarioSub8       = "sub8"
	ScenarioSub50      = "sub50"
	ScenarioTrainSkip  = "train skip"
)

// seedSyllables is the last-resort candidate pool when the index yields
// nothing under the active constraints.
var seedSyllables = []string{
	"RE", "LA", "TI", "ON", "ER", "EN", "TE", "LE", "AN", "IN",
	"ES", "AR", "OU", "CH", "ME", "RA", "IS", "NE", "SE", "UR",
}

func scenarioLengths(scenario string) []int {
	if scenario == ScenarioFourLetter {
		return []int{4}
	}
	return []int{2, 3}
}

// scenarioCountCap returns the inclusive word-count ceiling for the
// scenario, or 0 when no count filter applies.
func scenarioCountCap(scenario string) int {
	switch scenario {
	case ScenarioSub8:
		return 8
	case ScenarioSub50:
		return 50
	default:
		return 0
	}
}

// syllablePicker selects the next syllable for a room. The rng is owned by
// the caller's room, so picks stay deterministic under test seeds.
type syllablePicker struct {
	dict *Dictionary
	rng  *rand.Rand
}

func newSyllablePicker(dict *Dictionary) *syllablePicker {
	return &syllablePicker{
		dict: dict,
		rng:  rand.New(rand.NewSource(rand.Int63())),
	}
}

// pick chooses the next syllable under the scenario constraints, excluding
// used syllables. When the candidate pool under the used-set exclusion is
// exhausted, used is cleared and selection restarts within the same
// scenario. Returns "" only when every fallback is empty, which the caller
// treats as end of game.
func (sp *syllablePicker) pick(scenario string, used map[string]struct{}, trainAllowed map[string]struct{}) string {
	if trainAllowed != nil {
		return sp.pickFromTrain(used, trainAllowed)
	}

	countCap := scenarioCountCap(scenario)
	lengths := scenarioLengths(scenario)

	// Try each allowed length starting from a random one.
	start := sp.rng.Intn(len(lengths))
	for i := range lengths {
		length := lengths[(start+i)%len(lengths)]
		counts := sp.dict.countsFor(length)
		if len(counts) == 0 {
			continue
		}
		if syl := sp.pickFromCounts(counts, countCap, used); syl != "" {
			return syl
		}
	}

	// Candidate pool exhausted under the used-set exclusion across every
	// allowed length: clear it (scenario-preserving) and retry with just
	// the count filters.
	if len(used) > 0 {
		clear(used)
		for i := range lengths {
			length := lengths[(start+i)%len(lengths)]
			counts := sp.dict.countsFor(length)
			if len(counts) == 0 {
				continue
			}
			if syl := sp.pickFromCounts(counts, countCap, nil); syl != "" {
				return syl
			}
		}
	}

	// Degraded paths: sample-list keys by length, then the seed list.
	for _, length := range lengths {
		if syl := sp.uniform(sp.dict.sampleKeys(length), used); syl != "" {
			return syl
		}
	}

	var seeds []string
	for _, s := range seedSyllables {
		for _, length := range lengths {
			if len([]rune(s)) == length {
				seeds = append(seeds, s)
				break
			}
		}
	}
	return sp.uniform(seeds, used)
}

func (sp *syllablePicker) pickFromTrain(used, trainAllowed map[string]struct{}) string {
	candidates := make([]string, 0, len(trainAllowed))
	for syl := range trainAllowed {
		if _, done := used[syl]; done {
			continue
		}
		candidates = append(candidates, syl)
	}
	if len(candidates) == 0 {
		return ""
	}

	// Prefer weighting by dictionary frequency when counts are known.
	counted := make([]string, 0, len(candidates))
	weights := make([]float64, 0, len(candidates))
	for _, syl := range candidates {
		if count := sp.dict.countFor(syl); count > 0 {
			counted = append(counted, syl)
			weights = append(weights, float64(count))
		}
	}
	if len(counted) > 0 {
		return sp.weighted(counted, weights)
	}
	return candidates[sp.rng.Intn(len(candidates))]
}

// pickFromCounts filters the count map and chooses: uniformly when a count
// cap is active, so rare syllables are equidistributed; sqrt(count)-weighted
// otherwise, biasing toward frequent syllables without crushing the middle.
func (sp *syllablePicker) pickFromCounts(counts map[string]int, countCap int, used map[string]struct{}) string {
	candidates := make([]string, 0, len(counts))
	weights := make([]float64, 0, len(counts))
	for syl, count := range counts {
		if count <= 0 {
			continue
		}
		if countCap > 0 && count > countCap {
			continue
		}
		if used != nil {
			if _, done := used[syl]; done {
				continue
			}
		}
		candidates = append(candidates, syl)
		weights = append(weights, math.Sqrt(float64(count)))
	}
	if len(candidates) == 0 {
		return ""
	}
	if countCap > 0 {
		return candidates[sp.rng.Intn(len(candidates))]
	}
	return sp.weighted(candidates, weights)
}

func (sp *syllablePicker) weighted(candidates []string, weights []float64) string {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return candidates[sp.rng.Intn(len(candidates))]
	}
	target := sp.rng.Float64() * total
	for i, w := range weights {
		target -= w
		if target < 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func (sp *syllablePicker) uniform(candidates []string, used map[string]struct{}) string {
	filtered := candidates[:0:0]
	for _, syl := range candidates {
		if used != nil {
			if _, done := used[syl]; done {
				continue
			}
		}
		filtered = append(filtered, syl)
	}
	if len(filtered) == 0 {
		if len(candidates) == 0 {
			return ""
		}
		// Everything is used; the used set only blocks repeats within one
		// pool, so fall back to the raw list rather than stalling.
		filtered = candidates
	}
	return filtered[sp.rng.Intn(len(filtered))]
}
