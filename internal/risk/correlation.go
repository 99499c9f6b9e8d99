package risk

import "sort"

// TypeCorrelation is one correlated signal-type pair found by Stage B.
type TypeCorrelation struct {
	TypeA       string  `json:"type_a"`
	TypeB       string  `json:"type_b"`
	Jaccard     float64 `json:"jaccard"`
	Discount    float64 `json:"discount"`
	Discounted  int     `json:"discounted_signals"`
}

// CorrelationResult is the Stage B output: the same signals with the weaker
// member of each correlated pair discounted.
type CorrelationResult struct {
	Signals      []DecayedSignal
	Correlations []TypeCorrelation
}

// Correlate finds signal-type pairs that co-occur on the same entities
// (Jaccard over entity sets at or above the threshold) and multiplies the
// weaker signal's score by (1 − discount·corr) wherever both types appear on
// one entity. A signal takes at most one discount even when it is the weaker
// member of several pairs.
func (p Params) Correlate(signals []DecayedSignal) CorrelationResult {
	result := CorrelationResult{Signals: make([]DecayedSignal, len(signals))}
	copy(result.Signals, signals)
	if len(signals) < 2 {
		return result
	}

	// entity sets per signal type
	entities := make(map[string]map[string]struct{})
	for _, s := range signals {
		t := s.Signal.SignalType
		if entities[t] == nil {
			entities[t] = make(map[string]struct{})
		}
		entities[t][s.Signal.EntityID] = struct{}{}
	}

	types := make([]string, 0, len(entities))
	for t := range entities {
		types = append(types, t)
	}
	sort.Strings(types)

	for i := 0; i < len(types); i++ {
		for j := i + 1; j < len(types); j++ {
			corr := jaccard(entities[types[i]], entities[types[j]])
			if corr < p.CorrelationThreshold {
				continue
			}
			result.Correlations = append(result.Correlations, TypeCorrelation{
				TypeA:    types[i],
				TypeB:    types[j],
				Jaccard:  corr,
				Discount: 1 - p.CorrelationDiscount*corr,
			})
		}
	}
	applyDiscounts(result.Signals, result.Correlations)
	return result
}

// applyDiscounts picks, for each signal, the strongest correlated pair in
// which it is the weaker member on some entity, then applies that single
// discount. Weakness is judged on the pre-discount scores, so the outcome
// does not depend on pair evaluation order and discounts never compound.
func applyDiscounts(signals []DecayedSignal, pairs []TypeCorrelation) {
	best := make([]int, len(signals)) // pair index per signal, -1 none
	for i := range best {
		best[i] = -1
	}

	for pi := range pairs {
		byEntity := make(map[string]*[2]int) // entity → indexes of (typeA, typeB), -1 absent
		for i := range signals {
			var slot int
			switch signals[i].Signal.SignalType {
			case pairs[pi].TypeA:
				slot = 0
			case pairs[pi].TypeB:
				slot = 1
			default:
				continue
			}
			e := signals[i].Signal.EntityID
			pos, ok := byEntity[e]
			if !ok {
				pos = &[2]int{-1, -1}
				byEntity[e] = pos
			}
			pos[slot] = i
		}
		for _, pos := range byEntity {
			a, b := pos[0], pos[1]
			if a < 0 || b < 0 {
				continue
			}
			weaker := a
			if signals[b].DecayedScore < signals[a].DecayedScore {
				weaker = b
			}
			if best[weaker] < 0 || pairs[pi].Jaccard > pairs[best[weaker]].Jaccard {
				best[weaker] = pi
			}
		}
	}

	for i, pi := range best {
		if pi < 0 {
			continue
		}
		signals[i].DecayedScore *= pairs[pi].Discount
		pairs[pi].Discounted++
	}
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for e := range a {
		if _, ok := b[e]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
