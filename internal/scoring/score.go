// Package scoring computes an item's power from a power table: per-attribute
// base power, a keyword synergy bonus and a lucky-number bonus.
package scoring

import (
	"strings"

	"nftwatch/internal/nft"
)

const (
	PairBonus = 100
	SetBonus  = 300
)

type AttributeScore struct {
	TraitType string
	Canonical string
	Value     string
	Power     int
	Synergy   bool
}

// Result is the breakdown of one Score call.
type Result struct {
	BasePower    int
	SynergyBonus int
	NumericBonus int
	// SynergyCount is the number of distinct values that formed a synergy.
	SynergyCount int
	Attributes   []AttributeScore
}

func (r Result) Total() int { return r.BasePower + r.SynergyBonus + r.NumericBonus }

// DisplayTotal is the headline number shown next to the bolt; the numeric
// bonus is listed separately.
func (r Result) DisplayTotal() int { return r.BasePower + r.SynergyBonus }

// Score is pure: the same item and tables always produce the same Result.
func Score(it nft.Item, t *Tables) Result {
	if t == nil {
		t = Empty()
	}
	var res Result
	res.Attributes = make([]AttributeScore, 0, len(it.Attributes))
	for _, a := range it.Attributes {
		c := t.Canonical(a.TraitType)
		p := t.Power(c, a.Value)
		res.BasePower += p
		res.Attributes = append(res.Attributes, AttributeScore{TraitType: a.TraitType, Canonical: c, Value: a.Value, Power: p})
	}

	marked := t.synergy(res.Attributes)
	for i := range res.Attributes {
		if _, ok := marked[res.Attributes[i].Value]; ok {
			res.Attributes[i].Synergy = true
		}
	}
	res.SynergyCount = len(marked)
	switch {
	case res.SynergyCount >= 3:
		res.SynergyBonus = SetBonus
	case res.SynergyCount == 2:
		res.SynergyBonus = PairBonus
	}

	res.NumericBonus = t.numberBonus(it)
	return res
}

// synergy returns the set of values that share a keyword-prefixed word with
// at least one other (non skin tone) value.
func (t *Tables) synergy(attrs []AttributeScore) map[string]struct{} {
	marked := map[string]struct{}{}
	if len(t.keywords) == 0 {
		return marked
	}
	type cand struct {
		value string
		words []string
	}
	var cs []cand
	for _, a := range attrs {
		if strings.EqualFold(a.Canonical, SkinTone) || strings.EqualFold(a.TraitType, SkinTone) {
			continue
		}
		cs = append(cs, cand{value: a.Value, words: strings.Fields(strings.ToLower(a.Value))})
	}
	for i := 0; i < len(cs); i++ {
		for j := i + 1; j < len(cs); j++ {
			if cs[i].value == cs[j].value {
				continue
			}
			if t.shareKeyword(cs[i].words, cs[j].words) {
				marked[cs[i].value] = struct{}{}
				marked[cs[j].value] = struct{}{}
			}
		}
	}
	return marked
}

func (t *Tables) shareKeyword(a, b []string) bool {
	for _, k := range t.keywords {
		if hasPrefixWord(a, k) && hasPrefixWord(b, k) {
			return true
		}
	}
	return false
}

func hasPrefixWord(words []string, k string) bool {
	for _, w := range words {
		if strings.HasPrefix(w, k) {
			return true
		}
	}
	return false
}

// numberBonus sums the powers of every pattern found in the name or values.
func (t *Tables) numberBonus(it nft.Item) int {
	if len(t.numbers) == 0 {
		return 0
	}
	parts := make([]string, 0, len(it.Attributes)+1)
	parts = append(parts, it.DisplayName)
	for _, a := range it.Attributes {
		parts = append(parts, a.Value)
	}
	blob := strings.Join(parts, " ")
	total := 0
	for _, n := range t.numbers {
		if n.re.MatchString(blob) {
			total += n.power
		}
	}
	return total
}
