package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"nftwatch/internal/config"
)

// SkinTone never takes part in synergy.
const SkinTone = "Skin Tone"

// Entry is the power of one attribute value.
type Entry struct {
	Name  string `json:"name"`
	Power int    `json:"power"`
}

// NumberPower awards Power when Pattern appears as a whole word in the item
// name or any attribute value.
type NumberPower struct {
	Pattern patternString `json:"sticker_number"`
	Power   int           `json:"power"`
}

// Alias maps any trait type containing Contains (case-insensitive) to Canonical,
// provided Canonical has a table.
type Alias struct {
	Contains  string `json:"contains"`
	Canonical string `json:"canonical"`
}

// File is the on-disk power table (JSON or YAML).
type File struct {
	Attributes  map[string][]Entry `json:"attributes"`
	Synergy     []string           `json:"synergy"`
	NumberPower []NumberPower      `json:"number_power"`
	Aliases     []Alias            `json:"aliases,omitempty"`
}

var DefaultAliases = []Alias{
	{Contains: "earring", Canonical: "Earrings"},
	{Contains: "cap", Canonical: "Cap"},
}

type numberRule struct {
	pattern string
	re      *regexp.Regexp
	power   int
}

// Tables is the compiled, read-only form of File.
type Tables struct {
	attrs    map[string]map[string]int
	keywords []string
	numbers  []numberRule
	aliases  []Alias
}

// Empty scores every item as zero.
func Empty() *Tables {
	t, _ := Compile(File{})
	return t
}

// Compile validates f and precompiles the number patterns.
func Compile(f File) (*Tables, error) {
	t := &Tables{attrs: make(map[string]map[string]int, len(f.Attributes))}
	for typ, entries := range f.Attributes {
		m := make(map[string]int, len(entries))
		for _, e := range entries {
			// First entry wins, like a linear find.
			if _, ok := m[e.Name]; !ok {
				m[e.Name] = e.Power
			}
		}
		t.attrs[typ] = m
	}
	for _, k := range f.Synergy {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			t.keywords = append(t.keywords, k)
		}
	}
	for i, np := range f.NumberPower {
		p := strings.TrimSpace(string(np.Pattern))
		if p == "" {
			return nil, fmt.Errorf("number_power[%d]: empty sticker_number", i)
		}
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(p) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("number_power[%d]: %w", i, err)
		}
		t.numbers = append(t.numbers, numberRule{pattern: p, re: re, power: np.Power})
	}
	t.aliases = f.Aliases
	if len(t.aliases) == 0 {
		t.aliases = DefaultAliases
	}
	return t, nil
}

// Load reads and compiles a power table file.
func Load(path string) (*Tables, error) {
	var f File
	if err := config.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("power table: %w", err)
	}
	return Compile(f)
}

// Canonical resolves a trait type through the aliases. Later aliases win.
func (t *Tables) Canonical(traitType string) string {
	out := traitType
	low := strings.ToLower(traitType)
	for _, a := range t.aliases {
		if a.Contains == "" || !strings.Contains(low, strings.ToLower(a.Contains)) {
			continue
		}
		if _, ok := t.attrs[a.Canonical]; ok {
			out = a.Canonical
		}
	}
	return out
}

// Power is the base power of value under the canonical type, 0 when unknown.
func (t *Tables) Power(canonical, value string) int {
	return t.attrs[canonical][value]
}

// Stats summarizes the table for logs.
func (t *Tables) Stats() (types, keywords, numbers int) {
	return len(t.attrs), len(t.keywords), len(t.numbers)
}

// patternString accepts sticker_number as a JSON number or string.
type patternString string

func (p *patternString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = patternString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("sticker_number: %w", err)
	}
	*p = patternString(n.String())
	return nil
}
