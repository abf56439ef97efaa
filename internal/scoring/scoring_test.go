package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftwatch/internal/nft"
)

func testTables(t *testing.T) *Tables {
	t.Helper()
	tb, err := Compile(File{
		Attributes: map[string][]Entry{
			"Cap":        {{Name: "Urban Cap", Power: 40}},
			"Earrings":   {{Name: "Urban Earring", Power: 25}},
			"Background": {{Name: "Forest", Power: 10}, {Name: "Urban Night", Power: 5}},
			"Skin Tone":  {{Name: "Urban Green", Power: 7}},
		},
		Synergy:     []string{"Urban", "  "},
		NumberPower: []NumberPower{{Pattern: "500", Power: 500}, {Pattern: "77", Power: 1000}},
	})
	require.NoError(t, err)
	return tb
}

func item(name string, attrs ...string) nft.Item {
	it := nft.Item{ID: "0:x", DisplayName: name}
	for i := 0; i+1 < len(attrs); i += 2 {
		it.Attributes = append(it.Attributes, nft.Attribute{TraitType: attrs[i], Value: attrs[i+1]})
	}
	return it
}

func TestScoreIsPure(t *testing.T) {
	tb := testTables(t)
	it := item("Orc #500", "Cap", "Urban Cap", "Left Earring", "Urban Earring", "Background", "Forest")
	before := append([]nft.Attribute(nil), it.Attributes...)

	a := Score(it, tb)
	b := Score(it, tb)
	assert.Equal(t, a, b)
	assert.Equal(t, before, it.Attributes, "input must not be mutated")
}

func TestSynergyPair(t *testing.T) {
	res := Score(item("Orc #1", "Cap", "Urban Cap", "Earring", "Urban Earring"), testTables(t))

	assert.Equal(t, 2, res.SynergyCount)
	assert.Equal(t, PairBonus, res.SynergyBonus)
	assert.Equal(t, 65, res.BasePower)
	for _, a := range res.Attributes {
		assert.True(t, a.Synergy, a.Value)
	}
}

func TestSynergySetOfThree(t *testing.T) {
	res := Score(item("Orc #2", "Cap", "Urban Cap", "Earring", "Urban Earring", "Background", "Urban Night"), testTables(t))
	assert.Equal(t, 3, res.SynergyCount)
	assert.Equal(t, SetBonus, res.SynergyBonus)
}

func TestSynergyDeduplicatesValues(t *testing.T) {
	// Three attributes but only two distinct values: counted as a pair.
	res := Score(item("Orc #3", "Cap", "Urban Cap", "Hat", "Urban Cap", "Earring", "Urban Earring"), testTables(t))
	assert.Equal(t, 2, res.SynergyCount)
	assert.Equal(t, PairBonus, res.SynergyBonus)
}

func TestSkinToneExcludedFromSynergy(t *testing.T) {
	res := Score(item("Orc #4", "Skin Tone", "Urban Green", "Cap", "Urban Cap"), testTables(t))
	assert.Zero(t, res.SynergyCount)
	assert.Zero(t, res.SynergyBonus)
	assert.Equal(t, 47, res.BasePower, "skin tone still contributes base power")
}

func TestNumericBonus(t *testing.T) {
	tb := testTables(t)
	tests := []struct {
		name string
		it   nft.Item
		want int
	}{
		{"name match", item("Orc #500"), 500},
		{"no partial word", item("Orc #5000"), 0},
		{"value match", item("Orc #1", "Level", "77"), 1000},
		{"both", item("Orc #500", "Level", "77"), 1500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.it, tb).NumericBonus)
		})
	}
}

func TestTotals(t *testing.T) {
	res := Score(item("Orc #500", "Cap", "Urban Cap", "Earring", "Urban Earring"), testTables(t))
	assert.Equal(t, 65+100+500, res.Total())
	assert.Equal(t, 65+100, res.DisplayTotal())
}

func TestAliasRequiresTable(t *testing.T) {
	tb := testTables(t)
	assert.Equal(t, "Earrings", tb.Canonical("Left EARRING"))
	assert.Equal(t, "Cap", tb.Canonical("Baseball cap"))

	noCap, err := Compile(File{Attributes: map[string][]Entry{"Earrings": {}}})
	require.NoError(t, err)
	assert.Equal(t, "Baseball cap", noCap.Canonical("Baseball cap"))
}

func TestNilTablesScoreZero(t *testing.T) {
	res := Score(item("Orc #500", "Cap", "Urban Cap"), nil)
	assert.Zero(t, res.Total())
	assert.Len(t, res.Attributes, 1)
}

func TestLoadAcceptsNumericStickerNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "power.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "attributes": {"Cap": [{"name": "Urban Cap", "power": 40}]},
  "synergy": ["urban"],
  "number_power": [{"sticker_number": 500, "power": 500}, {"sticker_number": "777", "power": 5000}]
}`), 0o644))

	s := NewStore(nil)
	tb, err := s.Reload(path)
	require.NoError(t, err)
	types, kw, nums := tb.Stats()
	assert.Equal(t, []int{1, 1, 2}, []int{types, kw, nums})
	assert.Same(t, tb, s.Get())
	assert.Equal(t, 5000, Score(item("Orc #777"), s.Get()).NumericBonus)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	tb := testTables(t)
	s := NewStore(tb)
	path := filepath.Join(t.TempDir(), "power.yaml")
	require.NoError(t, os.WriteFile(path, []byte("attributes: [oops"), 0o644))

	_, err := s.Reload(path)
	require.Error(t, err)
	assert.Same(t, tb, s.Get())
}
