// Package caption turns a scored item into the Telegram HTML caption.
package caption

import (
	"strconv"
	"strings"

	"nftwatch/internal/nft"
	"nftwatch/internal/scoring"
	"nftwatch/pkg/tonaddr"
)

const DefaultLinkBase = "https://getgems.io/nft/"

type Options struct {
	LinkBase string
	// Footer is trusted HTML.
	Footer string
}

type AttributeLine struct {
	TraitType string
	Value     string
	Power     int
	Synergy   bool
}

// Fragments are the computed pieces of one caption, before templating.
type Fragments struct {
	Name         string
	Tier         string
	Priced       bool
	Price        string
	PowerText    string
	Total        int
	DisplayTotal int
	Link         string
	Collection   string
	Attributes   []AttributeLine
	Footer       string
}

// Build is pure.
func Build(it nft.Item, s scoring.Result, opt Options) Fragments {
	f := Fragments{
		Name:         displayName(it),
		Tier:         NumberTier(s.NumericBonus),
		Priced:       it.Sale.Priced,
		PowerText:    PowerText(s),
		Total:        s.Total(),
		DisplayTotal: s.DisplayTotal(),
		Link:         Link(it.ID, opt.LinkBase),
		Collection:   it.CollectionName,
		Footer:       strings.TrimSpace(opt.Footer),
	}
	if s.SynergyCount == 0 {
		f.Name += " (no Synergy)"
	}
	if it.Sale.Priced {
		f.Price = nft.FormatTON(it.Sale.Nano)
	}
	for _, a := range s.Attributes {
		f.Attributes = append(f.Attributes, AttributeLine{TraitType: a.TraitType, Value: a.Value, Power: a.Power, Synergy: a.Synergy})
	}
	return f
}

// PowerText is "⚡{display total}" plus the bonus breakdown, if any.
func PowerText(s scoring.Result) string {
	var b strings.Builder
	b.WriteString("⚡")
	b.WriteString(strconv.Itoa(s.DisplayTotal()))
	var parts []string
	if s.SynergyBonus > 0 {
		parts = append(parts, "Synergy +"+strconv.Itoa(s.SynergyBonus))
	}
	if s.NumericBonus > 0 {
		parts = append(parts, "Number +"+strconv.Itoa(s.NumericBonus))
	}
	if len(parts) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// NumberTier names the well-known bonus values; other values get no headline.
func NumberTier(bonus int) string {
	switch bonus {
	case 500:
		return "💥 Cool number!"
	case 1000:
		return "🔥 Incredible number!"
	case 5000:
		return "🍀 Luckiest number!"
	}
	return ""
}

// Link builds the marketplace URL from the friendly address, or "" when the
// id is not a valid address.
func Link(id, base string) string {
	if strings.TrimSpace(id) == "" {
		return ""
	}
	friendly, err := tonaddr.ToFriendly(id)
	if err != nil {
		return ""
	}
	if base = strings.TrimSpace(base); base == "" {
		base = DefaultLinkBase
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + friendly
}

func displayName(it nft.Item) string {
	if n := strings.TrimSpace(it.DisplayName); n != "" {
		return n
	}
	if it.Index > 0 {
		return "#" + strconv.FormatInt(it.Index, 10)
	}
	id := it.ID
	if len(id) > 12 {
		id = id[:12] + "…"
	}
	return id
}
