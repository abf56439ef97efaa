// Package nft holds the listing model shared by the watcher pipeline.
package nft

import (
	"strconv"
	"strings"
)

// NanoPerTON is the number of nanotons in one TON.
const NanoPerTON = 1_000_000_000

// PendingTag is the dedup tag of an unpriced item.
const PendingTag = "pending"

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// SaleState is either unpriced or priced in nanotons. A zero price is unpriced.
type SaleState struct {
	Priced bool   `json:"priced"`
	Nano   uint64 `json:"nano,omitempty"`
}

func Unpriced() SaleState { return SaleState{} }

func PricedNano(nano uint64) SaleState {
	if nano == 0 {
		return SaleState{}
	}
	return SaleState{Priced: true, Nano: nano}
}

// Tag is "pending" or the TON price without trailing zeros ("12.5").
func (s SaleState) Tag() string {
	if !s.Priced || s.Nano == 0 {
		return PendingTag
	}
	return FormatTON(s.Nano)
}

// FormatTON renders nanotons as a decimal TON amount using integer math.
func FormatTON(nano uint64) string {
	whole := nano / NanoPerTON
	frac := nano % NanoPerTON
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fs := strconv.FormatUint(frac, 10)
	fs = strings.Repeat("0", 9-len(fs)) + fs
	return strconv.FormatUint(whole, 10) + "." + strings.TrimRight(fs, "0")
}

// Item is a resolved NFT as reported by the indexer. Absent fields are zero.
type Item struct {
	ID                string      `json:"id"`
	Index             int64       `json:"index"`
	CollectionAddress string      `json:"collection_address,omitempty"`
	CollectionName    string      `json:"collection_name,omitempty"`
	DisplayName       string      `json:"display_name,omitempty"`
	ImageRef          string      `json:"image_ref,omitempty"`
	Sale              SaleState   `json:"sale"`
	Attributes        []Attribute `json:"attributes,omitempty"`
}

// Key is the normalized id.
func (it Item) Key() string { return NormalizeID(it.ID) }

// DedupKey is normalize(id) + "_" + sale tag.
func (it Item) DedupKey() string { return DedupKey(it.ID, it.Sale.Tag()) }

// Attribute returns the value of the first attribute whose trait type
// matches name case-insensitively.
func (it Item) Attribute(name string) (string, bool) {
	for _, a := range it.Attributes {
		if strings.EqualFold(strings.TrimSpace(a.TraitType), name) {
			return a.Value, true
		}
	}
	return "", false
}

// NormalizeID trims and lowercases an item address.
func NormalizeID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

func DedupKey(id, tag string) string { return NormalizeID(id) + "_" + tag }
