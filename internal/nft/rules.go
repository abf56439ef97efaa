package nft

import "strings"

// SkinTrait is the trait type the skin filter applies to.
const SkinTrait = "Skin Tone"

// Rules decides which items belong to the watched collection.
type Rules struct {
	// CollectionAddress wins over CollectionName when both are set.
	CollectionAddress string
	CollectionName    string
	RequireImage      bool
}

// CollectionMatches is true when no collection is configured.
func (r Rules) CollectionMatches(it Item) bool {
	if a := NormalizeID(r.CollectionAddress); a != "" {
		return NormalizeID(it.CollectionAddress) == a
	}
	if n := strings.TrimSpace(r.CollectionName); n != "" {
		return strings.TrimSpace(it.CollectionName) == n
	}
	return true
}

// ImageOK reports whether the item passes the image requirement.
func (r Rules) ImageOK(it Item) bool {
	return !r.RequireImage || strings.TrimSpace(it.ImageRef) != ""
}

// Eligible combines the permanent checks; a false result ignores the item.
func (r Rules) Eligible(it Item) (reason string, ok bool) {
	if !r.CollectionMatches(it) {
		return "collection", false
	}
	if !r.ImageOK(it) {
		return "no_image", false
	}
	return "", true
}

// SkinMatches is true for an empty filter. Otherwise the item must carry a
// Skin Tone equal to skin, case-insensitively.
func SkinMatches(it Item, skin string) bool {
	skin = strings.TrimSpace(skin)
	if skin == "" {
		return true
	}
	v, ok := it.Attribute(SkinTrait)
	return ok && strings.EqualFold(strings.TrimSpace(v), skin)
}
