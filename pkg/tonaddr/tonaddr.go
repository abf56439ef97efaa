// Package tonaddr converts TON raw addresses ("0:<hex>") to the user-friendly
// base64url form used in explorer and marketplace links.
package tonaddr

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	tagBounceable    byte = 0x11
	tagNonBounceable byte = 0x51
	tagTestOnly      byte = 0x80
)

var ErrInvalid = errors.New("tonaddr: invalid address")

// Address is a workchain plus 32-byte account id.
type Address struct {
	Workchain int8
	Hash      [32]byte
}

// ParseRaw parses "<workchain>:<64 hex>".
func ParseRaw(raw string) (Address, error) {
	wc, h, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Address{}, fmt.Errorf("%w: missing workchain in %q", ErrInvalid, raw)
	}
	n, err := strconv.ParseInt(wc, 10, 8)
	if err != nil {
		return Address{}, fmt.Errorf("%w: workchain: %v", ErrInvalid, err)
	}
	b, err := hex.DecodeString(h)
	if err != nil || len(b) != 32 {
		return Address{}, fmt.Errorf("%w: hash must be 64 hex chars", ErrInvalid)
	}
	a := Address{Workchain: int8(n)}
	copy(a.Hash[:], b)
	return a, nil
}

// ParseFriendly decodes a 48-char friendly address (either base64 alphabet)
// and verifies its checksum.
func ParseFriendly(s string) (Address, bool, error) {
	s = strings.TrimSpace(s)
	if len(s) != 48 {
		return Address{}, false, fmt.Errorf("%w: friendly form is 48 chars", ErrInvalid)
	}
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil || len(b) != 36 {
		return Address{}, false, fmt.Errorf("%w: bad base64", ErrInvalid)
	}
	if crc16(b[:34]) != binary.BigEndian.Uint16(b[34:]) {
		return Address{}, false, fmt.Errorf("%w: checksum mismatch", ErrInvalid)
	}
	tag := b[0] &^ tagTestOnly
	if tag != tagBounceable && tag != tagNonBounceable {
		return Address{}, false, fmt.Errorf("%w: unknown tag %#x", ErrInvalid, b[0])
	}
	a := Address{Workchain: int8(b[1])}
	copy(a.Hash[:], b[2:34])
	return a, tag == tagBounceable, nil
}

// Parse accepts either form.
func Parse(s string) (Address, error) {
	if strings.Contains(s, ":") {
		return ParseRaw(s)
	}
	a, _, err := ParseFriendly(s)
	return a, err
}

// Raw renders "<workchain>:<hex>".
func (a Address) Raw() string {
	return strconv.Itoa(int(a.Workchain)) + ":" + hex.EncodeToString(a.Hash[:])
}

// Friendly renders the url-safe form. bounceable is the usual choice for
// contracts such as NFT items.
func (a Address) Friendly(bounceable bool) string {
	var b [36]byte
	b[0] = tagBounceable
	if !bounceable {
		b[0] = tagNonBounceable
	}
	b[1] = byte(a.Workchain)
	copy(b[2:34], a.Hash[:])
	binary.BigEndian.PutUint16(b[34:], crc16(b[:34]))
	return base64.URLEncoding.EncodeToString(b[:])
}

// ToFriendly converts any accepted form to the bounceable url-safe form.
func ToFriendly(s string) (string, error) {
	a, err := Parse(s)
	if err != nil {
		return "", err
	}
	return a.Friendly(true), nil
}

// crc16 is CRC-16/XMODEM (poly 0x1021, init 0).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
