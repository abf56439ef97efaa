package tonaddr

import (
	"errors"
	"strings"
	"testing"
)

func TestFriendly(t *testing.T) {
	tests := []struct {
		raw        string
		bounceable bool
		want       string
	}{
		{"0:" + strings.Repeat("0", 64), true, "EQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAM9c"},
		{"0:" + strings.Repeat("0", 64), false, "UQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAJKZ"},
		{"0:39D63083E48F46452FF8A04CD0D3733A90C8BE299AA5951B62741759B2C17E0E", true, "EQA51jCD5I9GRS_4oEzQ03M6kMi-KZqllRtidBdZssF-DjDh"},
		{"-1:" + strings.Repeat("33", 32), true, "Ef8zMzMzMzMzMzMzMzMzMzMzMzMzMzMzMzMzMzMzMzMzM0vF"},
	}
	for _, tt := range tests {
		a, err := ParseRaw(tt.raw)
		if err != nil {
			t.Fatalf("ParseRaw(%q): %v", tt.raw, err)
		}
		if got := a.Friendly(tt.bounceable); got != tt.want {
			t.Errorf("Friendly(%q, %v) = %q, want %q", tt.raw, tt.bounceable, got, tt.want)
		}
		back, bounce, err := ParseFriendly(tt.want)
		if err != nil {
			t.Fatalf("ParseFriendly(%q): %v", tt.want, err)
		}
		if back != a || bounce != tt.bounceable {
			t.Errorf("round trip of %q = %s bounce=%v", tt.want, back.Raw(), bounce)
		}
	}
}

func TestToFriendlyAcceptsBothForms(t *testing.T) {
	const friendly = "EQA51jCD5I9GRS_4oEzQ03M6kMi-KZqllRtidBdZssF-DjDh"
	for _, in := range []string{
		"0:39d63083e48f46452ff8a04cd0d3733a90c8be299aa5951b62741759b2c17e0e",
		friendly,
		"EQA51jCD5I9GRS/4oEzQ03M6kMi+KZqllRtidBdZssF+DjDh",
	} {
		got, err := ToFriendly(in)
		if err != nil || got != friendly {
			t.Errorf("ToFriendly(%q) = %q, %v", in, got, err)
		}
	}
}

func TestInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"0:abc",
		"x:" + strings.Repeat("0", 64),
		"EQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAM9d",
		"short",
	} {
		if _, err := ToFriendly(in); !errors.Is(err, ErrInvalid) {
			t.Errorf("ToFriendly(%q) err = %v, want ErrInvalid", in, err)
		}
	}
}
