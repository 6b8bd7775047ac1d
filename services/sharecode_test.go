package services

import (
	"errors"
	"math/big"
	"math/bits"
	"strings"
	"testing"
)

// encodeSharecode is the inverse of DecodeSharecode.
func encodeSharecode(d DecodedSharecode) string {
	acc := new(big.Int).SetUint64(bits.ReverseBytes64(d.MatchID))
	acc.Lsh(acc, 64)
	acc.Or(acc, new(big.Int).SetUint64(bits.ReverseBytes64(d.OutcomeID)))
	acc.Lsh(acc, 16)
	acc.Or(acc, big.NewInt(int64(bits.ReverseBytes16(d.Token))))

	base := big.NewInt(int64(len(sharecodeDictionary)))
	mod := new(big.Int)
	raw := make([]byte, 25)
	for i := range raw {
		acc.DivMod(acc, base, mod)
		raw[i] = sharecodeDictionary[mod.Int64()]
	}
	groups := make([]string, 5)
	for i := range groups {
		groups[i] = string(raw[i*5 : i*5+5])
	}
	return "CSGO-" + strings.Join(groups, "-")
}

func TestDecodeSharecodeRoundTrip(t *testing.T) {
	tests := []DecodedSharecode{
		{MatchID: 3230642215713767425, OutcomeID: 3230647599455273103, Token: 55788},
		{MatchID: 1, OutcomeID: 2, Token: 3},
		{},
	}
	for _, want := range tests {
		code := encodeSharecode(want)
		got, err := DecodeSharecode(code)
		if err != nil {
			t.Fatalf("DecodeSharecode(%s): %v", code, err)
		}
		if got != want {
			t.Errorf("DecodeSharecode(%s) = %+v, want %+v", code, got, want)
		}
	}
}

func TestDecodeSharecodeWithoutPrefix(t *testing.T) {
	want := DecodedSharecode{MatchID: 42, OutcomeID: 43, Token: 44}
	code := strings.TrimPrefix(encodeSharecode(want), "CSGO-")
	got, err := DecodeSharecode(code)
	if err != nil || got != want {
		t.Errorf("DecodeSharecode(%s) = %+v, %v", code, got, err)
	}
}

func TestDecodeSharecodeMalformed(t *testing.T) {
	tests := []string{
		"",
		"CSGO-abc",
		"CSGO-00000-00000-00000-00000-00000", // 0 is not in the alphabet
		"CSGO-99999-99999-99999-99999-99999", // overflows 144 bits
	}
	for _, code := range tests {
		if _, err := DecodeSharecode(code); !errors.Is(err, ErrInvalidSharecode) {
			t.Errorf("DecodeSharecode(%q) err = %v, want ErrInvalidSharecode", code, err)
		}
	}
}
