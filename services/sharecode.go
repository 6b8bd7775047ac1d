package services

import (
	"fmt"
	"math/bits"
	"math/big"
	"strings"
)

const sharecodeDictionary = "ABCDEFGHJKLMNOPQRSTUVWXYZabcdefhijkmnopqrstuvwxyz23456789"

// DecodedSharecode holds the three identifiers the game coordinator needs to look up a match.
type DecodedSharecode struct {
	MatchID   uint64 `json:"matchid"`
	OutcomeID uint64 `json:"outcomeid"`
	Token     uint16 `json:"token"`
}

// DecodeSharecode decodes a "CSGO-xxxxx-xxxxx-xxxxx-xxxxx-xxxxx" code.
func DecodeSharecode(code string) (DecodedSharecode, error) {
	raw := strings.ReplaceAll(strings.TrimPrefix(code, "CSGO-"), "-", "")
	if len(raw) != 25 {
		return DecodedSharecode{}, fmt.Errorf("%w: %q", ErrInvalidSharecode, code)
	}

	base := big.NewInt(int64(len(sharecodeDictionary)))
	acc := new(big.Int)
	for i := len(raw) - 1; i >= 0; i-- {
		idx := strings.IndexByte(sharecodeDictionary, raw[i])
		if idx < 0 {
			return DecodedSharecode{}, fmt.Errorf("%w: %q", ErrInvalidSharecode, code)
		}
		acc.Mul(acc, base)
		acc.Add(acc, big.NewInt(int64(idx)))
	}
	if acc.BitLen() > 144 {
		return DecodedSharecode{}, fmt.Errorf("%w: %q", ErrInvalidSharecode, code)
	}

	mask64 := new(big.Int).SetUint64(^uint64(0))
	matchID := new(big.Int).Rsh(acc, 80)
	outcomeID := new(big.Int).Rsh(acc, 16)
	outcomeID.And(outcomeID, mask64)
	token := new(big.Int).And(acc, big.NewInt(0xFFFF))

	return DecodedSharecode{
		MatchID:   bits.ReverseBytes64(matchID.Uint64()),
		OutcomeID: bits.ReverseBytes64(outcomeID.Uint64()),
		Token:     bits.ReverseBytes16(uint16(token.Uint64())),
	}, nil
}
