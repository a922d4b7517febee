package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/params"
)

// ParseWei parses a non-negative base-10 (or 0x-prefixed hex) wei amount.
func ParseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidArgument)
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrInvalidArgument, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidArgument, s)
	}
	return v, nil
}

// FormatWei renders a wei amount in base 10; nil renders as "0".
func FormatWei(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// FormatEther renders a wei amount in ether for human-facing messages.
func FormatEther(v *big.Int) string {
	if v == nil {
		return "0"
	}
	f := new(big.Float).SetPrec(256).SetInt(v)
	f.Quo(f, new(big.Float).SetPrec(256).SetFloat64(params.Ether))
	return f.Text('f', -1)
}

// cloneAmount returns an independent copy so callers never alias stored values.
func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
