package feed

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsedNumber is a decimal string converted to an integer with an explicit
// number of fractional digits.
type ParsedNumber struct {
	Number   uint64
	Decimals uint64
}

// ParseNumber rescales input to the requested number of fractional digits,
// truncating extra digits and zero-padding missing ones. With decimals nil the
// digits present in input are kept as-is.
func ParseNumber(input string, decimals *uint64) (ParsedNumber, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		return ParsedNumber{}, fmt.Errorf("parse number %q: %w", input, err)
	}
	if d.IsNegative() {
		return ParsedNumber{}, fmt.Errorf("parse number %q: negative values are not supported", input)
	}

	target := uint64(0)
	if exp := d.Exponent(); exp < 0 {
		target = uint64(-exp)
	}
	if decimals != nil {
		target = *decimals
	}

	n, err := toUint(d, target)
	if err != nil {
		return ParsedNumber{}, fmt.Errorf("parse number %q: %w", input, err)
	}
	return ParsedNumber{Number: n, Decimals: target}, nil
}

// Rescale moves an integer with from fractional digits to to fractional
// digits, truncating on the way down.
func Rescale(value, from, to uint64) (uint64, error) {
	if from == to {
		return value, nil
	}
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(value), -int32(from))
	return toUint(d, to)
}

func toUint(d decimal.Decimal, decimals uint64) (uint64, error) {
	if decimals > 38 {
		return 0, fmt.Errorf("too many decimals: %d", decimals)
	}
	shifted := d.Shift(int32(decimals)).Truncate(0)
	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("value %s overflows uint64", shifted.String())
	}
	return bi.Uint64(), nil
}
