package feed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func dec(v uint64) *uint64 { return &v }

func TestParseNumber(t *testing.T) {
	cases := []struct {
		input    string
		decimals *uint64
		number   uint64
		outDec   uint64
	}{
		{"12345.67", nil, 1234567, 2},
		{"12345", nil, 12345, 0},
		{"98765.4321", dec(4), 987654321, 4},
		{"1.1234", dec(6), 1123400, 6},
		{"0.1234", dec(6), 123400, 6},
		{"1.1234", dec(2), 112, 2},
		{"0.1234", dec(2), 12, 2},
		{"0.0", dec(2), 0, 2},
		{"1.12", dec(0), 1, 0},
		{"2", dec(2), 200, 2},
	}
	for _, tc := range cases {
		got, err := ParseNumber(tc.input, tc.decimals)
		require.NoError(t, err, tc.input)
		require.Equal(t, tc.number, got.Number, tc.input)
		require.Equal(t, tc.outDec, got.Decimals, tc.input)
	}
}

func TestParseNumberRejectsGarbage(t *testing.T) {
	_, err := ParseNumber("invalid_input", nil)
	require.Error(t, err)

	_, err = ParseNumber("-1.5", dec(2))
	require.Error(t, err)
}

func TestRescale(t *testing.T) {
	v, err := Rescale(123456789, 9, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(12), v)

	v, err = Rescale(12, 2, 6)
	require.NoError(t, err)
	require.Equal(t, uint64(120000), v)

	v, err = Rescale(42, 3, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)
}
