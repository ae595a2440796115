package feed

import "encoding/binary"

// Solidity abi.encodePacked layout: strings as raw bytes, unsigned integers
// as 32-byte big-endian words.

func pack(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func packString(s string) []byte {
	return []byte(s)
}

func packUint(v uint64) []byte {
	word := make([]byte, 32)
	binary.BigEndian.PutUint64(word[24:], v)
	return word
}
