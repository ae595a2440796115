package feed

import (
	"encoding/json"
	"fmt"
)

// Value is the closed set of answer payloads. Implementations live in this
// package only.
type Value interface {
	// Packed returns the tightly packed byte encoding that is signed.
	Packed() []byte
	kind() string
}

// DefaultPriceFeed is produced by the exchange-rate path.
type DefaultPriceFeed struct {
	Symbol    string `json:"symbol"`
	Rate      uint64 `json:"rate"`
	Decimals  uint64 `json:"decimals"`
	Timestamp uint64 `json:"timestamp"`
}

// CustomPriceFeed is a numeric aggregate over custom sources with a freshness
// timestamp.
type CustomPriceFeed struct {
	Symbol    string `json:"symbol"`
	Rate      uint64 `json:"rate"`
	Decimals  uint64 `json:"decimals"`
	Timestamp uint64 `json:"timestamp"`
}

// CustomNumber is a numeric aggregate without a timestamp.
type CustomNumber struct {
	ID       string `json:"id"`
	Value    uint64 `json:"value"`
	Decimals uint64 `json:"decimals"`
}

// CustomString is the most frequent string among custom sources.
type CustomString struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

func (v DefaultPriceFeed) kind() string { return "default_price_feed" }
func (v CustomPriceFeed) kind() string  { return "custom_price_feed" }
func (v CustomNumber) kind() string     { return "custom_number" }
func (v CustomString) kind() string     { return "custom_string" }

func (v DefaultPriceFeed) Packed() []byte {
	return pack(packString(v.Symbol), packUint(v.Rate), packUint(v.Decimals), packUint(v.Timestamp))
}

func (v CustomPriceFeed) Packed() []byte {
	return pack(packString(v.Symbol), packUint(v.Rate), packUint(v.Decimals), packUint(v.Timestamp))
}

func (v CustomNumber) Packed() []byte {
	return pack(packString(v.ID), packUint(v.Value), packUint(v.Decimals))
}

func (v CustomString) Packed() []byte {
	return pack(packString(v.ID), packString(v.Value))
}

// Answer is a resolved value plus an optional hex signature over its packed
// encoding.
type Answer struct {
	Data      Value
	Signature string
}

type answerJSON struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

// MarshalJSON tags the payload with its variant name.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Data == nil {
		return nil, fmt.Errorf("answer has no data")
	}
	data, err := json.Marshal(a.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerJSON{Type: a.Data.kind(), Data: data, Signature: a.Signature})
}

// UnmarshalJSON restores the variant named by the type tag.
func (a *Answer) UnmarshalJSON(b []byte) error {
	var raw answerJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var v Value
	switch raw.Type {
	case DefaultPriceFeed{}.kind():
		var d DefaultPriceFeed
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return err
		}
		v = d
	case CustomPriceFeed{}.kind():
		var d CustomPriceFeed
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return err
		}
		v = d
	case CustomNumber{}.kind():
		var d CustomNumber
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return err
		}
		v = d
	case CustomString{}.kind():
		var d CustomString
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return err
		}
		v = d
	default:
		return fmt.Errorf("unknown answer type %q", raw.Type)
	}
	a.Data = v
	a.Signature = raw.Signature
	return nil
}
