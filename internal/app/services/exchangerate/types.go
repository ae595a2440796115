package exchangerate

import (
	"errors"
	"fmt"
)

// AssetClass distinguishes crypto from fiat assets.
type AssetClass string

const (
	ClassCryptocurrency AssetClass = "Cryptocurrency"
	ClassFiatCurrency   AssetClass = "FiatCurrency"
)

// Asset identifies one side of a pair.
type Asset struct {
	Symbol string     `json:"symbol"`
	Class  AssetClass `json:"class"`
}

// Request asks for the base/quote rate at a unix timestamp (seconds).
type Request struct {
	Base      Asset  `json:"base_asset"`
	Quote     Asset  `json:"quote_asset"`
	Timestamp uint64 `json:"timestamp,omitempty"`
}

// Metadata describes how a rate was computed.
type Metadata struct {
	Decimals                    uint32  `json:"decimals"`
	ForexTimestamp              *uint64 `json:"forex_timestamp,omitempty"`
	BaseAssetNumReceivedRates   uint64  `json:"base_asset_num_received_rates"`
	BaseAssetNumQueriedSources  uint64  `json:"base_asset_num_queried_sources"`
	QuoteAssetNumReceivedRates  uint64  `json:"quote_asset_num_received_rates"`
	QuoteAssetNumQueriedSources uint64  `json:"quote_asset_num_queried_sources"`
	StandardDeviation           uint64  `json:"standard_deviation"`
}

// Rate is a fixed-point rate with Metadata.Decimals fractional digits.
type Rate struct {
	Base      Asset    `json:"base_asset"`
	Quote     Asset    `json:"quote_asset"`
	Timestamp uint64   `json:"timestamp"`
	Rate      uint64   `json:"rate"`
	Metadata  Metadata `json:"metadata"`
}

// ErrorKind enumerates the rate service's error responses.
type ErrorKind string

const (
	KindAnonymousPrincipalNotAllowed ErrorKind = "AnonymousPrincipalNotAllowed"
	KindPending                      ErrorKind = "Pending"
	KindCryptoBaseAssetNotFound      ErrorKind = "CryptoBaseAssetNotFound"
	KindCryptoQuoteAssetNotFound     ErrorKind = "CryptoQuoteAssetNotFound"
	KindStablecoinRateNotFound       ErrorKind = "StablecoinRateNotFound"
	KindStablecoinRateTooFewRates    ErrorKind = "StablecoinRateTooFewRates"
	KindStablecoinRateZeroRate       ErrorKind = "StablecoinRateZeroRate"
	KindForexInvalidTimestamp        ErrorKind = "ForexInvalidTimestamp"
	KindForexBaseAssetNotFound       ErrorKind = "ForexBaseAssetNotFound"
	KindForexQuoteAssetNotFound      ErrorKind = "ForexQuoteAssetNotFound"
	KindForexAssetsNotFound          ErrorKind = "ForexAssetsNotFound"
	KindRateLimited                  ErrorKind = "RateLimited"
	KindNotEnoughCycles              ErrorKind = "NotEnoughCycles"
	KindFailedToAcceptCycles         ErrorKind = "FailedToAcceptCycles"
	KindInconsistentRatesReceived    ErrorKind = "InconsistentRatesReceived"
	KindOther                        ErrorKind = "Other"
)

var kindMessages = map[ErrorKind]string{
	KindAnonymousPrincipalNotAllowed: "anonymous principal not allowed",
	KindPending:                      "pending",
	KindCryptoBaseAssetNotFound:      "crypto base asset not found",
	KindCryptoQuoteAssetNotFound:     "crypto quote asset not found",
	KindStablecoinRateNotFound:       "stablecoin rate not found",
	KindStablecoinRateTooFewRates:    "stablecoin rate too few rates",
	KindStablecoinRateZeroRate:       "stablecoin rate zero rate",
	KindForexInvalidTimestamp:        "forex invalid timestamp",
	KindForexBaseAssetNotFound:       "forex base asset not found",
	KindForexQuoteAssetNotFound:      "forex quote asset not found",
	KindForexAssetsNotFound:          "forex assets not found",
	KindRateLimited:                  "rate limited",
	KindNotEnoughCycles:              "not enough cycles",
	KindFailedToAcceptCycles:         "failed to accept cycles",
	KindInconsistentRatesReceived:    "inconsistent rates received",
}

// ServiceError is an error answered by the rate service itself.
type ServiceError struct {
	Kind        ErrorKind `json:"kind"`
	Code        uint32    `json:"code,omitempty"`
	Description string    `json:"description,omitempty"`
}

func (e *ServiceError) Error() string {
	if msg, ok := kindMessages[e.Kind]; ok {
		return "exchange rate service error: " + msg
	}
	return fmt.Sprintf("exchange rate service error: unexpected error %d: %s", e.Code, e.Description)
}

// IsRateLimited reports whether err carries the RateLimited kind.
func IsRateLimited(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == KindRateLimited
}
