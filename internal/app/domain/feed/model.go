package feed

import (
	"strings"
	"time"
)

// Kind selects how a feed is resolved and which answer variant it produces.
type Kind string

const (
	KindDefault      Kind = "default"
	KindCustom       Kind = "custom"
	KindCustomNumber Kind = "custom_number"
	KindCustomString Kind = "custom_string"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDefault, KindCustom, KindCustomNumber, KindCustomString:
		return true
	}
	return false
}

// IsCustom reports whether the feed is resolved from declared sources.
func (k Kind) IsCustom() bool {
	return k == KindCustom || k == KindCustomNumber || k == KindCustomString
}

// CustomPrefix is prepended to the id of every custom feed.
const CustomPrefix = "custom_"

// Byte budget bounds for a source response.
const (
	MinExpectedBytes uint64 = 1
	MaxExpectedBytes uint64 = 2 * 1024 * 1024
)

// APIKey is substituted into a source URI wherever "{Title}" appears.
type APIKey struct {
	Title string `json:"title"`
	Key   string `json:"key"`
}

// Source is one externally fetched data point of a custom feed.
type Source struct {
	URI      string   `json:"uri"`
	APIKeys  []APIKey `json:"api_keys,omitempty"`
	Resolver string   `json:"resolver"`
	// ExpectedBytes caps the response size. Zero means the global maximum.
	ExpectedBytes uint64 `json:"expected_bytes,omitempty"`
}

// URL returns the URI with API key placeholders filled in.
func (s Source) URL() string {
	url := s.URI
	for _, key := range s.APIKeys {
		url = strings.ReplaceAll(url, "{"+key.Title+"}", key.Key)
	}
	return url
}

// MaxResponseBytes returns the effective response cap.
func (s Source) MaxResponseBytes() uint64 {
	if s.ExpectedBytes == 0 || s.ExpectedBytes > MaxExpectedBytes {
		return MaxExpectedBytes
	}
	return s.ExpectedBytes
}

// Censored returns a copy with API key values hidden.
func (s Source) Censored() Source {
	if len(s.APIKeys) == 0 {
		return s
	}
	keys := make([]APIKey, len(s.APIKeys))
	for i, k := range s.APIKeys {
		keys[i] = APIKey{Title: k.Title, Key: "***"}
	}
	s.APIKeys = keys
	return s
}

// Status tracks feed usage.
type Status struct {
	LastUpdate      time.Time `json:"last_update"`
	UpdatedCounter  uint64    `json:"updated_counter"`
	RequestsCounter uint64    `json:"requests_counter"`
}

// Feed describes how to compute one oracle answer.
type Feed struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	UpdateFreq time.Duration `json:"update_freq"`
	Decimals   *uint64       `json:"decimals,omitempty"`
	Owner      string        `json:"owner"`
	Sources    []Source      `json:"sources,omitempty"`
	Status     Status        `json:"status"`
	LastAnswer *Answer       `json:"last_answer,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so callers never alias stored slices.
func (f Feed) Clone() Feed {
	if f.Decimals != nil {
		d := *f.Decimals
		f.Decimals = &d
	}
	if f.Sources != nil {
		sources := make([]Source, len(f.Sources))
		for i, src := range f.Sources {
			if src.APIKeys != nil {
				src.APIKeys = append([]APIKey(nil), src.APIKeys...)
			}
			sources[i] = src
		}
		f.Sources = sources
	}
	if f.LastAnswer != nil {
		a := *f.LastAnswer
		f.LastAnswer = &a
	}
	return f
}

// Censored returns a copy safe to show to callers other than the owner.
func (f Feed) Censored() Feed {
	out := f.Clone()
	for i, src := range out.Sources {
		out.Sources[i] = src.Censored()
	}
	return out
}

// Filter narrows ListFeeds results. Empty fields match everything.
type Filter struct {
	Kind   Kind
	Owner  string
	Search string
}

// Match reports whether f passes the filter.
func (flt Filter) Match(f Feed) bool {
	if flt.Kind != "" && flt.Kind != f.Kind {
		return false
	}
	if flt.Owner != "" && !strings.EqualFold(flt.Owner, f.Owner) {
		return false
	}
	search := strings.ToLower(strings.TrimSpace(flt.Search))
	if search == "" {
		return true
	}
	if strings.Contains(strings.ToLower(f.ID), search) || strings.Contains(strings.ToLower(f.Owner), search) {
		return true
	}
	for _, src := range f.Sources {
		if strings.Contains(strings.ToLower(src.URI), search) {
			return true
		}
	}
	return false
}
