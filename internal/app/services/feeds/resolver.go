package feeds

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/metrics"
	"github.com/R3E-Network/oracle_layer/internal/app/services/balances"
	"github.com/R3E-Network/oracle_layer/internal/app/services/exchangerate"
	"github.com/R3E-Network/oracle_layer/internal/app/services/source"
	"github.com/R3E-Network/oracle_layer/internal/app/storage"
)

var pairPattern = regexp.MustCompile(`^\w+/\w+$`)

// ParsePair splits a default feed id into its base and quote symbols.
func ParsePair(id string) (string, string, error) {
	if !pairPattern.MatchString(id) {
		return "", "", fmt.Errorf("%w: %q is not BASE/QUOTE", ErrInvalidFeedID, id)
	}
	parts := strings.SplitN(id, "/", 2)
	return parts[0], parts[1], nil
}

// Resolve computes the current answer for feed id, optionally signing it,
// and records it as the feed's last answer.
func (s *Service) Resolve(ctx context.Context, id string, withSignature bool) (feed.Answer, error) {
	f, err := s.store.GetFeed(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return feed.Answer{}, fmt.Errorf("%w: %s", ErrFeedNotFound, id)
		}
		return feed.Answer{}, err
	}

	answer, err := s.resolve(ctx, f, withSignature)
	if err != nil {
		if recErr := s.store.RecordAnswer(ctx, f.ID, nil, s.now()); recErr != nil {
			s.log.WithError(recErr).WithField("feed_id", f.ID).Warn("record request failed")
		}
		return feed.Answer{}, err
	}

	if err := s.store.RecordAnswer(ctx, f.ID, &answer, s.now()); err != nil {
		s.log.WithError(err).WithField("feed_id", f.ID).Warn("record answer failed")
	}
	return answer, nil
}

func (s *Service) resolve(ctx context.Context, f feed.Feed, withSignature bool) (feed.Answer, error) {
	start := s.now()

	var (
		value feed.Value
		err   error
	)
	switch {
	case f.Kind == feed.KindDefault:
		value, err = s.resolveDefault(ctx, f)
	case f.Kind.IsCustom():
		value, err = s.resolveCustom(ctx, f)
		s.CleanCaches()
	default:
		err = fmt.Errorf("%w: unknown kind %q", ErrInvalidFeed, f.Kind)
	}
	metrics.RecordResolution(string(f.Kind), s.now().Sub(start), err == nil)
	if err != nil {
		return feed.Answer{}, err
	}

	answer := feed.Answer{Data: value}
	if withSignature {
		if s.attestor == nil {
			return feed.Answer{}, fmt.Errorf("no signer configured")
		}
		sig, err := s.attestor.Sign(ctx, value.Packed())
		if err != nil {
			return feed.Answer{}, err
		}
		answer.Signature = hex.EncodeToString(sig)
	}
	return answer, nil
}

// --- default path -----------------------------------------------------------

func (s *Service) resolveDefault(ctx context.Context, f feed.Feed) (feed.Value, error) {
	if cached, ok := s.rates.Get(f.ID); ok {
		s.log.WithField("feed_id", f.ID).Debug("default rate served from cache")
		return cached.(feed.DefaultPriceFeed), nil
	}

	base, quote, err := ParsePair(f.ID)
	if err != nil {
		return nil, err
	}
	req := exchangerate.Request{
		Base:      exchangerate.Asset{Symbol: base, Class: exchangerate.ClassCryptocurrency},
		Quote:     exchangerate.Asset{Symbol: quote, Class: exchangerate.ClassFiatCurrency},
		Timestamp: uint64(s.now().Add(-s.opts.TimestampLag).Unix()),
	}

	rate, err := s.callWithAttempts(ctx, s.primary, req)
	metrics.RecordExchangeRateCall("primary", err == nil)
	if err != nil {
		if exchangerate.IsRateLimited(err) || s.fallback == nil {
			return nil, err
		}
		s.log.WithError(err).WithField("feed_id", f.ID).Warn("primary exchange rate service failed, trying fallback")
		rate, err = s.callWithAttempts(ctx, s.fallback, req)
		metrics.RecordExchangeRateCall("fallback", err == nil)
		if err != nil {
			return nil, err
		}
	}

	value := feed.DefaultPriceFeed{
		Symbol:    f.ID,
		Rate:      rate.Rate,
		Decimals:  uint64(rate.Metadata.Decimals),
		Timestamp: rate.Timestamp,
	}
	if f.Decimals != nil && *f.Decimals != value.Decimals {
		rescaled, err := feed.Rescale(value.Rate, value.Decimals, *f.Decimals)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnableToConvertRate, err)
		}
		value.Rate = rescaled
		value.Decimals = *f.Decimals
	}

	s.rates.Set(f.ID, value, f.UpdateFreq)
	return value, nil
}

// callWithAttempts retries client up to MaxAttempts times. A rate-limited
// answer is returned immediately.
func (s *Service) callWithAttempts(ctx context.Context, client exchangerate.Client, req exchangerate.Request) (exchangerate.Rate, error) {
	if client == nil {
		return exchangerate.Rate{}, fmt.Errorf("exchange rate service not configured")
	}
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		rate, err := client.GetExchangeRate(ctx, req)
		if err == nil {
			return rate, nil
		}
		if exchangerate.IsRateLimited(err) {
			return exchangerate.Rate{}, err
		}
		lastErr = err
		s.log.WithError(err).Debugf("exchange rate attempt %d/%d failed", attempt, s.opts.MaxAttempts)
		if attempt < s.opts.MaxAttempts {
			if err := s.sleep(ctx, s.opts.RetryDelay); err != nil {
				return exchangerate.Rate{}, err
			}
		}
	}
	return exchangerate.Rate{}, lastErr
}

// --- custom path ------------------------------------------------------------

type sourceOutcome struct {
	result source.Result
	err    error
}

func (s *Service) resolveCustom(ctx context.Context, f feed.Feed) (feed.Value, error) {
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("%w: feed %s has no sources", ErrInvalidFeed, f.ID)
	}

	shape := source.ShapeNumber
	if f.Kind == feed.KindCustomString {
		shape = source.ShapeAny
	}

	outcomes := make([]sourceOutcome, len(f.Sources))
	var g errgroup.Group
	for i, src := range f.Sources {
		i, src := i, src
		g.Go(func() error {
			res, err := s.fetcher.Fetch(ctx, src, f.UpdateFreq, shape)
			outcomes[i] = sourceOutcome{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]source.Result, 0, len(outcomes))
	var failures []SourceFailure
	for i, out := range outcomes {
		if out.err != nil {
			failures = append(failures, SourceFailure{URI: f.Sources[i].URI, Err: out.err})
			continue
		}
		results = append(results, out.result)
	}

	if len(failures) > 0 {
		if s.opts.SourcePolicy == PolicyStrict {
			return nil, &SourcesError{FeedID: f.ID, Failures: failures}
		}
		for _, failure := range failures {
			metrics.RecordSourceDropped()
			s.log.WithError(failure.Err).
				WithField("feed_id", f.ID).
				WithField("source", failure.URI).
				Warn("source dropped from aggregation")
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: feed %s", ErrNoRateValue, f.ID)
	}

	if err := s.settleFee(ctx, f, results); err != nil {
		return nil, err
	}
	return aggregate(f, results)
}

func (s *Service) settleFee(ctx context.Context, f feed.Feed, results []source.Result) error {
	var bytes uint64
	for _, r := range results {
		bytes += uint64(r.Bytes)
	}
	fee := s.opts.FeePerByte * bytes
	if fee == 0 {
		return nil
	}

	ok, err := s.balances.IsSufficient(ctx, f.Owner, fee)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s cannot cover fee %d for %s", balances.ErrInsufficientBalance, f.Owner, fee, f.ID)
	}

	reference := "fee:" + f.ID
	if err := s.balances.Transfer(ctx, f.Owner, s.Address(), fee, reference); err != nil {
		return err
	}
	s.log.WithField("feed_id", f.ID).
		WithField("owner", f.Owner).
		WithField("fee", fee).
		Debug("custom feed fee settled")
	return nil
}

func aggregate(f feed.Feed, results []source.Result) (feed.Value, error) {
	switch f.Kind {
	case feed.KindCustomString:
		values := make([]string, 0, len(results))
		for _, r := range results {
			str, ok := r.Value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: got %T", ErrValueTypeIncompatible, r.Value)
			}
			values = append(values, str)
		}
		value, ok := MostFrequent(values)
		if !ok {
			return nil, ErrNoRateValue
		}
		return feed.CustomString{ID: f.ID, Value: value}, nil

	case feed.KindCustomNumber, feed.KindCustom:
		numbers := make([]float64, 0, len(results))
		for _, r := range results {
			n, err := r.Number()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrValueTypeIncompatible, err)
			}
			numbers = append(numbers, n)
		}
		parsed, err := feed.ParseNumber(strconv.FormatFloat(Average(numbers), 'f', -1, 64), f.Decimals)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnableToConvertRate, err)
		}
		if f.Kind == feed.KindCustomNumber {
			return feed.CustomNumber{ID: f.ID, Value: parsed.Number, Decimals: parsed.Decimals}, nil
		}
		return feed.CustomPriceFeed{
			Symbol:    f.ID,
			Rate:      parsed.Number,
			Decimals:  parsed.Decimals,
			Timestamp: latest(results),
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidFeed, f.Kind)
}

// Average returns the arithmetic mean of values.
func Average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// MostFrequent returns the value with the longest run after a stable sort.
// Equal counts keep the run seen first.
func MostFrequent(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	sorted := append([]string(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	best, bestCount := sorted[0], 0
	current, count := sorted[0], 0
	for _, v := range sorted {
		if v == current {
			count++
			continue
		}
		if count > bestCount {
			best, bestCount = current, count
		}
		current, count = v, 1
	}
	if count > bestCount {
		best = current
	}
	return best, true
}

func latest(results []source.Result) uint64 {
	var newest time.Time
	for _, r := range results {
		if r.FetchedAt.After(newest) {
			newest = r.FetchedAt
		}
	}
	return uint64(newest.Unix())
}
