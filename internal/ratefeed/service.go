package ratefeed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/currency"
	"github.com/cambix/cambix/internal/shared"
)

// FetchPort abstracts the feed client.
type FetchPort interface {
	Fetch(ctx context.Context) ([]currency.Quote, error)
}

// RegistryPort is the slice of the currency registry the feed drives.
type RegistryPort interface {
	ApplyFeedRates(ctx context.Context, quotes []currency.Quote) int
}

// Service refreshes registry rates from the feed, keeping the last fetched
// quotes in redis so a feed outage degrades to stale rates instead of none.
type Service struct {
	client   FetchPort
	cache    *redis.Client
	registry RegistryPort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(client FetchPort, cache *redis.Client, registry RegistryPort, logger *slog.Logger) *Service {
	return &Service{client: client, cache: cache, registry: registry, logger: logger}
}

type storedQuote struct {
	Code string `json:"code"`
	Buy  string `json:"buy"`
	Sell string `json:"sell"`
}

// Refresh pulls fresh quotes and applies them to the registry. On fetch
// failure it replays the last stored quotes instead; only context
// cancellation surfaces as an error. Returns the number of applied quotes.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	quotes, err := s.client.Fetch(ctx)
	switch {
	case err == nil:
		s.store(ctx, quotes)
	case ctx.Err() != nil:
		return 0, ctx.Err()
	default:
		s.logger.Warn("rate feed unavailable, replaying last-known quotes", slog.Any("error", err))
		quotes = s.lastKnown(ctx)
		if len(quotes) == 0 {
			s.logger.Warn("no stored quotes to replay")
			return 0, nil
		}
	}

	applied := s.registry.ApplyFeedRates(ctx, quotes)
	s.logger.Info("rates refreshed", slog.Int("fetched", len(quotes)), slog.Int("applied", applied))
	return applied, nil
}

// LastKnown returns the stored quote for one currency, if any.
func (s *Service) LastKnown(ctx context.Context, code string) (currency.Quote, bool) {
	raw, err := s.cache.Get(ctx, shared.RateKey(code)).Bytes()
	if err != nil {
		return currency.Quote{}, false
	}
	q, err := decodeQuote(raw)
	if err != nil {
		return currency.Quote{}, false
	}
	return q, true
}

// store keeps quotes without TTL: stale beats absent for a reference feed.
func (s *Service) store(ctx context.Context, quotes []currency.Quote) {
	for _, q := range quotes {
		raw, err := json.Marshal(storedQuote{Code: q.Code, Buy: q.Buy.String(), Sell: q.Sell.String()})
		if err != nil {
			continue
		}
		if err := s.cache.Set(ctx, shared.RateKey(q.Code), raw, 0).Err(); err != nil {
			s.logger.Warn("store quote", slog.String("code", q.Code), slog.Any("error", err))
			continue
		}
		if err := s.cache.SAdd(ctx, shared.RateCodesKey, q.Code).Err(); err != nil {
			s.logger.Warn("index quote", slog.String("code", q.Code), slog.Any("error", err))
		}
	}
}

func (s *Service) lastKnown(ctx context.Context) []currency.Quote {
	codes, err := s.cache.SMembers(ctx, shared.RateCodesKey).Result()
	if err != nil {
		return nil
	}
	var quotes []currency.Quote
	for _, code := range codes {
		if q, ok := s.LastKnown(ctx, code); ok {
			quotes = append(quotes, q)
		}
	}
	return quotes
}

func decodeQuote(raw []byte) (currency.Quote, error) {
	var sq storedQuote
	if err := json.Unmarshal(raw, &sq); err != nil {
		return currency.Quote{}, err
	}
	var q currency.Quote
	q.Code = sq.Code
	var err error
	if q.Buy, err = decimal.NewFromString(sq.Buy); err != nil {
		return currency.Quote{}, err
	}
	if q.Sell, err = decimal.NewFromString(sq.Sell); err != nil {
		return currency.Quote{}, err
	}
	return q, nil
}
