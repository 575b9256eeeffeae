package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coolbank/cardflow/internal/cardgen"
	"github.com/coolbank/cardflow/internal/expiry"
	"github.com/coolbank/cardflow/issuer/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"
)

const (
	cardKeyPrefix = "cardflow:card:id:"
	panKeyPrefix  = "cardflow:card:pan:"
	genKeyPrefix  = "cardflow:card:gen:"
)

// CachedStore is a Redis read-through cache for single-card lookups in
// front of another CardStore. List queries pass through untouched. Redis
// failures are logged and the inner store is used instead.
//
// Card number keys are HMACs of the number, never the number itself.
//
// Every write bumps a per-card generation counter. A lookup that missed
// only fills the cache if the generation it read before loading is still
// current, so a load racing a Save or delete cannot cache the old row.
type CachedStore struct {
	CardStore

	client  *redis.Client
	ttl     time.Duration
	hashKey []byte
	group   singleflight.Group
	logger  *slog.Logger
	metrics *Metrics
}

func NewCachedStore(inner CardStore, client *redis.Client, ttl time.Duration, hashKey []byte, logger *slog.Logger, metrics *Metrics) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		CardStore: inner,
		client:    client,
		ttl:       ttl,
		hashKey:   hashKey,
		logger:    logger.With(slog.String("component", "card_cache")),
		metrics:   metrics,
	}
}

func (s *CachedStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	if card, ok := s.get(ctx, id); ok {
		s.metrics.cache("hit")
		return card, nil
	}
	s.metrics.cache("miss")

	v, err, _ := s.group.Do(id.String(), func() (any, error) {
		gen, genOK := s.generation(ctx, id)
		card, err := s.CardStore.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if genOK {
			s.put(ctx, card, gen)
		}
		return card, nil
	})
	if err != nil {
		return nil, err
	}
	card := *v.(*models.Card)
	return &card, nil
}

func (s *CachedStore) FindByCardNumber(ctx context.Context, number string) (*models.Card, error) {
	raw, err := s.client.Get(ctx, s.panKey(number)).Result()
	switch {
	case err == nil:
		if id, perr := uuid.Parse(raw); perr == nil {
			// the pointer may be stale after a delete or renumbering
			if card, ferr := s.FindByID(ctx, id); ferr == nil && card.CardNumber == number {
				return card, nil
			}
		}
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("reading card number key", slog.Any("err", err))
	}

	card, err := s.CardStore.FindByCardNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	// only the pointer is cached here; the card body is filled by FindByID
	if err := s.client.Set(ctx, s.panKey(number), card.ID.String(), s.ttl).Err(); err != nil {
		s.logger.Warn("caching card number key", slog.Any("err", err))
	}
	return card, nil
}

func (s *CachedStore) Save(ctx context.Context, card *models.Card) error {
	if err := s.CardStore.Save(ctx, card); err != nil {
		return err
	}
	s.invalidate(ctx, card)
	return nil
}

func (s *CachedStore) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if err := s.CardStore.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, &models.Card{ID: id})
	return nil
}

func (s *CachedStore) DeleteAllByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error) {
	deleted, err := s.CardStore.DeleteAllByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, deleted...)
	return deleted, nil
}

func (s *CachedStore) DeleteAllByCardHolderID(ctx context.Context, holderID uuid.UUID) ([]*models.Card, error) {
	deleted, err := s.CardStore.DeleteAllByCardHolderID(ctx, holderID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, deleted...)
	return deleted, nil
}

func (s *CachedStore) cardKey(id uuid.UUID) string {
	return cardKeyPrefix + id.String()
}

func (s *CachedStore) genKey(id uuid.UUID) string {
	return genKeyPrefix + id.String()
}

func (s *CachedStore) panKey(number string) string {
	return panKeyPrefix + cardgen.PANKey(number, s.hashKey)
}

func (s *CachedStore) get(ctx context.Context, id uuid.UUID) (*models.Card, bool) {
	raw, err := s.client.Get(ctx, s.cardKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("reading card", slog.String("card_id", id.String()), slog.Any("err", err))
		}
		return nil, false
	}
	var card models.Card
	if err := json.Unmarshal(raw, &card); err != nil {
		s.logger.Warn("decoding cached card", slog.String("card_id", id.String()), slog.Any("err", err))
		return nil, false
	}
	exp := card.ExpirationDate
	card.ExpirationDate = time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, expiry.Location())
	return &card, true
}

// generation returns the card's write counter. A missing key reads as 0.
func (s *CachedStore) generation(ctx context.Context, id uuid.UUID) (int64, bool) {
	gen, err := s.client.Get(ctx, s.genKey(id)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("reading card generation", slog.String("card_id", id.String()), slog.Any("err", err))
		return 0, false
	}
	return gen, true
}

// put caches card unless its generation moved past gen.
func (s *CachedStore) put(ctx context.Context, card *models.Card, gen int64) {
	raw, err := json.Marshal(card)
	if err != nil {
		s.logger.Warn("encoding card", slog.String("card_id", card.ID.String()), slog.Any("err", err))
		return
	}
	genKey := s.genKey(card.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return redis.TxFailedErr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.cardKey(card.ID), raw, s.ttl)
			pipe.Set(ctx, s.panKey(card.CardNumber), card.ID.String(), s.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		s.metrics.cache("stale")
	case err != nil:
		s.logger.Warn("caching card", slog.String("card_id", card.ID.String()), slog.Any("err", err))
	}
}

func (s *CachedStore) invalidate(ctx context.Context, cards ...*models.Card) {
	if len(cards) == 0 {
		return
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, c := range cards {
			genKey := s.genKey(c.ID)
			pipe.Incr(ctx, genKey)
			if s.ttl > 0 {
				pipe.Expire(ctx, genKey, 2*s.ttl)
			}
			keys := []string{s.cardKey(c.ID)}
			if c.CardNumber != "" {
				keys = append(keys, s.panKey(c.CardNumber))
			}
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("invalidating cards", slog.Int("count", len(cards)), slog.Any("err", err))
	}
	// later lookups must not join a load that started before this write
	for _, c := range cards {
		s.group.Forget(c.ID.String())
	}
}

// Ping reports whether Redis is reachable.
func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}
