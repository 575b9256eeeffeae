package issuer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/coolbank/cardflow/internal/cardgen"
	"github.com/coolbank/cardflow/internal/expiry"
	"github.com/coolbank/cardflow/issuer/models"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const defaultMaxIssueAttempts = 5

// Service is the only component that creates, mutates or deletes cards.
// It checks references against the account and user directories and
// delegates persistence to the CardStore.
type Service struct {
	cards    CardStore
	accounts AccountDirectory
	users    UserDirectory

	gen              *cardgen.Generator
	events           EventPublisher
	metrics          *Metrics
	logger           *slog.Logger
	now              func() time.Time
	maxIssueAttempts int
}

type Option func(*Service)

// WithGenerator replaces the seeded credential generator, e.g. with a fixed-seed one in tests.
func WithGenerator(g *cardgen.Generator) Option {
	return func(s *Service) { s.gen = g }
}

func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cards CardStore, accounts AccountDirectory, users UserDirectory, cfg *Config, opts ...Option) *Service {
	s := &Service{
		cards:            cards,
		accounts:         accounts,
		users:            users,
		events:           NopPublisher{},
		logger:           slog.Default(),
		now:              time.Now,
		maxIssueAttempts: defaultMaxIssueAttempts,
	}
	if cfg != nil && cfg.MaxIssueAttempts > 0 {
		s.maxIssueAttempts = cfg.MaxIssueAttempts
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gen == nil {
		gen, err := cardgen.NewSeededGenerator()
		if err != nil {
			s.logger.Warn("seeding card generator from crypto/rand failed; using clock seed", slog.Any("err", err))
			gen = cardgen.NewGenerator(rand.NewSource(time.Now().UnixNano()))
		}
		s.gen = gen
	}
	s.logger = s.logger.With(slog.String("component", "card_service"))
	return s
}

// Issue creates a card on accountID for the single user named cardHolderFullName.
func (s *Service) Issue(ctx context.Context, accountID uuid.UUID, cardHolderFullName string) (*models.CardView, error) {
	if accountID == uuid.Nil {
		return nil, invalid("account id is required")
	}
	if strings.TrimSpace(cardHolderFullName) == "" {
		return nil, invalid("card holder full name is required")
	}
	if _, err := s.accounts.FindAccountByID(ctx, accountID); err != nil {
		s.metrics.issueFailed("account")
		return nil, fmt.Errorf("issuing card: %w", err)
	}
	holder, err := s.holderByName(ctx, cardHolderFullName)
	if err != nil {
		s.metrics.issueFailed("holder")
		return nil, fmt.Errorf("issuing card: %w", err)
	}
	return s.issue(ctx, accountID, holder)
}

// IssueForHolder is Issue with the holder given by its stable id.
func (s *Service) IssueForHolder(ctx context.Context, accountID, holderID uuid.UUID) (*models.CardView, error) {
	if accountID == uuid.Nil {
		return nil, invalid("account id is required")
	}
	if holderID == uuid.Nil {
		return nil, invalid("card holder id is required")
	}
	if _, err := s.accounts.FindAccountByID(ctx, accountID); err != nil {
		s.metrics.issueFailed("account")
		return nil, fmt.Errorf("issuing card: %w", err)
	}
	holder, err := s.users.FindUserByID(ctx, holderID)
	if err != nil {
		s.metrics.issueFailed("holder")
		return nil, fmt.Errorf("issuing card: %w", err)
	}
	return s.issue(ctx, accountID, holder)
}

func (s *Service) holderByName(ctx context.Context, fullName string) (*models.User, error) {
	users, err := s.users.FindUsersByFullName(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("finding card holder: %w", err)
	}
	switch len(users) {
	case 0:
		return nil, notFound(ErrUserNotFound, "user", "full name", fullName)
	case 1:
		return users[0], nil
	default:
		return nil, fmt.Errorf("%d users named %q: %w", len(users), fullName, ErrAmbiguousHolder)
	}
}

func (s *Service) issue(ctx context.Context, accountID uuid.UUID, holder *models.User) (*models.CardView, error) {
	now := s.now()
	for attempt := 1; attempt <= s.maxIssueAttempts; attempt++ {
		creds := s.gen.Credentials(now)
		card := &models.Card{
			ID:                 uuid.New(),
			CardNumber:         creds.CardNumber,
			CardHolderFullName: holder.FullName,
			CardHolderID:       holder.ID,
			AccountID:          accountID,
			ExpirationDate:     creds.ExpirationDate,
			CVV:                creds.CVV,
			Status:             models.StatusActive,
			CreatedAt:          now.UTC(),
		}
		err := s.cards.Save(ctx, card)
		if err == nil {
			s.metrics.issued()
			s.logger.Info("card issued",
				slog.String("card_id", card.ID.String()),
				slog.String("card_number", cardgen.MaskPAN(card.CardNumber)),
				slog.String("account_id", accountID.String()),
				slog.String("card_holder_id", holder.ID.String()),
				slog.Int("attempt", attempt),
			)
			s.publish(ctx, newCardEvent(EventCardIssued, card, now))
			view := cardView(card)
			return &view, nil
		}
		if errors.Is(err, ErrConflict) {
			s.metrics.conflict()
			s.logger.Warn("card number collision, regenerating", slog.Int("attempt", attempt))
			continue
		}
		s.metrics.issueFailed("store")
		return nil, fmt.Errorf("creating card: %w", err)
	}
	s.metrics.issueFailed("conflict")
	return nil, fmt.Errorf("could not create unique card after %d attempts: %w", s.maxIssueAttempts, ErrConflict)
}

func (s *Service) GetByID(ctx context.Context, cardID uuid.UUID) (*models.CardView, error) {
	if cardID == uuid.Nil {
		return nil, invalid("card id is required")
	}
	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("finding card: %w", err)
	}
	view := cardView(card)
	return &view, nil
}

func (s *Service) GetByCardNumber(ctx context.Context, cardNumber string) (*models.CardView, error) {
	if err := cardgen.ValidateCardNumber(cardNumber); err != nil {
		return nil, invalid("%v", err)
	}
	card, err := s.cards.FindByCardNumber(ctx, cardNumber)
	if err != nil {
		return nil, fmt.Errorf("finding card: %w", err)
	}
	view := cardView(card)
	return &view, nil
}

// ListByCardHolderFullName returns cards whose name snapshot equals fullName.
// The name must belong to at least one current user.
func (s *Service) ListByCardHolderFullName(ctx context.Context, fullName string) ([]models.CardView, error) {
	if strings.TrimSpace(fullName) == "" {
		return nil, invalid("card holder full name is required")
	}
	users, err := s.users.FindUsersByFullName(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("finding card holder: %w", err)
	}
	if len(users) == 0 {
		return nil, notFound(ErrUserNotFound, "user", "full name", fullName)
	}
	cards, err := s.cards.FindAllByCardHolderFullName(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cardViews(cards), nil
}

func (s *Service) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]models.CardView, error) {
	if err := s.requireAccount(ctx, accountID); err != nil {
		return nil, err
	}
	cards, err := s.cards.FindAllByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cardViews(cards), nil
}

func (s *Service) ListByCardHolderID(ctx context.Context, holderID uuid.UUID) ([]models.CardView, error) {
	cards, err := s.holderCards(ctx, holderID)
	if err != nil {
		return nil, err
	}
	return cardViews(cards), nil
}

// ListByStatus returns the holder's cards with the given status.
func (s *Service) ListByStatus(ctx context.Context, holderID uuid.UUID, status string) ([]models.CardView, error) {
	if status == "" {
		return nil, invalid("status is required")
	}
	if err := s.requireHolder(ctx, holderID); err != nil {
		return nil, err
	}
	cards, err := s.cards.FindAllByCardHolderIDAndStatus(ctx, holderID, status)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cardViews(cards), nil
}

// ListExpired returns the holder's cards that expired before today.
func (s *Service) ListExpired(ctx context.Context, holderID uuid.UUID) ([]models.CardView, error) {
	cards, err := s.holderCards(ctx, holderID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return cardViews(filterCards(cards, func(c *models.Card) bool {
		return expiry.IsExpired(c.ExpirationDate, now)
	})), nil
}

// ListActive returns the holder's cards expiring after today. Status is
// not consulted: a blocked card that has not expired is included.
func (s *Service) ListActive(ctx context.Context, holderID uuid.UUID) ([]models.CardView, error) {
	cards, err := s.holderCards(ctx, holderID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return cardViews(filterCards(cards, func(c *models.Card) bool {
		return expiry.IsActive(c.ExpirationDate, now)
	})), nil
}

// UpdateStatusByID overwrites the card status. Any non-empty status is
// accepted and re-applying the same status is a no-op.
func (s *Service) UpdateStatusByID(ctx context.Context, cardID uuid.UUID, status string) (*models.CardView, error) {
	if cardID == uuid.Nil {
		return nil, invalid("card id is required")
	}
	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("finding card: %w", err)
	}
	return s.updateStatus(ctx, card, status)
}

func (s *Service) UpdateStatusByCardNumber(ctx context.Context, cardNumber, status string) (*models.CardView, error) {
	if err := cardgen.ValidateCardNumber(cardNumber); err != nil {
		return nil, invalid("%v", err)
	}
	card, err := s.cards.FindByCardNumber(ctx, cardNumber)
	if err != nil {
		return nil, fmt.Errorf("finding card: %w", err)
	}
	return s.updateStatus(ctx, card, status)
}

// updateStatus stores status verbatim; only the empty string is rejected.
func (s *Service) updateStatus(ctx context.Context, card *models.Card, status string) (*models.CardView, error) {
	if status == "" {
		return nil, invalid("status is required")
	}
	if card.Status == status {
		view := cardView(card)
		return &view, nil
	}
	previous := card.Status
	card.Status = status
	if err := s.cards.Save(ctx, card); err != nil {
		return nil, fmt.Errorf("updating card status: %w", err)
	}
	s.metrics.statusUpdated(status)
	s.logger.Info("card status updated",
		slog.String("card_id", card.ID.String()),
		slog.String("from", previous),
		slog.String("to", status),
	)
	s.publish(ctx, newCardEvent(EventCardStatusChanged, card, s.now()))
	view := cardView(card)
	return &view, nil
}

// Delete removes one card. Deleting an already deleted card yields ErrCardNotFound.
func (s *Service) Delete(ctx context.Context, cardID uuid.UUID) error {
	if cardID == uuid.Nil {
		return invalid("card id is required")
	}
	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		return fmt.Errorf("finding card: %w", err)
	}
	if err := s.cards.DeleteByID(ctx, cardID); err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	s.metrics.deleted("card", 1)
	s.logger.Info("card deleted", slog.String("card_id", cardID.String()))
	s.publish(ctx, newCardEvent(EventCardDeleted, card, s.now()))
	return nil
}

// DeleteAllByAccount removes every card on the account and returns how many
// were removed. An account without cards is not an error.
func (s *Service) DeleteAllByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	if err := s.requireAccount(ctx, accountID); err != nil {
		return 0, err
	}
	deleted, err := s.cards.DeleteAllByAccountID(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("deleting account cards: %w", err)
	}
	s.afterBulkDelete(ctx, "account", accountID, deleted)
	return len(deleted), nil
}

func (s *Service) DeleteAllByCardHolder(ctx context.Context, holderID uuid.UUID) (int, error) {
	if err := s.requireHolder(ctx, holderID); err != nil {
		return 0, err
	}
	deleted, err := s.cards.DeleteAllByCardHolderID(ctx, holderID)
	if err != nil {
		return 0, fmt.Errorf("deleting holder cards: %w", err)
	}
	s.afterBulkDelete(ctx, "holder", holderID, deleted)
	return len(deleted), nil
}

func (s *Service) afterBulkDelete(ctx context.Context, scope string, key uuid.UUID, deleted []*models.Card) {
	s.metrics.deleted(scope, len(deleted))
	s.logger.Info("cards deleted",
		slog.String("scope", scope),
		slog.String("key", key.String()),
		slog.Int("count", len(deleted)),
	)
	now := s.now()
	events := make([]CardEvent, 0, len(deleted))
	for _, c := range deleted {
		events = append(events, newCardEvent(EventCardDeleted, c, now))
	}
	s.publish(ctx, events...)
}

func (s *Service) requireAccount(ctx context.Context, accountID uuid.UUID) error {
	if accountID == uuid.Nil {
		return invalid("account id is required")
	}
	if _, err := s.accounts.FindAccountByID(ctx, accountID); err != nil {
		return fmt.Errorf("finding account: %w", err)
	}
	return nil
}

func (s *Service) requireHolder(ctx context.Context, holderID uuid.UUID) error {
	if holderID == uuid.Nil {
		return invalid("card holder id is required")
	}
	if _, err := s.users.FindUserByID(ctx, holderID); err != nil {
		return fmt.Errorf("finding card holder: %w", err)
	}
	return nil
}

func (s *Service) holderCards(ctx context.Context, holderID uuid.UUID) ([]*models.Card, error) {
	if err := s.requireHolder(ctx, holderID); err != nil {
		return nil, err
	}
	cards, err := s.cards.FindAllByCardHolderID(ctx, holderID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

func (s *Service) publish(ctx context.Context, events ...CardEvent) {
	if len(events) == 0 {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		s.logger.Warn("publishing card events",
			slog.String("type", events[0].Type),
			slog.Int("count", len(events)),
			slog.Any("err", err),
		)
	}
}

func filterCards(cards []*models.Card, keep func(*models.Card) bool) []*models.Card {
	var out []*models.Card
	for _, c := range cards {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
