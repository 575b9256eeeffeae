package issuer

import (
	"context"

	"github.com/coolbank/cardflow/issuer/models"
	"github.com/google/uuid"
)

// AccountDirectory resolves account ids. Account records are owned elsewhere.
type AccountDirectory interface {
	// FindAccountByID returns ErrAccountNotFound when the account does not exist.
	FindAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// UserDirectory resolves card holders. User records are owned elsewhere.
type UserDirectory interface {
	// FindUserByID returns ErrUserNotFound when the user does not exist.
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// FindUsersByFullName returns every user with exactly that name, possibly none.
	FindUsersByFullName(ctx context.Context, fullName string) ([]*models.User, error)
}

// CardStore persists cards. Implementations must enforce uniqueness of
// CardNumber and report a duplicate as ErrConflict. A single Save or
// DeleteByID is atomic; nothing else is.
type CardStore interface {
	// Save inserts the card, or replaces the stored card with the same ID.
	Save(ctx context.Context, card *models.Card) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error)
	FindByCardNumber(ctx context.Context, number string) (*models.Card, error)

	FindAllByCardHolderFullName(ctx context.Context, fullName string) ([]*models.Card, error)
	FindAllByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error)
	FindAllByCardHolderID(ctx context.Context, holderID uuid.UUID) ([]*models.Card, error)
	FindAllByCardHolderIDAndStatus(ctx context.Context, holderID uuid.UUID, status string) ([]*models.Card, error)

	// DeleteByID returns ErrCardNotFound when nothing was deleted.
	DeleteByID(ctx context.Context, id uuid.UUID) error
	// DeleteAllByAccountID and DeleteAllByCardHolderID return the removed cards.
	DeleteAllByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error)
	DeleteAllByCardHolderID(ctx context.Context, holderID uuid.UUID) ([]*models.Card, error)
}
