package issuer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coolbank/cardflow/internal/expiry"
	"github.com/coolbank/cardflow/issuer/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const uniqueViolationCode = "23505"

// Repository is the card store plus read-only account and user directories.
// It is backed by Postgres when constructed with NewPGRepository and by
// process memory otherwise.
type Repository struct {
	Cards    []*models.Card
	Accounts []*models.Account
	Users    []*models.User

	mu       sync.RWMutex
	panIndex map[string]uuid.UUID
	db       *sql.DB
}

var (
	_ CardStore        = (*Repository)(nil)
	_ AccountDirectory = (*Repository)(nil)
	_ UserDirectory    = (*Repository)(nil)
)

func NewRepository() *Repository {
	return &Repository{
		Cards:    make([]*models.Card, 0),
		Accounts: make([]*models.Account, 0),
		Users:    make([]*models.User, 0),
		panIndex: make(map[string]uuid.UUID),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// AddAccount registers an account. Account records are owned by another
// service; this exists for fixtures and local development.
func (r *Repository) AddAccount(ctx context.Context, account *models.Account) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		acc := *account
		r.Accounts = append(r.Accounts, &acc)
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts(id, currency, status) VALUES ($1, $2, $3)
	`, account.ID, account.Currency, account.Status)
	return err
}

// AddUser registers a user, see AddAccount.
func (r *Repository) AddUser(ctx context.Context, user *models.User) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		u := *user
		r.Users = append(r.Users, &u)
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users(id, full_name, email, status) VALUES ($1, $2, $3, $4)
	`, user.ID, user.FullName, user.Email, user.Status)
	return err
}

func (r *Repository) FindAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, account := range r.Accounts {
			if account.ID == id {
				acc := *account
				return &acc, nil
			}
		}
		return nil, notFound(ErrAccountNotFound, "account", "id", id)
	}
	var acc models.Account
	err := r.db.QueryRowContext(ctx, `SELECT id, currency, status FROM accounts WHERE id=$1`, id).
		Scan(&acc.ID, &acc.Currency, &acc.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(ErrAccountNotFound, "account", "id", id)
		}
		return nil, fmt.Errorf("finding account: %w", err)
	}
	return &acc, nil
}

func (r *Repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, user := range r.Users {
			if user.ID == id {
				u := *user
				return &u, nil
			}
		}
		return nil, notFound(ErrUserNotFound, "user", "id", id)
	}
	var u models.User
	err := r.db.QueryRowContext(ctx, `SELECT id, full_name, email, status FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.FullName, &u.Email, &u.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(ErrUserNotFound, "user", "id", id)
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &u, nil
}

func (r *Repository) FindUsersByFullName(ctx context.Context, fullName string) ([]*models.User, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var users []*models.User
		for _, user := range r.Users {
			if user.FullName == fullName {
				u := *user
				users = append(users, &u)
			}
		}
		return users, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, full_name, email, status FROM users WHERE full_name=$1 ORDER BY id`, fullName)
	if err != nil {
		return nil, fmt.Errorf("finding users by name: %w", err)
	}
	defer rows.Close()
	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.Status); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (r *Repository) Save(ctx context.Context, card *models.Card) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if owner, ok := r.panIndex[card.CardNumber]; ok && owner != card.ID {
			return fmt.Errorf("card number exists: %w", ErrConflict)
		}
		c := *card
		for i, existing := range r.Cards {
			if existing.ID == card.ID {
				delete(r.panIndex, existing.CardNumber)
				r.Cards[i] = &c
				r.panIndex[c.CardNumber] = c.ID
				return nil
			}
		}
		r.Cards = append(r.Cards, &c)
		r.panIndex[c.CardNumber] = c.ID
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cards(id, card_number, card_holder_full_name, card_holder_id, account_id,
		                  expiration_date, cvv, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
		    card_number = EXCLUDED.card_number,
		    card_holder_full_name = EXCLUDED.card_holder_full_name,
		    status = EXCLUDED.status
	`, card.ID, card.CardNumber, card.CardHolderFullName, card.CardHolderID, card.AccountID,
		expiry.FormatDate(card.ExpirationDate), card.CVV, card.Status, card.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("card number exists: %w", ErrConflict)
	}
	return err
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	if r.db == nil {
		return r.findOne(func(c *models.Card) bool { return c.ID == id }, "id", id)
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id=$1`, id)
	return scanOne(row, "id", id)
}

func (r *Repository) FindByCardNumber(ctx context.Context, number string) (*models.Card, error) {
	if r.db == nil {
		return r.findOne(func(c *models.Card) bool { return c.CardNumber == number }, "card number", number)
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_number=$1`, number)
	return scanOne(row, "card number", number)
}

func (r *Repository) FindAllByCardHolderFullName(ctx context.Context, fullName string) ([]*models.Card, error) {
	if r.db == nil {
		return r.findAll(func(c *models.Card) bool { return c.CardHolderFullName == fullName }), nil
	}
	return r.query(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_holder_full_name=$1 ORDER BY created_at`, fullName)
}

func (r *Repository) FindAllByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error) {
	if r.db == nil {
		return r.findAll(func(c *models.Card) bool { return c.AccountID == accountID }), nil
	}
	return r.query(ctx, `SELECT `+cardColumns+` FROM cards WHERE account_id=$1 ORDER BY created_at`, accountID)
}

func (r *Repository) FindAllByCardHolderID(ctx context.Context, holderID uuid.UUID) ([]*models.Card, error) {
	if r.db == nil {
		return r.findAll(func(c *models.Card) bool { return c.CardHolderID == holderID }), nil
	}
	return r.query(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_holder_id=$1 ORDER BY created_at`, holderID)
}

func (r *Repository) FindAllByCardHolderIDAndStatus(ctx context.Context, holderID uuid.UUID, status string) ([]*models.Card, error) {
	if r.db == nil {
		return r.findAll(func(c *models.Card) bool { return c.CardHolderID == holderID && c.Status == status }), nil
	}
	return r.query(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_holder_id=$1 AND status=$2 ORDER BY created_at`, holderID, status)
}

func (r *Repository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if r.db == nil {
		if len(r.deleteWhere(func(c *models.Card) bool { return c.ID == id })) == 0 {
			return notFound(ErrCardNotFound, "card", "id", id)
		}
		return nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(ErrCardNotFound, "card", "id", id)
	}
	return nil
}

func (r *Repository) DeleteAllByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error) {
	if r.db == nil {
		return r.deleteWhere(func(c *models.Card) bool { return c.AccountID == accountID }), nil
	}
	return r.query(ctx, `DELETE FROM cards WHERE account_id=$1 RETURNING `+cardColumns, accountID)
}

func (r *Repository) DeleteAllByCardHolderID(ctx context.Context, holderID uuid.UUID) ([]*models.Card, error) {
	if r.db == nil {
		return r.deleteWhere(func(c *models.Card) bool { return c.CardHolderID == holderID }), nil
	}
	return r.query(ctx, `DELETE FROM cards WHERE card_holder_id=$1 RETURNING `+cardColumns, holderID)
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func (r *Repository) findOne(match func(*models.Card) bool, key string, value any) (*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.Cards {
		if match(c) {
			card := *c
			return &card, nil
		}
	}
	return nil, notFound(ErrCardNotFound, "card", key, value)
}

func (r *Repository) findAll(match func(*models.Card) bool) []*models.Card {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var cards []*models.Card
	for _, c := range r.Cards {
		if match(c) {
			card := *c
			cards = append(cards, &card)
		}
	}
	return cards
}

func (r *Repository) deleteWhere(match func(*models.Card) bool) []*models.Card {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted []*models.Card
	kept := r.Cards[:0]
	for _, c := range r.Cards {
		if match(c) {
			delete(r.panIndex, c.CardNumber)
			deleted = append(deleted, c)
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(r.Cards); i++ {
		r.Cards[i] = nil
	}
	r.Cards = kept
	return deleted
}

const cardColumns = `id, card_number, card_holder_full_name, card_holder_id, account_id, expiration_date, cvv, status, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (*models.Card, error) {
	var c models.Card
	var exp time.Time
	if err := s.Scan(&c.ID, &c.CardNumber, &c.CardHolderFullName, &c.CardHolderID, &c.AccountID,
		&exp, &c.CVV, &c.Status, &c.CreatedAt); err != nil {
		return nil, err
	}
	// date columns come back at midnight UTC regardless of driver
	c.ExpirationDate = time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, expiry.Location())
	return &c, nil
}

func scanOne(row *sql.Row, key string, value any) (*models.Card, error) {
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(ErrCardNotFound, "card", key, value)
		}
		return nil, fmt.Errorf("finding card: %w", err)
	}
	return c, nil
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]*models.Card, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()
	var cards []*models.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == uniqueViolationCode {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == uniqueViolationCode {
		return true
	}
	return false
}
