package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive  = "ACTIVE"
	StatusBlocked = "BLOCKED"
)

type Card struct {
	ID         uuid.UUID
	CardNumber string
	// CardHolderFullName is the holder's name at issuance; it is not re-synced
	CardHolderFullName string
	CardHolderID       uuid.UUID
	AccountID          uuid.UUID
	// ExpirationDate is a calendar date at midnight in the expiry location
	ExpirationDate time.Time
	CVV            string
	Status         string
	CreatedAt      time.Time
}

// CardView is the transport form of a Card.
type CardView struct {
	ID                 uuid.UUID `json:"id"`
	CardNumber         string    `json:"card_number"`
	MaskedNumber       string    `json:"masked_number"`
	CardHolderFullName string    `json:"card_holder_full_name"`
	CardHolderID       uuid.UUID `json:"card_holder_id"`
	AccountID          uuid.UUID `json:"account_id"`
	ExpirationDate     string    `json:"expiration_date"`
	CardFace           string    `json:"card_face"`
	CVV                string    `json:"cvv"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// IssueCard is the issuance request. Exactly one of CardHolderFullName and
// CardHolderID identifies the holder.
type IssueCard struct {
	AccountID          uuid.UUID  `json:"account_id" validate:"required"`
	CardHolderFullName string     `json:"card_holder_full_name" validate:"required_without=CardHolderID,excluded_with=CardHolderID"`
	CardHolderID       *uuid.UUID `json:"card_holder_id,omitempty" validate:"required_without=CardHolderFullName"`
}

type UpdateStatus struct {
	Status string `json:"status" validate:"required"`
}

type DeleteResult struct {
	Deleted int64 `json:"deleted"`
}
