package models

import "github.com/google/uuid"

// Account is the part of an account record the issuer reads.
type Account struct {
	ID       uuid.UUID
	Currency string
	Status   string
}

// User is the part of a user record the issuer reads.
type User struct {
	ID       uuid.UUID
	FullName string
	Email    string
	Status   string
}
