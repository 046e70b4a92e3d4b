package core

import (
	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string used as the primary key of every row.
func NewID() string {
	return uuid.NewString()
}
