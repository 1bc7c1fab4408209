package models

import (
	"time"

	"github.com/google/uuid"
)

// Review is a client's rating of a finder for one contract
type Review struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ContractID uuid.UUID `json:"contract_id" db:"contract_id"`
	FinderID   uuid.UUID `json:"finder_id" db:"finder_id"`
	ClientID   uuid.UUID `json:"client_id" db:"client_id"`
	Rating     int       `json:"rating" db:"rating"`
	Comment    string    `json:"comment" db:"comment"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
