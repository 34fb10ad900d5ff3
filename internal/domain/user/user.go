package user

import (
	"errors"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	Name         string    `json:"name"`
	ImageURL     string    `json:"imageUrl"`
	Role         string    `json:"role"`
	// PlaceIDs is the denormalized membership list: the ids of every place
	// this user owns. Only the transactional place engine may mutate it.
	PlaceIDs  []string  `json:"places"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("user not found")
