package place

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Place struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	ImageURL    string    `json:"imageUrl"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("place not found")

// the owner row exists but its membership list is empty.
var ErrNoneForOwner = errors.New("no places for this owner")

type CreatePlaceRequest struct {
	Title       string `form:"title" binding:"required,min=1,max=120"`
	Description string `form:"description" binding:"required,min=5,max=1000"`
	Address     string `form:"address" binding:"required,min=1,max=300"`
}

// title and description only; address, coordinates, owner and image are
// immutable once the place is created.
type UpdatePlaceRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=120"`
	Description string `json:"description" binding:"required,min=5,max=1000"`
}

// A factory to build a Place from the incoming DTO plus the derived fields
// (resolved coordinates and stored image reference).

func NewFromCreateRequest(req CreatePlaceRequest, ownerID string, lat, lng float64, imageURL string) Place {
	now := time.Now().UTC()

	return Place{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Address:     req.Address,
		Lat:         lat,
		Lng:         lng,
		ImageURL:    imageURL,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
