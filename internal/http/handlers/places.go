package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/placehub/internal/domain/place"
	"github.com/geocoder89/placehub/internal/domain/user"
	"github.com/geocoder89/placehub/internal/geo"
	"github.com/geocoder89/placehub/internal/http/middlewares"
	"github.com/geocoder89/placehub/internal/observability"
	"github.com/geocoder89/placehub/internal/ownership"
	"github.com/geocoder89/placehub/internal/repo"
	"github.com/geocoder89/placehub/internal/storage"
	"github.com/geocoder89/placehub/internal/utils"
	"github.com/gin-gonic/gin"
)

// PlacesStore is the slice of the entity store the engine needs. The place
// write and the owner's membership update share one transaction; they are
// never observable separately.
type PlacesStore interface {
	BeginTx(ctx context.Context) (repo.Tx, error)
	CreateTx(ctx context.Context, tx repo.Tx, p place.Place) error
	DeleteTx(ctx context.Context, tx repo.Tx, placeID, ownerID string) error
	GetByID(ctx context.Context, id string) (place.Place, error)
	GetWithOwner(ctx context.Context, id string) (place.Place, user.User, error)
	GetByOwner(ctx context.Context, ownerID string) ([]place.Place, error)
	Update(ctx context.Context, id string, req place.UpdatePlaceRequest) (place.Place, error)
}

type UserGetter interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type PlacesHandler struct {
	store    PlacesStore
	users    UserGetter
	resolver geo.Resolver
	blobs    storage.BlobStore
	log      *slog.Logger
	prom     *observability.Prom
}

func NewPlacesHandler(store PlacesStore, users UserGetter, resolver geo.Resolver, blobs storage.BlobStore, log *slog.Logger, prom *observability.Prom) *PlacesHandler {
	return &PlacesHandler{
		store:    store,
		users:    users,
		resolver: resolver,
		blobs:    blobs,
		log:      log,
		prom:     prom,
	}
}

// timeouts derive from the request context so client cancellation propagates
// into the resolver, the blob store and the transaction.
func (h *PlacesHandler) opContext(ctx *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), d)
}

func (h *PlacesHandler) geocodeResult(result string) {
	if h.prom != nil {
		h.prom.GeocodeLookups.WithLabelValues(result).Inc()
	}
}

// compensating delete for a blob whose transaction never committed, and for
// post-commit cleanup after a delete. Failure is logged, never surfaced.
func (h *PlacesHandler) cleanupBlob(ctx context.Context, ref string) {
	if ref == "" {
		return
	}

	// the cleanup must run even when the op context already expired; that is
	// often exactly why the transaction failed
	if err := h.blobs.Remove(context.WithoutCancel(ctx), ref); err != nil {
		h.log.Error("blob cleanup failed", "ref", ref, "err", err)

		if h.prom != nil {
			h.prom.BlobCleanupFailures.Inc()
		}
	}
}

func (h *PlacesHandler) CreatePlace(ctx *gin.Context) {
	identity, ok := middlewares.UserIDFromContext(ctx)

	if !ok || identity == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	var req place.CreatePlaceRequest

	if !BindForm(ctx, &req) {
		return
	}

	cctx, cancel := h.opContext(ctx, 10*time.Second)

	defer cancel()

	// 1) resolve the address before any storage write
	coords, err := h.resolver.Resolve(cctx, req.Address)

	if err != nil {
		switch {
		case errors.Is(err, geo.ErrAddressNotFound):
			h.geocodeResult("not_found")
			RespondUnprocessable(ctx, "Could not find location for the specified address.", nil)
		default:
			h.geocodeResult("unavailable")
			RespondError(ctx, http.StatusInternalServerError, "geocoding_failed", "Could not resolve address, please try again.", nil)
		}
		return
	}

	h.geocodeResult("ok")

	// 2) the owner must exist even though the identity is authenticated;
	// token and storage can disagree across requests
	u, err := h.users.GetByID(cctx, identity)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "Could not find user for provided id.")
			return
		}

		RespondInternal(ctx, "Could not create place.")
		return
	}

	// 3) persist the uploaded image and capture its reference
	file, err := ctx.FormFile("image")

	if err != nil {
		RespondUnprocessable(ctx, "An image is required.", nil)
		return
	}

	f, err := file.Open()

	if err != nil {
		RespondInternal(ctx, "Could not read uploaded image.")
		return
	}

	defer f.Close()

	imageRef, err := h.blobs.Save(cctx, f, file.Filename)

	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedType) {
			RespondUnprocessable(ctx, "Unsupported image type.", nil)
			return
		}

		RespondInternal(ctx, "Could not store uploaded image.")
		return
	}

	p := place.NewFromCreateRequest(req, u.ID, coords.Lat, coords.Lng, imageRef)

	// 4) place insert and membership append commit together or not at all;
	// any failure past this point orphans the blob, so compensate
	tx, err := h.store.BeginTx(cctx)

	if err != nil {
		h.cleanupBlob(cctx, imageRef)
		RespondInternal(ctx, "Creating place failed, please try again.")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	err = h.store.CreateTx(cctx, tx, p)

	if err != nil {
		h.cleanupBlob(cctx, imageRef)

		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "Could not find user for provided id.")
			return
		}

		RespondInternal(ctx, "Creating place failed, please try again.")
		return
	}

	err = tx.Commit(cctx)

	if err != nil {
		h.cleanupBlob(cctx, imageRef)
		RespondInternal(ctx, "Creating place failed, please try again.")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"place": p})
}

func (h *PlacesHandler) GetPlaceByID(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "place id must be a valid UUID", nil)
		return
	}

	cctx, cancel := h.opContext(ctx, 2*time.Second)

	defer cancel()

	p, err := h.store.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, place.ErrNotFound) {
			RespondNotFound(ctx, "Could not find a place for the provided id.")
			return
		}

		RespondInternal(ctx, "Something went wrong, could not find a place.")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"place": p})
}

func (h *PlacesHandler) GetPlacesByUser(ctx *gin.Context) {
	uid := ctx.Param("uid")

	if !utils.IsUUID(uid) {
		RespondBadRequest(ctx, "user id must be a valid UUID", nil)
		return
	}

	cctx, cancel := h.opContext(ctx, 2*time.Second)

	defer cancel()

	places, err := h.store.GetByOwner(cctx, uid)

	if err != nil {
		// a missing owner and an empty membership list both read as 404,
		// matching the original API contract
		if errors.Is(err, user.ErrNotFound) || errors.Is(err, place.ErrNoneForOwner) {
			RespondNotFound(ctx, "Could not find places for the provided user id.")
			return
		}

		RespondInternal(ctx, "Fetching places failed, please try again later.")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"places": places})
}

func (h *PlacesHandler) UpdatePlace(ctx *gin.Context) {
	identity, ok := middlewares.UserIDFromContext(ctx)

	if !ok || identity == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "place id must be a valid UUID", nil)
		return
	}

	var req place.UpdatePlaceRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := h.opContext(ctx, 3*time.Second)

	defer cancel()

	p, err := h.store.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, place.ErrNotFound) {
			RespondNotFound(ctx, "Could not find a place for the provided id.")
			return
		}

		RespondInternal(ctx, "Something went wrong, could not update place.")
		return
	}

	if d := ownership.Check(identity, p.OwnerID); !d.Allowed {
		RespondForbidden(ctx, "not_owner", "You are not allowed to edit this place.")
		return
	}

	updated, err := h.store.Update(cctx, id, req)

	if err != nil {
		if errors.Is(err, place.ErrNotFound) {
			RespondNotFound(ctx, "Could not find a place for the provided id.")
			return
		}

		RespondInternal(ctx, "Something went wrong, could not update place.")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"place": updated})
}

func (h *PlacesHandler) DeletePlace(ctx *gin.Context) {
	identity, ok := middlewares.UserIDFromContext(ctx)

	if !ok || identity == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "place id must be a valid UUID", nil)
		return
	}

	cctx, cancel := h.opContext(ctx, 5*time.Second)

	defer cancel()

	// joined load: the place together with its owner
	p, owner, err := h.store.GetWithOwner(cctx, id)

	if err != nil {
		if errors.Is(err, place.ErrNotFound) {
			RespondNotFound(ctx, "Could not find place for this id.")
			return
		}

		RespondInternal(ctx, "Something went wrong, could not delete place.")
		return
	}

	if d := ownership.Check(identity, owner.ID); !d.Allowed {
		RespondForbidden(ctx, "not_owner", "You are not allowed to delete this place.")
		return
	}

	// capture before mutation; needed for post-commit cleanup
	imageRef := p.ImageURL

	tx, err := h.store.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Something went wrong, could not delete place.")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	err = h.store.DeleteTx(cctx, tx, p.ID, owner.ID)

	if err != nil {
		if errors.Is(err, place.ErrNotFound) {
			RespondNotFound(ctx, "Could not find place for this id.")
			return
		}

		RespondInternal(ctx, "Something went wrong, could not delete place.")
		return
	}

	err = tx.Commit(cctx)

	if err != nil {
		RespondInternal(ctx, "Something went wrong, could not delete place.")
		return
	}

	// best-effort post-commit cleanup; the committed delete stands even if
	// the blob store refuses
	h.cleanupBlob(cctx, imageRef)

	ctx.JSON(http.StatusOK, gin.H{"message": "Deleted place."})
}
