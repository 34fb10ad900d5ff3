package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/placehub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type UsersLister interface {
	List(ctx context.Context) ([]user.User, error)
}

type UsersHandler struct {
	repo UsersLister
}

func NewUsersHandler(repo UsersLister) *UsersHandler {
	return &UsersHandler{repo: repo}
}

func (h *UsersHandler) ListUsers(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)

	defer cancel()

	users, err := h.repo.List(cctx)

	if err != nil {
		RespondInternal(ctx, "Fetching users failed, please try again later.")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"users": users})
}
