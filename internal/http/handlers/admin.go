package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/placehub/internal/reconcile"
	"github.com/gin-gonic/gin"
)

type Reconciler interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

type AdminHandler struct {
	rec Reconciler
}

func NewAdminHandler(rec Reconciler) *AdminHandler {
	return &AdminHandler{rec: rec}
}

// Reconcile audits and repairs membership-list drift on demand.
func (h *AdminHandler) Reconcile(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 30*time.Second)

	defer cancel()

	report, err := h.rec.Run(cctx)

	if err != nil {
		RespondInternal(ctx, "Reconciliation failed, please try again.")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"report": report})
}
