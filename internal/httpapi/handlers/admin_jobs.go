package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/coreflow/backbone/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminJobsHandler exposes read/retry operations over the job store for
// operator tooling. It depends on the store.Store interface directly
// rather than a narrower repo, since every operation it needs is already
// part of that contract.
type AdminJobsHandler struct {
	store store.Store
}

func NewAdminJobsHandler(st store.Store) *AdminJobsHandler {
	return &AdminJobsHandler{store: st}
}

const defaultListLimit = 50

// GET /admin/jobs?status=failed&limit=50&cursor=...
func (h *AdminJobsHandler) List(ctx *gin.Context) {
	limit := parseInt(ctx.Query("limit"), defaultListLimit)
	if limit < 1 || limit > 200 {
		RespondBadRequest(ctx, "limit must be between 1 and 200", nil)
		return
	}

	var status *job.Status
	if s := ctx.Query("status"); s != "" {
		st := job.Status(s)
		status = &st
	}

	var cursor *store.Cursor
	if c := ctx.Query("cursor"); c != "" {
		decoded, err := utils.DecodeJobCursor(c)
		if err != nil {
			RespondBadRequest(ctx, "malformed cursor", nil)
			return
		}
		id, err := uuid.Parse(decoded.ID)
		if err != nil {
			RespondBadRequest(ctx, "malformed cursor", nil)
			return
		}
		cursor = &store.Cursor{UpdatedAt: decoded.UpdatedAt, ID: id}
	}

	cctx, cancel := withTimeout(ctx, 2*time.Second)
	defer cancel()

	items, next, hasMore, err := h.store.ListCursor(cctx, status, limit, cursor)
	if err != nil {
		RespondInternal(ctx, "Could not list jobs")
		return
	}

	resp := gin.H{"items": items, "hasMore": hasMore}
	if hasMore && next != nil {
		encoded, err := utils.EncodeJobCursor(next.UpdatedAt, next.ID.String())
		if err == nil {
			resp["nextCursor"] = encoded
		}
	}
	ctx.JSON(http.StatusOK, resp)
}

// GET /admin/jobs/:id
func (h *AdminJobsHandler) GetByID(ctx *gin.Context) {
	id, ok := parseJobID(ctx)
	if !ok {
		return
	}

	cctx, cancel := withTimeout(ctx, 2*time.Second)
	defer cancel()

	j, err := h.store.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			RespondNotFound(ctx, "Job not found")
			return
		}
		RespondInternal(ctx, "Could not fetch job")
		return
	}
	RespondJSONWithETag(ctx, http.StatusOK, j)
}

// POST /admin/jobs/:id/retry
func (h *AdminJobsHandler) Retry(ctx *gin.Context) {
	id, ok := parseJobID(ctx)
	if !ok {
		return
	}

	cctx, cancel := withTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.store.Retry(cctx, id); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			RespondNotFound(ctx, "Job not found")
			return
		}
		if errors.Is(err, store.ErrNotFailed) {
			RespondConflict(ctx, "job_not_failed", "Only failed jobs can be retried")
			return
		}
		RespondInternal(ctx, "Could not retry job")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"jobId": id, "status": job.StatusPending})
}

func parseJobID(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		RespondBadRequest(ctx, "invalid job id", nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func withTimeout(ctx *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), d)
}
