// Package examplejobs is the one illustrative extension the application
// backbone ships with: a single job type and a single HTTP route, wired
// the way any other application-specific domain would be. Nothing in
// this package is load-bearing for the backbone itself; it exists to
// exercise the registry/route extension points end to end.
package examplejobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/coreflow/backbone/internal/httpapi/handlers"
	"github.com/coreflow/backbone/internal/jobqueue/registry"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/coreflow/backbone/internal/notifications"
	"github.com/gin-gonic/gin"
)

// JobType is the job_type column value this handler serves.
const JobType = "notification.send"

// NotificationSendArgs is the JSON shape stored in a notification.send
// job's arguments column.
type NotificationSendArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RegisterJob binds JobType to a handler that delegates to notifier. Call
// this once at startup alongside every other registry.Register call.
func RegisterJob(r *registry.Registry, notifier notifications.Notifier) {
	registry.Register(r, JobType, func(ctx context.Context, args NotificationSendArgs) error {
		if args.To == "" {
			return registry.FailPermanently("notification.send requires a non-empty \"to\"")
		}
		err := notifier.Send(ctx, notifications.SendInput{
			To:      args.To,
			Subject: args.Subject,
			Body:    args.Body,
		})
		if err != nil {
			if errors.Is(err, notifications.ErrCircuitOpen) {
				return registry.TryAgainLaterf("notifier circuit open: %v", err)
			}
			return registry.TryAgainLaterf("send notification: %v", err)
		}
		return nil
	})
}

// Handler exposes the one illustrative route: enqueueing a
// notification.send job instead of sending synchronously, so callers get
// the job subsystem's retry/backoff/recovery behavior for free.
type Handler struct {
	store store.Store
}

func NewHandler(st store.Store) *Handler {
	return &Handler{store: st}
}

type sendNotificationRequest struct {
	To      string `json:"to" binding:"required,email"`
	Subject string `json:"subject" binding:"required"`
	Body    string `json:"body" binding:"required"`
}

// POST /api/notifications
func (h *Handler) SendNotification(ctx *gin.Context) {
	var req sendNotificationRequest
	if !handlers.BindJSON(ctx, &req) {
		return
	}

	args, err := json.Marshal(NotificationSendArgs{To: req.To, Subject: req.Subject, Body: req.Body})
	if err != nil {
		handlers.RespondInternal(ctx, "Could not encode job arguments")
		return
	}

	j, err := h.store.Create(ctx.Request.Context(), job.NewRequest{Type: JobType, Arguments: args})
	if err != nil {
		handlers.RespondInternal(ctx, "Could not enqueue notification")
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{"jobId": j.ID, "status": j.Status})
}
