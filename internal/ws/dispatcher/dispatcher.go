// Package dispatcher drains the websocket_message outbox table and fans
// each row out to the WebSocket hub. It subscribes to LISTEN
// websocket_new_message and, on every notification (and once at startup,
// to pick up rows inserted before the listener connected), repeatedly
// claims the oldest row, routes it by recipient, and deletes it.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coreflow/backbone/internal/domain/wsmessage"
	"github.com/coreflow/backbone/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const channel = "websocket_new_message"

// reconnectDelay is how long Run waits before re-establishing the LISTEN
// connection after any failure (query error, connection drop, notification
// wait error).
const reconnectDelay = 5 * time.Second

// Sender is the subset of hub.Hub the dispatcher needs; an interface here
// keeps this package free of a direct dependency on gorilla/websocket.
type Sender interface {
	SendToUser(userID string, payload []byte) int
	SendToAll(payload []byte) int
}

type Dispatcher struct {
	pool   *pgxpool.Pool
	sender Sender
	prom   *observability.Prom
	log    *slog.Logger
}

func New(pool *pgxpool.Pool, sender Sender, prom *observability.Prom, log *slog.Logger) *Dispatcher {
	return &Dispatcher{pool: pool, sender: sender, prom: prom, log: log}
}

// Run blocks until ctx is cancelled, reconnecting its listener on any
// failure after reconnectDelay.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := d.listenLoop(ctx); err != nil {
			d.log.ErrorContext(ctx, "dispatcher.listen_error", "err", err)
		}
		if ctx.Err() != nil {
			return
		}
		t := time.NewTimer(reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (d *Dispatcher) listenLoop(ctx context.Context) error {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	d.log.InfoContext(ctx, "dispatcher.listening", "channel", channel)

	// Drain anything already queued before the first notification arrives.
	d.drain(ctx)

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		d.drain(ctx)
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		more, err := d.dispatchOne(ctx)
		if err != nil {
			d.log.ErrorContext(ctx, "dispatcher.dispatch_failed", "err", err)
			return
		}
		if !more {
			return
		}
	}
}

// dispatchOne selects the oldest outbox row, routes it, and deletes it.
// It reports false when there was no row to process. Malformed rows
// (unparseable recipient criteria) are deleted rather than retried, so a
// single poison row can never wedge the dispatcher.
func (d *Dispatcher) dispatchOne(ctx context.Context) (bool, error) {
	var id pgtype.UUID
	var recipientRaw, payload json.RawMessage

	row := d.pool.QueryRow(ctx, `
		SELECT id, recipient_criteria, payload FROM websocket_message
		ORDER BY created_at ASC LIMIT 1
	`)
	if err := row.Scan(&id, &recipientRaw, &payload); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	defer func() {
		_, _ = d.pool.Exec(ctx, `DELETE FROM websocket_message WHERE id = $1`, id)
	}()

	var recipient wsmessage.Recipient
	if err := json.Unmarshal(recipientRaw, &recipient); err != nil {
		d.log.ErrorContext(ctx, "dispatcher.bad_recipient", "err", err)
		return true, nil
	}

	switch recipient.Type {
	case wsmessage.RecipientUser:
		sent := d.sender.SendToUser(recipient.UserID, payload)
		if d.prom != nil {
			d.prom.WsMessagesOut.WithLabelValues("user").Add(float64(sent))
		}
	case wsmessage.RecipientAll:
		sent := d.sender.SendToAll(payload)
		if d.prom != nil {
			d.prom.WsMessagesOut.WithLabelValues("all").Add(float64(sent))
		}
	default:
		d.log.WarnContext(ctx, "dispatcher.unknown_recipient_type", "type", recipient.Type)
	}

	return true, nil
}
