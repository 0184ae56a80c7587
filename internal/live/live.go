// Package live streams trial countdown updates over WebSocket. Each
// connection gets its own one-second ticker driving the pure derivation;
// the database is read once on connect.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/menolisa/billing/internal/handler"
	"github.com/menolisa/billing/internal/store"
	"github.com/menolisa/billing/internal/trial"
)

const tickInterval = time.Second

// Handler returns an HTTP handler that upgrades to WebSocket and pushes the
// account's trial status every second until the client disconnects.
func Handler(trials *store.TrialStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := handler.AccountIDFromContext(r.Context())

		rec, err := trials.EnsureStarted(accountID, time.Now().UTC())
		if err != nil {
			logger.Error("ensure trial started", "account_id", accountID, "error", err)
			http.Error(w, "failed to load trial", http.StatusInternalServerError)
			return
		}

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Incoming frames are discarded; a read error means the client
		// went away.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.Read(ctx); err != nil {
					return
				}
			}
		}()

		countdown := trial.NewCountdown(*rec)
		run(ctx, conn, countdown)
		conn.Close(ws.StatusNormalClosure, "")
	}
}

func run(ctx context.Context, conn *ws.Conn, countdown *trial.Countdown) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// First frame immediately, then once per tick.
	if err := writeStatus(ctx, conn, countdown.At(time.Now().UTC())); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeStatus(ctx, conn, countdown.At(time.Now().UTC())); err != nil {
				return
			}
		}
	}
}

func writeStatus(ctx context.Context, conn *ws.Conn, st trial.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}
