package push

import (
	"errors"
	"log/slog"

	"github.com/menolisa/billing/internal/store"
)

// Dispatcher fans a notification out to every endpoint an account has
// registered. Endpoints the push relay reports gone are dropped from the
// store; any other failure is logged and swallowed.
type Dispatcher struct {
	service *Service
	subs    *store.PushStore
	logger  *slog.Logger
}

func NewDispatcher(service *Service, subs *store.PushStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{service: service, subs: subs, logger: logger}
}

// SendToAccount delivers the notification to all of the account's devices.
// Fire-and-forget: the caller's work is already durable by the time this
// runs, so nothing here may fail it.
func (d *Dispatcher) SendToAccount(accountID, title, body string) {
	subs, err := d.subs.ListByAccount(accountID)
	if err != nil {
		d.logger.Warn("list push subscriptions", "account_id", accountID, "error", err)
		return
	}

	payload := Payload{
		Title: title,
		Body:  body,
		URL:   "/dashboard/settings",
		Tag:   "trial",
	}

	for i := range subs {
		if err := d.service.Send(&subs[i], payload); err != nil {
			if errors.Is(err, ErrExpired) {
				d.subs.DeleteByEndpoint(subs[i].Endpoint)
			} else {
				d.logger.Warn("send push", "account_id", accountID, "error", err)
			}
		}
	}
}
