package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/internal/events"
)

// StartNotificationWorker subscribes the notification handlers to the
// dispatcher. Formatting and delivery belong to the hosting system;
// this worker records what would be delivered.
func StartNotificationWorker(dispatcher events.Dispatcher, logger *zap.Logger) {
	if dispatcher == nil {
		return
	}
	log := func(message string) events.EventHandler {
		return func(ctx context.Context, event events.Event) error {
			logger.Info(message,
				zap.String("event", string(event.Type)),
				zap.String("repository", event.Repository),
				zap.Int64("number", event.Number))
			return nil
		}
	}
	dispatcher.Subscribe(events.EventTicketCreated, log("ticket created"))
	dispatcher.Subscribe(events.EventTicketUpdated, log("ticket updated"))
	dispatcher.Subscribe(events.EventTicketDeleted, log("ticket deleted"))
}
