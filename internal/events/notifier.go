package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gitblit-org/ticketstore/internal/domain"
)

// Notifier adapts the dispatcher to the store's notification contract:
// the store hands over folded tickets, subscribers decide what a
// notification looks like.
type Notifier struct {
	dispatcher Dispatcher
}

// NewNotifier wraps a dispatcher.
func NewNotifier(dispatcher Dispatcher) *Notifier {
	return &Notifier{dispatcher: dispatcher}
}

func (n *Notifier) publish(eventType EventType, repository string, number int64, payload interface{}) {
	_ = n.dispatcher.Publish(context.Background(), Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Repository: repository,
		Number:     number,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	})
}

func (n *Notifier) TicketCreated(ticket *domain.Ticket) {
	n.publish(EventTicketCreated, ticket.Repository, ticket.Number, TicketPayload{Ticket: ticket})
}

func (n *Notifier) TicketUpdated(ticket *domain.Ticket) {
	n.publish(EventTicketUpdated, ticket.Repository, ticket.Number, TicketPayload{Ticket: ticket})
}

func (n *Notifier) TicketDeleted(repository string, number int64, actor string) {
	n.publish(EventTicketDeleted, repository, number, TicketDeletedPayload{Actor: actor})
}
