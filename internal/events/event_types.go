package events

import (
	"time"

	"github.com/gitblit-org/ticketstore/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated EventType = "ticket_created"
	EventTicketUpdated EventType = "ticket_updated"
	EventTicketDeleted EventType = "ticket_deleted"
)

// Event represents a domain event emitted by the store.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	Repository string      `json:"repository"`
	Number     int64       `json:"number"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// TicketPayload carries the folded ticket for created/updated events.
type TicketPayload struct {
	Ticket *domain.Ticket `json:"ticket"`
}

// TicketDeletedPayload identifies a removed ticket and who removed it.
type TicketDeletedPayload struct {
	Actor string `json:"actor"`
}
