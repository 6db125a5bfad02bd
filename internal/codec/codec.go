// Package codec serializes journals and snapshots as JSON. The journal
// envelope never carries attachment content: attachments are redacted to
// name and size on encode, and backends that support attachments store
// the bytes beside the journal.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// EncodeJournal renders an ordered change list as a JSON array, with
// attachment content stripped. A nil journal encodes as [].
func EncodeJournal(changes []*domain.Change) ([]byte, error) {
	redacted := make([]*domain.Change, 0, len(changes))
	for _, change := range changes {
		redacted = append(redacted, redactAttachments(change))
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(redacted); err != nil {
		return nil, util.NewMalformed("cannot encode journal", err)
	}
	return buf.Bytes(), nil
}

// DecodeJournal parses a JSON journal. Empty input yields an empty
// journal, not an error: a reserved ticket is exactly an empty journal.
func DecodeJournal(data []byte) ([]*domain.Change, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var changes []*domain.Change
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, util.NewMalformed("cannot decode journal", err)
	}
	return changes, nil
}

// EncodeChange renders a single change, attachment content stripped.
// Used by the key-value backend, which appends one entry per list element.
func EncodeChange(change *domain.Change) ([]byte, error) {
	data, err := json.Marshal(redactAttachments(change))
	if err != nil {
		return nil, util.NewMalformed("cannot encode change", err)
	}
	return data, nil
}

// DecodeChange parses a single journal entry.
func DecodeChange(data []byte) (*domain.Change, error) {
	var change domain.Change
	if err := json.Unmarshal(data, &change); err != nil {
		return nil, util.NewMalformed("cannot decode change", err)
	}
	return &change, nil
}

// EncodeTicket renders a folded snapshot. Snapshots are a cache artifact;
// the journal stays the source of truth.
func EncodeTicket(ticket *domain.Ticket) ([]byte, error) {
	data, err := json.Marshal(ticket)
	if err != nil {
		return nil, util.NewMalformed("cannot encode ticket", err)
	}
	return data, nil
}

// DecodeTicket parses a snapshot.
func DecodeTicket(data []byte) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, util.NewMalformed("cannot decode ticket", err)
	}
	return &ticket, nil
}

// redactAttachments clones the change with attachment bytes dropped,
// keeping name and size. Changes without attachments pass through.
func redactAttachments(change *domain.Change) *domain.Change {
	if !change.HasAttachments() {
		return change
	}
	clone := *change
	clone.Attachments = make([]domain.Attachment, len(change.Attachments))
	for i, a := range change.Attachments {
		size := a.Size
		if size == 0 {
			size = int64(len(a.Content))
		}
		clone.Attachments[i] = domain.Attachment{Name: a.Name, Size: size}
	}
	return &clone
}
