package store

import (
	"fmt"
	"strconv"
	"strings"
)

// The branch and file backends share one on-disk layout: each ticket
// lives under id/<bucket>/<number>/ where bucket is number mod 100,
// zero-padded to two digits. The bucket level bounds directory fan-out
// to at most 100 entries however many tickets exist.

const (
	ticketsRoot    = "id"
	journalFile    = "journal.json"
	attachmentsDir = "attachments"
	configFile     = "config.json"
	bucketModulus  = 100
)

// TicketPath returns the ticket's directory, e.g. id/45/12345.
func TicketPath(id int64) string {
	return fmt.Sprintf("%s/%02d/%d", ticketsRoot, id%bucketModulus, id)
}

// JournalPath returns the journal file path for a ticket.
func JournalPath(id int64) string {
	return TicketPath(id) + "/" + journalFile
}

// AttachmentPath returns the stored path of a named attachment.
func AttachmentPath(id int64, name string) string {
	return TicketPath(id) + "/" + attachmentsDir + "/" + name
}

// ConfigPath is the repository-level settings document holding labels
// and milestones.
func ConfigPath() string {
	return configFile
}

// TicketIDFromPath extracts the ticket number from a path under the
// tickets root, or -1 if the path is not a ticket path. Used by
// incremental reindexing to map changed paths back to tickets.
func TicketIDFromPath(path string) int64 {
	parts := strings.Split(path, "/")
	if len(parts) < 3 || parts[0] != ticketsRoot {
		return -1
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id < 0 {
		return -1
	}
	return id
}
