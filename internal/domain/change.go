package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Field names a ticket attribute touched by a change. The journal stores
// field mutations as a string map so new attributes never break old
// journals.
type Field string

const (
	FieldRepository  Field = "repository"
	FieldNumber      Field = "number"
	FieldType        Field = "type"
	FieldStatus      Field = "status"
	FieldTitle       Field = "title"
	FieldBody        Field = "body"
	FieldTopic       Field = "topic"
	FieldResponsible Field = "responsible"
	FieldMilestone   Field = "milestone"
	FieldMergeTo     Field = "mergeTo"
	FieldMergeSha    Field = "mergeSha"
	FieldLabels      Field = "labels"
	FieldWatchers    Field = "watchers"
	FieldReviewers   Field = "reviewers"
	FieldVoters      Field = "voters"
)

// TicketType classifies a ticket.
type TicketType string

const (
	TypeRequest  TicketType = "Request"
	TypeTask     TicketType = "Task"
	TypeBug      TicketType = "Bug"
	TypeProposal TicketType = "Proposal"
)

// Status is the ticket workflow state.
type Status string

const (
	StatusNew       Status = "New"
	StatusOpen      Status = "Open"
	StatusResolved  Status = "Resolved"
	StatusFixed     Status = "Fixed"
	StatusMerged    Status = "Merged"
	StatusWontfix   Status = "Wontfix"
	StatusDeclined  Status = "Declined"
	StatusDuplicate Status = "Duplicate"
	StatusInvalid   Status = "Invalid"
	StatusOnHold    Status = "On Hold"
)

// IsClosed reports whether the status is terminal. New, Open, and the
// zero value count as open.
func (s Status) IsClosed() bool {
	switch s {
	case "", StatusNew, StatusOpen, StatusOnHold:
		return false
	}
	return true
}

// PatchsetType describes how a patchset revision relates to its
// predecessor.
type PatchsetType string

const (
	PatchsetProposal     PatchsetType = "Proposal"
	PatchsetFastForward  PatchsetType = "FastForward"
	PatchsetRebase       PatchsetType = "Rebase"
	PatchsetSquash       PatchsetType = "Squash"
	PatchsetRebaseSquash PatchsetType = "Rebase_Squash"
	PatchsetAmend        PatchsetType = "Amend"
)

// Comment is a discussion entry. Revisions of a comment reuse the same
// id; the fold collapses them onto the original change.
type Comment struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Deleted bool   `json:"deleted,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// Patchset records one uploaded revision of proposed commits.
type Patchset struct {
	Rev        int          `json:"rev"`
	Tip        string       `json:"tip"`
	Base       string       `json:"base,omitempty"`
	Commits    int          `json:"commits,omitempty"`
	Insertions int          `json:"insertions,omitempty"`
	Deletions  int          `json:"deletions,omitempty"`
	Type       PatchsetType `json:"type,omitempty"`
	Ref        string       `json:"ref,omitempty"`
}

// Review scores a patchset revision. Score > 1 approves, score < -1
// vetoes.
type Review struct {
	Rev   int `json:"rev"`
	Score int `json:"score"`
}

// Attachment is a named binary attached by a change. Content is kept out
// of the journal envelope and stored beside it; only backends that
// support attachments populate it on read.
type Attachment struct {
	Name    string `json:"name"`
	Size    int64  `json:"size,omitempty"`
	Content []byte `json:"content,omitempty"`
}

// Change is one immutable journal entry: who did what, when. A change may
// carry field mutations, a comment, a patchset, a review, and
// attachments, in any combination.
type Change struct {
	ID          string           `json:"id"`
	CreatedAt   time.Time        `json:"createdAt"`
	CreatedBy   string           `json:"createdBy"`
	Comment     *Comment         `json:"comment,omitempty"`
	Fields      map[Field]string `json:"fields,omitempty"`
	Patchset    *Patchset        `json:"patchset,omitempty"`
	Review      *Review          `json:"review,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
}

// NewChange returns a change stamped now.
func NewChange(author string) *Change {
	return NewChangeAt(author, time.Now())
}

// NewChangeAt returns a change with an explicit timestamp. Timestamps are
// truncated to millisecond precision in UTC so a journal round-trips
// identically through JSON.
func NewChangeAt(author string, at time.Time) *Change {
	at = at.UTC().Truncate(time.Millisecond)
	return &Change{
		ID:        SHA1(at.Format(time.RFC3339Nano) + author),
		CreatedAt: at,
		CreatedBy: author,
	}
}

// SetField records a field mutation.
func (c *Change) SetField(field Field, value string) *Change {
	if c.Fields == nil {
		c.Fields = make(map[Field]string)
	}
	c.Fields[field] = value
	return c
}

// HasField reports whether the change touches the field.
func (c *Change) HasField(field Field) bool {
	_, ok := c.Fields[field]
	return ok
}

// GetField returns the recorded value, or "".
func (c *Change) GetField(field Field) string {
	return c.Fields[field]
}

// RemoveField drops a recorded mutation.
func (c *Change) RemoveField(field Field) {
	delete(c.Fields, field)
}

// AddComment attaches a new comment. The comment id is derived from the
// change timestamp, author, and text so revisions can reference it.
func (c *Change) AddComment(text string) *Comment {
	c.Comment = &Comment{
		ID:   SHA1(c.CreatedAt.Format(time.RFC3339Nano) + c.CreatedBy + text),
		Text: text,
	}
	return c.Comment
}

// HasComment reports whether the change carries a live comment.
func (c *Change) HasComment() bool {
	return c.Comment != nil && !c.Comment.Deleted && c.Comment.Text != ""
}

// HasReview reports whether the change carries a review.
func (c *Change) HasReview() bool { return c.Review != nil }

// IsStatusChange reports whether the change moves the workflow state.
func (c *Change) IsStatusChange() bool { return c.HasField(FieldStatus) }

// IsMerge reports whether the change records a merge (status + merge sha
// in the same entry).
func (c *Change) IsMerge() bool {
	return c.HasField(FieldStatus) && c.HasField(FieldMergeSha)
}

// GetAttachment returns the attachment with the given name, or nil.
func (c *Change) GetAttachment(name string) *Attachment {
	for i := range c.Attachments {
		if strings.EqualFold(c.Attachments[i].Name, name) {
			return &c.Attachments[i]
		}
	}
	return nil
}

// HasAttachments reports whether the change carries attachments.
func (c *Change) HasAttachments() bool { return len(c.Attachments) > 0 }

// Watch adds watchers.
func (c *Change) Watch(users ...string) *Change { return c.plusList(FieldWatchers, users) }

// Unwatch removes watchers.
func (c *Change) Unwatch(users ...string) *Change { return c.minusList(FieldWatchers, users) }

// Vote adds voters.
func (c *Change) Vote(users ...string) *Change { return c.plusList(FieldVoters, users) }

// Unvote removes voters.
func (c *Change) Unvote(users ...string) *Change { return c.minusList(FieldVoters, users) }

// Label adds labels.
func (c *Change) Label(labels ...string) *Change { return c.plusList(FieldLabels, labels) }

// Unlabel removes labels.
func (c *Change) Unlabel(labels ...string) *Change { return c.minusList(FieldLabels, labels) }

// Review records a score for a patchset revision.
func (c *Change) ReviewPatchset(rev, score int) *Change {
	c.Review = &Review{Rev: rev, Score: score}
	return c
}

func (c *Change) plusList(field Field, items []string) *Change {
	return c.modList(field, "+", items)
}

func (c *Change) minusList(field Field, items []string) *Change {
	return c.modList(field, "-", items)
}

// modList appends signed deltas to a comma-joined list field. The fold
// replays the deltas in journal order to produce the effective set.
func (c *Change) modList(field Field, sign string, items []string) *Change {
	var deltas []string
	for _, item := range items {
		if item == "" {
			continue
		}
		deltas = append(deltas, sign+item)
	}
	if len(deltas) == 0 {
		return c
	}
	existing := c.GetField(field)
	if existing != "" {
		deltas = append([]string{existing}, deltas...)
	}
	return c.SetField(field, strings.Join(deltas, ","))
}

// foldList replays +item/-item deltas across the journal into a sorted
// set.
func foldList(changes []*Change, field Field) []string {
	set := make(map[string]struct{})
	for _, change := range changes {
		value := change.GetField(field)
		if value == "" {
			continue
		}
		for _, delta := range strings.Split(value, ",") {
			delta = strings.TrimSpace(delta)
			if len(delta) < 2 {
				continue
			}
			item := delta[1:]
			switch delta[0] {
			case '+':
				set[item] = struct{}{}
			case '-':
				delete(set, item)
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	list := make([]string, 0, len(set))
	for item := range set {
		list = append(list, item)
	}
	sort.Strings(list)
	return list
}

// SHA1 returns the hex sha1 digest of the text.
func SHA1(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
