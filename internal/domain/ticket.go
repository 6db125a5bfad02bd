package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Ticket is the materialized current state of one journal. It is never
// persisted by the journal backends; it is rebuilt by folding changes and
// is only cached or mirrored into the search index.
type Ticket struct {
	Repository  string     `json:"repository"`
	Number      int64      `json:"number"`
	ChangeID    string     `json:"changeId"`
	CreatedAt   time.Time  `json:"createdAt"`
	CreatedBy   string     `json:"createdBy"`
	UpdatedAt   time.Time  `json:"updatedAt,omitempty"`
	UpdatedBy   string     `json:"updatedBy,omitempty"`
	Title       string     `json:"title"`
	Body        string     `json:"body,omitempty"`
	Topic       string     `json:"topic,omitempty"`
	Type        TicketType `json:"type,omitempty"`
	Status      Status     `json:"status"`
	Responsible string     `json:"responsible,omitempty"`
	Milestone   string     `json:"milestone,omitempty"`
	MergeSha    string     `json:"mergeSha,omitempty"`
	MergeTo     string     `json:"mergeTo,omitempty"`
	Changes     []*Change  `json:"changes"`
}

// BuildTicket folds an ordered journal into an effective ticket. Comment
// revisions collapse onto the original change by comment id, so editing or
// deleting a comment never appends a visible discussion entry. Folding is
// deterministic: the same journal always yields the same ticket.
func BuildTicket(changes []*Change) *Ticket {
	effective := make([]*Change, 0, len(changes))
	comments := make(map[string]int)
	for _, change := range changes {
		if change.Comment != nil {
			if idx, ok := comments[change.Comment.ID]; ok {
				original := effective[idx]
				revised := *original
				comment := *original.Comment
				comment.Text = change.Comment.Text
				comment.Deleted = change.Comment.Deleted
				revised.Comment = &comment
				effective[idx] = &revised
				continue
			}
			comments[change.Comment.ID] = len(effective)
		}
		effective = append(effective, change)
	}

	ticket := &Ticket{}
	for _, change := range effective {
		if change.Comment != nil && change.Comment.Deleted {
			clone := *change
			clone.Comment = nil
			change = &clone
		}
		ticket.applyChange(change)
	}
	return ticket
}

func (t *Ticket) applyChange(change *Change) {
	if len(t.Changes) == 0 {
		t.CreatedAt = change.CreatedAt
		t.CreatedBy = change.CreatedBy
		t.Status = StatusNew
	} else {
		// Journal order is authoritative, not timestamps: two changes can
		// land in the same millisecond.
		t.UpdatedAt = change.CreatedAt
		t.UpdatedBy = change.CreatedBy
	}

	if change.IsMerge() {
		if t.Responsible == "" {
			t.Responsible = change.CreatedBy
		}
		t.Status = StatusMerged
	}

	for field, value := range change.Fields {
		switch field {
		case FieldRepository:
			t.Repository = value
		case FieldNumber:
			fmt.Sscanf(value, "%d", &t.Number)
		case FieldType:
			t.Type = TicketType(value)
		case FieldStatus:
			t.Status = Status(value)
		case FieldTitle:
			t.Title = value
		case FieldBody:
			t.Body = value
		case FieldTopic:
			t.Topic = value
		case FieldResponsible:
			t.Responsible = value
		case FieldMilestone:
			t.Milestone = value
		case FieldMergeTo:
			t.MergeTo = value
		case FieldMergeSha:
			t.MergeSha = value
		}
	}

	t.Changes = append(t.Changes, change)

	if len(t.Changes) == 1 {
		t.ChangeID = computeChangeID(change, t)
	}
}

// computeChangeID derives the stable cross-reference hash from the
// creation-time fields of the ticket.
func computeChangeID(first *Change, t *Ticket) string {
	return SHA1(strings.Join([]string{
		first.CreatedAt.UTC().Format(time.RFC3339Nano),
		first.CreatedBy,
		t.Repository,
		t.Title,
		t.Body,
	}, "\x00"))
}

// IsOpen reports whether the ticket is still active.
func (t *Ticket) IsOpen() bool { return !t.Status.IsClosed() }

// IsClosed reports whether the ticket reached a terminal state.
func (t *Ticket) IsClosed() bool { return t.Status.IsClosed() }

// IsMerged reports whether the ticket closed with a recorded merge.
func (t *Ticket) IsMerged() bool { return t.IsClosed() && t.MergeSha != "" }

// LastUpdated returns the most recent journal timestamp.
func (t *Ticket) LastUpdated() time.Time {
	if t.UpdatedAt.IsZero() {
		return t.CreatedAt
	}
	return t.UpdatedAt
}

// Comments returns the changes that carry a live comment, in journal order.
func (t *Ticket) Comments() []*Change {
	var list []*Change
	for _, change := range t.Changes {
		if change.HasComment() {
			list = append(list, change)
		}
	}
	return list
}

// HasDiscussion reports whether anyone besides the creator commented.
func (t *Ticket) HasDiscussion() bool {
	for _, change := range t.Comments() {
		if change.CreatedBy != t.CreatedBy {
			return true
		}
	}
	return false
}

// Participants returns everyone who authored a change, plus the
// responsible user, in first-seen order.
func (t *Ticket) Participants() []string {
	seen := make(map[string]struct{})
	var list []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		list = append(list, name)
	}
	for _, change := range t.Changes {
		add(change.CreatedBy)
	}
	add(t.Responsible)
	return list
}

// Labels returns the folded label set.
func (t *Ticket) Labels() []string { return foldList(t.Changes, FieldLabels) }

// HasLabel reports whether the label is attached.
func (t *Ticket) HasLabel(label string) bool {
	for _, l := range t.Labels() {
		if l == label {
			return true
		}
	}
	return false
}

// Watchers returns the folded watcher set.
func (t *Ticket) Watchers() []string { return foldList(t.Changes, FieldWatchers) }

// Reviewers returns the folded reviewer set.
func (t *Ticket) Reviewers() []string { return foldList(t.Changes, FieldReviewers) }

// Voters returns the folded voter set.
func (t *Ticket) Voters() []string { return foldList(t.Changes, FieldVoters) }

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9._-]*)`)

// Mentions extracts @name references from the body and all live comments.
func (t *Ticket) Mentions() []string {
	set := make(map[string]struct{})
	scan := func(text string) {
		for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
			set[m[1]] = struct{}{}
		}
	}
	scan(t.Body)
	for _, change := range t.Comments() {
		scan(change.Comment.Text)
	}
	if len(set) == 0 {
		return nil
	}
	list := make([]string, 0, len(set))
	for name := range set {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// Attachments returns the attachment metadata accumulated across the
// journal, the latest definition of a name winning.
func (t *Ticket) Attachments() []Attachment {
	byName := make(map[string]Attachment)
	var order []string
	for _, change := range t.Changes {
		for _, a := range change.Attachments {
			key := strings.ToLower(a.Name)
			if _, ok := byName[key]; !ok {
				order = append(order, key)
			}
			byName[key] = a
		}
	}
	list := make([]Attachment, 0, len(order))
	for _, key := range order {
		list = append(list, byName[key])
	}
	return list
}

// GetAttachment returns the latest attachment with the given name, or nil.
func (t *Ticket) GetAttachment(name string) *Attachment {
	var found *Attachment
	for _, change := range t.Changes {
		if a := change.GetAttachment(name); a != nil {
			found = a
		}
	}
	return found
}

// HasAttachments reports whether any change added an attachment.
func (t *Ticket) HasAttachments() bool {
	for _, change := range t.Changes {
		if change.HasAttachments() {
			return true
		}
	}
	return false
}

// Patchsets returns every uploaded patchset revision in journal order.
func (t *Ticket) Patchsets() []*Patchset {
	var list []*Patchset
	for _, change := range t.Changes {
		if change.Patchset != nil {
			list = append(list, change.Patchset)
		}
	}
	return list
}

// CurrentPatchset returns the highest revision, or nil.
func (t *Ticket) CurrentPatchset() *Patchset {
	var current *Patchset
	for _, change := range t.Changes {
		if change.Patchset != nil {
			if current == nil || change.Patchset.Rev > current.Rev {
				current = change.Patchset
			}
		}
	}
	return current
}

// IsApproved reports whether any review approved the patchset revision.
func (t *Ticket) IsApproved(p *Patchset) bool {
	if p == nil {
		return false
	}
	for _, change := range t.Changes {
		if change.HasReview() && change.Review.Rev == p.Rev && change.Review.Score > 1 {
			return true
		}
	}
	return false
}

// IsVetoed reports whether any review vetoed the patchset revision.
func (t *Ticket) IsVetoed(p *Patchset) bool {
	if p == nil {
		return false
	}
	for _, change := range t.Changes {
		if change.HasReview() && change.Review.Rev == p.Rev && change.Review.Score < -1 {
			return true
		}
	}
	return false
}

// IndexableText flattens the title, body, and live comments for free-text
// indexing.
func (t *Ticket) IndexableText() string {
	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(t.Title)
		sb.WriteByte('\n')
	}
	if t.Body != "" {
		sb.WriteString(t.Body)
		sb.WriteByte('\n')
	}
	for _, change := range t.Changes {
		if change.HasComment() {
			sb.WriteString(change.Comment.Text)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
