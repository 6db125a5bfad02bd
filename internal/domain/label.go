package domain

import "time"

// Label is a repository-scoped tag with an optional display color. The
// ticket list is attached lazily by the store.
type Label struct {
	Name    string         `json:"name"`
	Color   string         `json:"color,omitempty"`
	Tickets []*QueryResult `json:"-"`
}

// Milestone groups tickets toward a target date.
type Milestone struct {
	Name    string         `json:"name"`
	Status  Status         `json:"status"`
	Color   string         `json:"color,omitempty"`
	Due     *time.Time     `json:"due,omitempty"`
	Tickets []*QueryResult `json:"-"`
}

// IsOpen reports whether the milestone is still accepting tickets.
func (m *Milestone) IsOpen() bool { return !m.Status.IsClosed() }

// QueryResult is the stored projection of a ticket held by the search
// index. It carries everything a list view needs so result pages never
// touch the journal backends.
type QueryResult struct {
	Repository   string     `json:"repository"`
	Number       int64      `json:"number"`
	ChangeID     string     `json:"changeId"`
	CreatedAt    time.Time  `json:"createdAt"`
	CreatedBy    string     `json:"createdBy"`
	UpdatedAt    time.Time  `json:"updatedAt,omitempty"`
	UpdatedBy    string     `json:"updatedBy,omitempty"`
	Title        string     `json:"title"`
	Body         string     `json:"body,omitempty"`
	Topic        string     `json:"topic,omitempty"`
	Type         TicketType `json:"type,omitempty"`
	Status       Status     `json:"status"`
	Responsible  string     `json:"responsible,omitempty"`
	Milestone    string     `json:"milestone,omitempty"`
	MergeSha     string     `json:"mergeSha,omitempty"`
	MergeTo      string     `json:"mergeTo,omitempty"`
	Labels       []string   `json:"labels,omitempty"`
	Participants []string   `json:"participants,omitempty"`
	Watchers     []string   `json:"watchers,omitempty"`
	Mentions     []string   `json:"mentions,omitempty"`
	Attachments  int        `json:"attachments,omitempty"`
	Comments     int        `json:"comments,omitempty"`
	Votes        int        `json:"votes,omitempty"`
	Patchsets    int        `json:"patchsets,omitempty"`

	// TotalResults is the full hit count of the query that produced this
	// page, identical on every result in the page.
	TotalResults int64 `json:"-"`
}

// NewQueryResult projects a ticket into its index document.
func NewQueryResult(t *Ticket) *QueryResult {
	return &QueryResult{
		Repository:   t.Repository,
		Number:       t.Number,
		ChangeID:     t.ChangeID,
		CreatedAt:    t.CreatedAt,
		CreatedBy:    t.CreatedBy,
		UpdatedAt:    t.UpdatedAt,
		UpdatedBy:    t.UpdatedBy,
		Title:        t.Title,
		Body:         t.Body,
		Topic:        t.Topic,
		Type:         t.Type,
		Status:       t.Status,
		Responsible:  t.Responsible,
		Milestone:    t.Milestone,
		MergeSha:     t.MergeSha,
		MergeTo:      t.MergeTo,
		Labels:       t.Labels(),
		Participants: t.Participants(),
		Watchers:     t.Watchers(),
		Mentions:     t.Mentions(),
		Attachments:  len(t.Attachments()),
		Comments:     len(t.Comments()),
		Votes:        len(t.Voters()),
		Patchsets:    len(t.Patchsets()),
	}
}

// IsClosed reports whether the projected ticket is in a terminal state.
func (r *QueryResult) IsClosed() bool { return r.Status.IsClosed() }

// IsMerged reports whether the projected ticket closed with a merge.
func (r *QueryResult) IsMerged() bool { return r.IsClosed() && r.MergeSha != "" }

// Equals compares results by identity: same repository, same changeId.
func (r *QueryResult) Equals(other *QueryResult) bool {
	if other == nil {
		return false
	}
	return r.Repository == other.Repository && r.ChangeID == other.ChangeID
}
