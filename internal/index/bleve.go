// Package index maintains the rebuildable search index: one document
// per ticket snapshot, keyed by a content hash of (repository, number).
// The index is advisory, never authoritative; it can be cleared and
// rebuilt from the journals at any time.
package index

import (
	"strconv"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/internal/observability"
)

// Indexed field names.
const (
	FieldRID          = "rid"
	FieldDID          = "did"
	FieldRepository   = "repository"
	FieldNumber       = "number"
	FieldChangeID     = "changeid"
	FieldTitle        = "title"
	FieldBody         = "body"
	FieldTopic        = "topic"
	FieldCreated      = "created"
	FieldCreatedBy    = "createdby"
	FieldUpdated      = "updated"
	FieldUpdatedBy    = "updatedby"
	FieldResponsible  = "responsible"
	FieldMilestone    = "milestone"
	FieldStatus       = "status"
	FieldType         = "type"
	FieldLabels       = "labels"
	FieldParticipants = "participants"
	FieldWatchedBy    = "watchedby"
	FieldMentions     = "mentions"
	FieldAttachments  = "attachments"
	FieldComments     = "comments"
	FieldVotes        = "votes"
	FieldPatchsets    = "patchsets"
	FieldMergeSha     = "mergesha"
	FieldMergeTo      = "mergeto"
	FieldContent      = "content"
)

// Index wraps the underlying search engine with a single-writer lock.
type Index struct {
	mu      sync.Mutex
	idx     bleve.Index
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Open opens or creates the index at dir.
func Open(dir string, logger *zap.Logger, metrics *observability.Metrics) (*Index, error) {
	idx, err := bleve.Open(dir)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(dir, buildMapping())
	}
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx, logger: logger, metrics: metrics}, nil
}

// OpenInMemory creates an index that lives only for the process. Used
// by tests and the null deployment.
func OpenInMemory(logger *zap.Logger, metrics *observability.Metrics) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx, logger: logger, metrics: metrics}, nil
}

// Close releases the index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.idx.Close()
}

func buildMapping() mapping.IndexMapping {
	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	textField := bleve.NewTextFieldMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = false

	numericField := bleve.NewNumericFieldMapping()
	dateField := bleve.NewDateTimeFieldMapping()

	doc := bleve.NewDocumentMapping()
	for _, name := range []string{
		FieldRID, FieldDID, FieldRepository, FieldChangeID, FieldStatus,
		FieldType, FieldCreatedBy, FieldUpdatedBy, FieldResponsible,
		FieldMilestone, FieldTopic, FieldLabels, FieldParticipants,
		FieldWatchedBy, FieldMentions, FieldMergeSha, FieldMergeTo,
	} {
		doc.AddFieldMappingsAt(name, keywordField)
	}
	doc.AddFieldMappingsAt(FieldTitle, textField)
	doc.AddFieldMappingsAt(FieldBody, textField)
	doc.AddFieldMappingsAt(FieldContent, contentField)
	for _, name := range []string{
		FieldNumber, FieldAttachments, FieldComments, FieldVotes, FieldPatchsets,
	} {
		doc.AddFieldMappingsAt(name, numericField)
	}
	doc.AddFieldMappingsAt(FieldCreated, dateField)
	doc.AddFieldMappingsAt(FieldUpdated, dateField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// docID keys one ticket's document.
func docID(repository string, number int64) string {
	return domain.SHA1(repository + ":" + strconv.FormatInt(number, 10))
}

// repoID keys all of one repository's documents.
func repoID(repository string) string {
	return domain.SHA1(repository)
}

func toDocument(t *domain.Ticket) map[string]interface{} {
	r := domain.NewQueryResult(t)
	doc := map[string]interface{}{
		FieldRID:          repoID(r.Repository),
		FieldDID:          docID(r.Repository, r.Number),
		FieldRepository:   r.Repository,
		FieldNumber:       r.Number,
		FieldChangeID:     r.ChangeID,
		FieldTitle:        r.Title,
		FieldBody:         r.Body,
		FieldTopic:        r.Topic,
		FieldCreated:      r.CreatedAt,
		FieldCreatedBy:    r.CreatedBy,
		FieldUpdatedBy:    r.UpdatedBy,
		FieldResponsible:  r.Responsible,
		FieldMilestone:    r.Milestone,
		FieldStatus:       string(r.Status),
		FieldType:         string(r.Type),
		FieldLabels:       r.Labels,
		FieldParticipants: r.Participants,
		FieldWatchedBy:    r.Watchers,
		FieldMentions:     r.Mentions,
		FieldAttachments:  r.Attachments,
		FieldComments:     r.Comments,
		FieldVotes:        r.Votes,
		FieldPatchsets:    r.Patchsets,
		FieldMergeSha:     r.MergeSha,
		FieldMergeTo:      r.MergeTo,
		FieldContent:      t.IndexableText(),
	}
	if !r.UpdatedAt.IsZero() {
		doc[FieldUpdated] = r.UpdatedAt
	}
	// Optional fields are omitted when unset so that field:[* TO *]
	// means "has a value", not "has an empty value".
	for _, name := range []string{
		FieldTopic, FieldResponsible, FieldMilestone, FieldMergeSha, FieldMergeTo,
	} {
		if doc[name] == "" {
			delete(doc, name)
		}
	}
	return doc
}

// Index replaces the ticket's document: delete by key, then insert, so
// a stale document can never shadow the fresh one.
func (ix *Index) Index(ticket *domain.Ticket) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	did := docID(ticket.Repository, ticket.Number)
	if err := ix.idx.Delete(did); err != nil {
		return err
	}
	if err := ix.idx.Index(did, toDocument(ticket)); err != nil {
		return err
	}
	ix.metrics.IndexOps.WithLabelValues("index").Inc()
	return nil
}

// IndexBulk batches inserts without per-item deletes. Only safe after
// the documents' keys are known absent, i.e. during reindex.
func (ix *Index) IndexBulk(tickets []*domain.Ticket) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	batch := ix.idx.NewBatch()
	for _, ticket := range tickets {
		if err := batch.Index(docID(ticket.Repository, ticket.Number), toDocument(ticket)); err != nil {
			return err
		}
	}
	if err := ix.idx.Batch(batch); err != nil {
		return err
	}
	ix.metrics.IndexOps.WithLabelValues("bulk").Add(float64(len(tickets)))
	return nil
}

// Delete removes one ticket's document.
func (ix *Index) Delete(repository string, number int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.idx.Delete(docID(repository, number)); err != nil {
		return err
	}
	ix.metrics.IndexOps.WithLabelValues("delete").Inc()
	return nil
}

// DeleteRepository removes every document of one repository.
func (ix *Index) DeleteRepository(repository string) error {
	tq := query.NewTermQuery(repoID(repository))
	tq.SetField(FieldRID)
	return ix.deleteMatching(tq)
}

// Clear removes every document; the index is rebuilt from journals
// afterwards.
func (ix *Index) Clear() error {
	return ix.deleteMatching(query.NewMatchAllQuery())
}

func (ix *Index) deleteMatching(q query.Query) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for {
		req := bleve.NewSearchRequestOptions(q, 1000, 0, false)
		res, err := ix.idx.Search(req)
		if err != nil {
			return err
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := ix.idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := ix.idx.Batch(batch); err != nil {
			return err
		}
		ix.metrics.IndexOps.WithLabelValues("delete").Add(float64(len(res.Hits)))
	}
}

// SearchFor runs a free-text query scoped to one repository: OR
// semantics across the text fields.
func (ix *Index) SearchFor(repository, text string, page, pageSize int) ([]*domain.QueryResult, error) {
	rq := query.NewTermQuery(repoID(repository))
	rq.SetField(FieldRID)
	q := query.NewConjunctionQuery([]query.Query{rq, freeTextQuery(text)})
	return ix.run(q, page, pageSize, "", false)
}

// QueryFor executes a structured boolean query with field sort and
// paging. The default sort is creation time.
func (ix *Index) QueryFor(queryString string, page, pageSize int, sortBy string, descending bool) ([]*domain.QueryResult, error) {
	q, err := ParseQuery(queryString)
	if err != nil {
		return nil, err
	}
	return ix.run(q, page, pageSize, sortBy, descending)
}

func (ix *Index) run(q query.Query, page, pageSize int, sortBy string, descending bool) ([]*domain.QueryResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10000
	}
	if sortBy == "" {
		sortBy = FieldCreated
	}
	if descending {
		sortBy = "-" + sortBy
	}

	req := bleve.NewSearchRequestOptions(q, pageSize, (page-1)*pageSize, false)
	req.Fields = []string{"*"}
	req.SortBy([]string{sortBy})

	res, err := ix.idx.Search(req)
	if err != nil {
		return nil, err
	}
	results := make([]*domain.QueryResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		result := toResult(hit.Fields)
		result.TotalResults = int64(res.Total)
		results = append(results, result)
	}
	return results, nil
}

func toResult(fields map[string]interface{}) *domain.QueryResult {
	return &domain.QueryResult{
		Repository:   fieldString(fields, FieldRepository),
		Number:       int64(fieldFloat(fields, FieldNumber)),
		ChangeID:     fieldString(fields, FieldChangeID),
		CreatedAt:    fieldTime(fields, FieldCreated),
		CreatedBy:    fieldString(fields, FieldCreatedBy),
		UpdatedAt:    fieldTime(fields, FieldUpdated),
		UpdatedBy:    fieldString(fields, FieldUpdatedBy),
		Title:        fieldString(fields, FieldTitle),
		Body:         fieldString(fields, FieldBody),
		Topic:        fieldString(fields, FieldTopic),
		Type:         domain.TicketType(fieldString(fields, FieldType)),
		Status:       domain.Status(fieldString(fields, FieldStatus)),
		Responsible:  fieldString(fields, FieldResponsible),
		Milestone:    fieldString(fields, FieldMilestone),
		MergeSha:     fieldString(fields, FieldMergeSha),
		MergeTo:      fieldString(fields, FieldMergeTo),
		Labels:       fieldStrings(fields, FieldLabels),
		Participants: fieldStrings(fields, FieldParticipants),
		Watchers:     fieldStrings(fields, FieldWatchedBy),
		Mentions:     fieldStrings(fields, FieldMentions),
		Attachments:  int(fieldFloat(fields, FieldAttachments)),
		Comments:     int(fieldFloat(fields, FieldComments)),
		Votes:        int(fieldFloat(fields, FieldVotes)),
		Patchsets:    int(fieldFloat(fields, FieldPatchsets)),
	}
}

func fieldString(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

func fieldFloat(fields map[string]interface{}, name string) float64 {
	if v, ok := fields[name].(float64); ok {
		return v
	}
	return 0
}

func fieldTime(fields map[string]interface{}, name string) time.Time {
	v, ok := fields[name].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fieldStrings(fields map[string]interface{}, name string) []string {
	switch v := fields[name].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		var list []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				list = append(list, s)
			}
		}
		return list
	}
	return nil
}

