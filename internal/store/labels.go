package store

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/internal/index"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// repoConfig is the per-repository settings document holding label and
// milestone definitions. It lives beside the journals in the active
// backend.
type repoConfig struct {
	Labels     []domain.Label     `json:"labels,omitempty"`
	Milestones []domain.Milestone `json:"milestones,omitempty"`
}

func (s *Service) readConfig(ctx context.Context, repository string) (*repoConfig, error) {
	data, err := s.backend.ReadConfig(ctx, repository)
	if err != nil {
		return nil, err
	}
	cfg := &repoConfig{}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, util.NewMalformed("cannot decode repository settings", err)
	}
	return cfg, nil
}

func (s *Service) writeConfig(ctx context.Context, repository string, cfg *repoConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return s.backend.WriteConfig(ctx, repository, data)
}

// GetLabels returns the repository's label definitions with their
// matching tickets attached from the index.
func (s *Service) GetLabels(ctx context.Context, repository string) ([]domain.Label, error) {
	cfg, err := s.readConfig(ctx, repository)
	if err != nil {
		return nil, err
	}
	for i := range cfg.Labels {
		query := index.NewQueryBuilder().
			And(index.Matches(index.FieldRepository, repository)).
			And(index.Matches(index.FieldLabels, cfg.Labels[i].Name)).
			Build()
		results, err := s.indexer.QueryFor(query, 1, 0, "", false)
		if err != nil {
			s.logger.Warn("label ticket lookup failed",
				zap.String("repository", repository),
				zap.String("label", cfg.Labels[i].Name), zap.Error(err))
			continue
		}
		cfg.Labels[i].Tickets = results
	}
	return cfg.Labels, nil
}

// GetLabel returns one label definition, or nil.
func (s *Service) GetLabel(ctx context.Context, repository, name string) (*domain.Label, error) {
	labels, err := s.GetLabels(ctx, repository)
	if err != nil {
		return nil, err
	}
	for i := range labels {
		if labels[i].Name == name {
			return &labels[i], nil
		}
	}
	return nil, nil
}

// CreateLabel registers a label definition.
func (s *Service) CreateLabel(ctx context.Context, repository, name, color string) (*domain.Label, error) {
	if name == "" {
		return nil, util.NewValidationError("label name is required", nil)
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	cfg, err := s.readConfig(ctx, repository)
	if err != nil {
		return nil, err
	}
	for _, label := range cfg.Labels {
		if label.Name == name {
			return nil, util.NewConflict("label already exists", map[string]any{"label": name})
		}
	}
	label := domain.Label{Name: name, Color: color}
	cfg.Labels = append(cfg.Labels, label)
	if err := s.writeConfig(ctx, repository, cfg); err != nil {
		return nil, err
	}
	return &label, nil
}

// DeleteLabel removes a label definition and unlabels every ticket
// carrying it.
func (s *Service) DeleteLabel(ctx context.Context, repository, name, actor string) error {
	s.configMu.Lock()
	cfg, err := s.readConfig(ctx, repository)
	if err != nil {
		s.configMu.Unlock()
		return err
	}
	kept := cfg.Labels[:0]
	for _, label := range cfg.Labels {
		if label.Name != name {
			kept = append(kept, label)
		}
	}
	cfg.Labels = kept
	err = s.writeConfig(ctx, repository, cfg)
	s.configMu.Unlock()
	if err != nil {
		return err
	}
	return s.relabel(ctx, repository, name, "", actor)
}

// RenameLabel renames a label definition and moves every labeled ticket
// to the new name. Continues past per-ticket failures.
func (s *Service) RenameLabel(ctx context.Context, repository, oldName, newName, actor string) error {
	if newName == "" {
		return util.NewValidationError("label name is required", nil)
	}
	s.configMu.Lock()
	cfg, err := s.readConfig(ctx, repository)
	if err != nil {
		s.configMu.Unlock()
		return err
	}
	for i := range cfg.Labels {
		if cfg.Labels[i].Name == oldName {
			cfg.Labels[i].Name = newName
		}
	}
	err = s.writeConfig(ctx, repository, cfg)
	s.configMu.Unlock()
	if err != nil {
		return err
	}
	return s.relabel(ctx, repository, oldName, newName, actor)
}

func (s *Service) relabel(ctx context.Context, repository, oldName, newName, actor string) error {
	tickets, err := s.GetTickets(ctx, repository, func(t *domain.Ticket) bool {
		return t.HasLabel(oldName)
	})
	if err != nil {
		return err
	}
	var failed int
	for _, ticket := range tickets {
		change := domain.NewChange(actor)
		change.Unlabel(oldName)
		if newName != "" {
			change.Label(newName)
		}
		if _, err := s.UpdateTicket(ctx, repository, ticket.Number, change); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return util.NewConflict("label change incomplete", map[string]any{"failed": failed})
	}
	return nil
}

// GetMilestones returns the repository's milestone definitions with
// their matching tickets attached from the index.
func (s *Service) GetMilestones(ctx context.Context, repository string) ([]domain.Milestone, error) {
	cfg, err := s.readConfig(ctx, repository)
	if err != nil {
		return nil, err
	}
	for i := range cfg.Milestones {
		query := index.NewQueryBuilder().
			And(index.Matches(index.FieldRepository, repository)).
			And(index.Matches(index.FieldMilestone, cfg.Milestones[i].Name)).
			Build()
		results, err := s.indexer.QueryFor(query, 1, 0, "", false)
		if err != nil {
			s.logger.Warn("milestone ticket lookup failed",
				zap.String("repository", repository),
				zap.String("milestone", cfg.Milestones[i].Name), zap.Error(err))
			continue
		}
		cfg.Milestones[i].Tickets = results
	}
	return cfg.Milestones, nil
}

// GetMilestone returns one milestone definition, or nil.
func (s *Service) GetMilestone(ctx context.Context, repository, name string) (*domain.Milestone, error) {
	milestones, err := s.GetMilestones(ctx, repository)
	if err != nil {
		return nil, err
	}
	for i := range milestones {
		if milestones[i].Name == name {
			return &milestones[i], nil
		}
	}
	return nil, nil
}

// CreateMilestone registers a milestone definition.
func (s *Service) CreateMilestone(ctx context.Context, repository string, milestone domain.Milestone) (*domain.Milestone, error) {
	if milestone.Name == "" {
		return nil, util.NewValidationError("milestone name is required", nil)
	}
	if milestone.Status == "" {
		milestone.Status = domain.StatusOpen
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	cfg, err := s.readConfig(ctx, repository)
	if err != nil {
		return nil, err
	}
	for _, m := range cfg.Milestones {
		if m.Name == milestone.Name {
			return nil, util.NewConflict("milestone already exists", map[string]any{"milestone": milestone.Name})
		}
	}
	cfg.Milestones = append(cfg.Milestones, milestone)
	if err := s.writeConfig(ctx, repository, cfg); err != nil {
		return nil, err
	}
	return &milestone, nil
}

// UpdateMilestone replaces a milestone definition in place.
func (s *Service) UpdateMilestone(ctx context.Context, repository string, milestone domain.Milestone) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	cfg, err := s.readConfig(ctx, repository)
	if err != nil {
		return err
	}
	for i := range cfg.Milestones {
		if cfg.Milestones[i].Name == milestone.Name {
			cfg.Milestones[i] = milestone
			return s.writeConfig(ctx, repository, cfg)
		}
	}
	return util.NewNotFound("milestone", map[string]any{"milestone": milestone.Name})
}

// RenameMilestone renames a milestone and moves its tickets to the new
// name.
func (s *Service) RenameMilestone(ctx context.Context, repository, oldName, newName, actor string) error {
	if newName == "" {
		return util.NewValidationError("milestone name is required", nil)
	}
	s.configMu.Lock()
	cfg, err := s.readConfig(ctx, repository)
	if err != nil {
		s.configMu.Unlock()
		return err
	}
	for i := range cfg.Milestones {
		if cfg.Milestones[i].Name == oldName {
			cfg.Milestones[i].Name = newName
		}
	}
	err = s.writeConfig(ctx, repository, cfg)
	s.configMu.Unlock()
	if err != nil {
		return err
	}
	return s.remilestone(ctx, repository, oldName, newName, actor)
}

// DeleteMilestone removes a milestone definition and clears it from its
// tickets.
func (s *Service) DeleteMilestone(ctx context.Context, repository, name, actor string) error {
	s.configMu.Lock()
	cfg, err := s.readConfig(ctx, repository)
	if err != nil {
		s.configMu.Unlock()
		return err
	}
	kept := cfg.Milestones[:0]
	for _, m := range cfg.Milestones {
		if m.Name != name {
			kept = append(kept, m)
		}
	}
	cfg.Milestones = kept
	err = s.writeConfig(ctx, repository, cfg)
	s.configMu.Unlock()
	if err != nil {
		return err
	}
	return s.remilestone(ctx, repository, name, "", actor)
}

func (s *Service) remilestone(ctx context.Context, repository, oldName, newName, actor string) error {
	tickets, err := s.GetTickets(ctx, repository, func(t *domain.Ticket) bool {
		return t.Milestone == oldName
	})
	if err != nil {
		return err
	}
	var failed int
	for _, ticket := range tickets {
		change := domain.NewChange(actor)
		change.SetField(domain.FieldMilestone, newName)
		if _, err := s.UpdateTicket(ctx, repository, ticket.Number, change); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return util.NewConflict("milestone change incomplete", map[string]any{"failed": failed})
	}
	return nil
}
