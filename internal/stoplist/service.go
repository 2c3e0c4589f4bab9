package stoplist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

var ErrInactiveTerminal = errors.New("terminal is inactive")

type Gateway interface {
	StopLists(ctx context.Context, organizationID string) (iiko.Fields, error)
}

type GatewayFactory func(apiKey string) Gateway

// Directory: справочник организаций и терминалов; его реализует organization.Repository.
type Directory interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*organization.Organization, error)
	GetTerminal(ctx context.Context, id uuid.UUID) (*organization.Terminal, error)
	ListTerminals(ctx context.Context, organizationID uuid.UUID) ([]organization.Terminal, error)
	ListActiveTerminals(ctx context.Context) ([]organization.Terminal, error)
	MarkStopListSynced(ctx context.Context, terminalID uuid.UUID, at time.Time) error
}

type Service interface {
	SyncTerminal(ctx context.Context, terminalID uuid.UUID) (*Result, error)
	SyncOrganization(ctx context.Context, organizationID uuid.UUID) ([]Result, error)
	SyncDue(ctx context.Context, now time.Time) (*Summary, error)
	IsStopped(ctx context.Context, productID, terminalID uuid.UUID) (bool, error)
}

type service struct {
	repo    Repository
	dir     Directory
	gateway GatewayFactory
	policy  Policy
	now     func() time.Time
}

func NewService(repo Repository, dir Directory, gateway GatewayFactory, policy Policy) Service {
	return &service{repo: repo, dir: dir, gateway: gateway, policy: policy, now: time.Now}
}

func (s *service) SyncTerminal(ctx context.Context, terminalID uuid.UUID) (*Result, error) {
	terminal, err := s.dir.GetTerminal(ctx, terminalID)
	if err != nil {
		if errors.Is(err, organization.ErrTerminalNotFound) {
			return nil, organization.ErrTerminalNotFound
		}
		return nil, fmt.Errorf("service: failed to get terminal: %w", err)
	}
	if !terminal.IsActive {
		return nil, ErrInactiveTerminal
	}

	org, err := s.dir.GetOrganization(ctx, terminal.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get organization: %w", err)
	}

	results, err := s.syncBatch(ctx, org, []organization.Terminal{*terminal})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("service: stop-list of terminal %s was not applied", terminalID)
	}
	return &results[0], nil
}

func (s *service) SyncOrganization(ctx context.Context, organizationID uuid.UUID) ([]Result, error) {
	org, err := s.dir.GetOrganization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, organization.ErrOrganizationNotFound) {
			return nil, organization.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("service: failed to get organization: %w", err)
	}

	terminals, err := s.dir.ListTerminals(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list terminals: %w", err)
	}
	return s.syncBatch(ctx, org, terminals)
}

// syncBatch: один запрос в iiko на организацию, затем независимая сверка по каждому терминалу.
// Ошибка запроса не меняет ничего; ошибка одного терминала не мешает остальным.
func (s *service) syncBatch(ctx context.Context, org *organization.Organization, terminals []organization.Terminal) ([]Result, error) {
	if len(terminals) == 0 {
		return []Result{}, nil
	}

	resp, err := s.gateway(org.APIKey).StopLists(ctx, org.ExternalID)
	if err != nil {
		log.Error().Err(err).Stringer("organization_id", org.ID).Msg("service: failed to fetch stop-lists, nothing changed")
		return nil, fmt.Errorf("service: failed to fetch stop-lists: %w", err)
	}

	results := make([]Result, 0, len(terminals))
	for _, t := range terminals {
		items, found := TerminalItems(resp, org.ExternalID, t.ExternalID)
		if !found {
			log.Debug().Stringer("terminal_id", t.ID).Msg("service: terminal missing in stop-list response, treating as empty")
		}

		res, err := s.repo.Apply(ctx, org.ID, t.ID, items)
		if err != nil {
			log.Error().Err(err).Stringer("terminal_id", t.ID).Msg("service: failed to apply stop-list")
			continue
		}
		if len(res.Unresolved) > 0 {
			log.Warn().Stringer("terminal_id", t.ID).Strs("product_ids", res.Unresolved).
				Msg("service: stop-list items not found in active menu")
		}
		if err := s.dir.MarkStopListSynced(ctx, t.ID, s.now().UTC()); err != nil {
			log.Error().Err(err).Stringer("terminal_id", t.ID).Msg("service: failed to record stop-list sync time")
		}

		log.Info().
			Stringer("terminal_id", t.ID).
			Int("upserted", res.Upserted).
			Int("deleted", res.Deleted).
			Msg("service: stop-list synced")
		results = append(results, *res)
	}
	return results, nil
}

// SyncDue: проход планировщика: только активные терминалы в рабочее время,
// у которых истёк интервал обновления; запросы сгруппированы по организациям.
func (s *service) SyncDue(ctx context.Context, now time.Time) (*Summary, error) {
	if !s.policy.GlobalAllowed(now) {
		log.Debug().Time("now", now).Msg("service: stop-list sync skipped outside working hours")
		return &Summary{Reason: ReasonOutsideWorkingHours}, nil
	}

	terminals, err := s.dir.ListActiveTerminals(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list active terminals: %w", err)
	}

	summary := &Summary{}
	var order []uuid.UUID
	byOrg := make(map[uuid.UUID][]organization.Terminal)
	for _, t := range terminals {
		if !s.policy.Due(t, now) {
			summary.Skipped++
			continue
		}
		if _, ok := byOrg[t.OrganizationID]; !ok {
			order = append(order, t.OrganizationID)
		}
		byOrg[t.OrganizationID] = append(byOrg[t.OrganizationID], t)
	}

	for _, orgID := range order {
		batch := byOrg[orgID]
		org, err := s.dir.GetOrganization(ctx, orgID)
		if err != nil {
			log.Error().Err(err).Stringer("organization_id", orgID).Msg("service: failed to get organization for stop-list sync")
			summary.Errors += len(batch)
			continue
		}
		if org.APIKey == "" {
			summary.Skipped += len(batch)
			continue
		}

		results, err := s.syncBatch(ctx, org, batch)
		if err != nil {
			summary.Errors += len(batch)
			continue
		}
		summary.Synced += len(results)
		summary.Errors += len(batch) - len(results)
	}

	log.Info().
		Int("synced", summary.Synced).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Msg("service: stop-list sync pass finished")
	return summary, nil
}

func (s *service) IsStopped(ctx context.Context, productID, terminalID uuid.UUID) (bool, error) {
	return s.repo.IsStopped(ctx, productID, terminalID)
}

// Scheduler периодически вызывает SyncDue.
type Scheduler struct {
	svc  Service
	tick time.Duration
}

func NewScheduler(svc Service, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{svc: svc, tick: tick}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if _, err := s.svc.SyncDue(ctx, time.Now()); err != nil {
			log.Error().Err(err).Msg("scheduler: stop-list sync pass failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: stopped")
			return nil
		case <-ticker.C:
		}
	}
}
