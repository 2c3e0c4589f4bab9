package organization

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
)

// Gateway: подмножество iiko.Client, нужное для синхронизации справочников.
type Gateway interface {
	TerminalGroups(ctx context.Context, organizationID string) (iiko.Fields, error)
	PaymentTypes(ctx context.Context, organizationID string) (iiko.Fields, error)
	Discounts(ctx context.Context, organizationID string) (iiko.Fields, error)
}

type GatewayFactory func(apiKey string) Gateway

type Service interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
	SyncTerminals(ctx context.Context, organizationID uuid.UUID) ([]Terminal, error)
	SyncPaymentTypes(ctx context.Context, organizationID uuid.UUID) ([]PaymentType, error)
	SyncDiscounts(ctx context.Context, organizationID uuid.UUID) (*DiscountSyncResult, error)
}

type service struct {
	repo    Repository
	gateway GatewayFactory
}

func NewService(repo Repository, gateway GatewayFactory) Service {
	return &service{repo: repo, gateway: gateway}
}

func (s *service) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	org, err := s.repo.GetOrganization(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("service: failed to get organization: %w", err)
	}
	return org, nil
}

func (s *service) SyncTerminals(ctx context.Context, organizationID uuid.UUID) ([]Terminal, error) {
	org, err := s.GetOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway(org.APIKey).TerminalGroups(ctx, org.ExternalID)
	if err != nil {
		log.Error().Err(err).Stringer("organization_id", org.ID).Msg("service: failed to fetch terminal groups")
		return nil, fmt.Errorf("service: failed to fetch terminal groups: %w", err)
	}

	records := TerminalRecordsFrom(resp, org.ExternalID)
	if len(records) == 0 {
		log.Warn().Stringer("organization_id", org.ID).Msg("service: iiko returned no terminal groups")
		return []Terminal{}, nil
	}

	terminals, err := s.repo.UpsertTerminals(ctx, org.ID, records)
	if err != nil {
		return nil, fmt.Errorf("service: failed to save terminals: %w", err)
	}

	log.Info().Stringer("organization_id", org.ID).Int("count", len(terminals)).Msg("service: terminals synced")
	return terminals, nil
}

func (s *service) SyncPaymentTypes(ctx context.Context, organizationID uuid.UUID) ([]PaymentType, error) {
	org, err := s.GetOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway(org.APIKey).PaymentTypes(ctx, org.ExternalID)
	if err != nil {
		log.Error().Err(err).Stringer("organization_id", org.ID).Msg("service: failed to fetch payment types")
		return nil, fmt.Errorf("service: failed to fetch payment types: %w", err)
	}

	records := PaymentTypeRecordsFrom(resp)
	if len(records) == 0 {
		return []PaymentType{}, nil
	}

	types, err := s.repo.UpsertPaymentTypes(ctx, org.ID, records)
	if err != nil {
		return nil, fmt.Errorf("service: failed to save payment types: %w", err)
	}

	log.Info().Stringer("organization_id", org.ID).Int("count", len(types)).Msg("service: payment types synced")
	return types, nil
}

// SyncDiscounts: пустой ответ iiko выключает все скидки организации.
func (s *service) SyncDiscounts(ctx context.Context, organizationID uuid.UUID) (*DiscountSyncResult, error) {
	org, err := s.GetOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway(org.APIKey).Discounts(ctx, org.ExternalID)
	if err != nil {
		log.Error().Err(err).Stringer("organization_id", org.ID).Msg("service: failed to fetch discounts")
		return nil, fmt.Errorf("service: failed to fetch discounts: %w", err)
	}

	result, err := s.repo.SyncDiscounts(ctx, org.ID, DiscountRecordsFrom(resp, org.ExternalID))
	if err != nil {
		return nil, fmt.Errorf("service: failed to save discounts: %w", err)
	}

	log.Info().
		Stringer("organization_id", org.ID).
		Int("synced", result.Synced).
		Int("deactivated", result.Deactivated).
		Msg("service: discounts synced")
	return result, nil
}

// TerminalRecordsFrom разбирает terminalGroups[].items[]. Блоки чужих организаций пропускаются.
func TerminalRecordsFrom(resp iiko.Fields, organizationExternalID string) []TerminalRecord {
	var records []TerminalRecord
	seen := make(map[string]bool)

	for _, block := range resp.List("terminalGroups") {
		if orgID := block.String("organizationId"); orgID != "" && organizationExternalID != "" &&
			!strings.EqualFold(orgID, organizationExternalID) {
			continue
		}
		for _, item := range block.List("items") {
			id := item.String("id")
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			name := item.String("name")
			if name == "" {
				name = id
			}
			records = append(records, TerminalRecord{
				ExternalID: id,
				Name:       name,
				Address:    item.String("address"),
			})
		}
	}
	return records
}

func PaymentTypeRecordsFrom(resp iiko.Fields) []PaymentTypeRecord {
	var records []PaymentTypeRecord
	for _, item := range resp.List("paymentTypes") {
		if deleted, _ := item.Bool("isDeleted"); deleted {
			continue
		}
		id := item.String("id")
		if id == "" {
			continue
		}
		kind := item.String("paymentTypeKind")
		if kind == "" {
			kind = "External"
		}
		records = append(records, PaymentTypeRecord{
			ExternalID: id,
			Name:       item.String("name"),
			Kind:       kind,
		})
	}
	return records
}

// DiscountRecordsFrom разбирает discounts[].items[]. Записи с id не в формате UUID пропускаются.
func DiscountRecordsFrom(resp iiko.Fields, organizationExternalID string) []DiscountRecord {
	var records []DiscountRecord
	seen := make(map[string]bool)

	for _, block := range resp.List("discounts") {
		if orgID := block.String("organizationId"); orgID != "" && organizationExternalID != "" &&
			!strings.EqualFold(strings.TrimSpace(orgID), organizationExternalID) {
			continue
		}
		for _, item := range block.List("items") {
			id, err := uuid.FromString(item.String("id"))
			if err != nil {
				if raw := item.String("id"); raw != "" {
					log.Warn().Str("discount_id", raw).Msg("service: discount id is not a UUID, skipped")
				}
				continue
			}
			externalID := id.String()
			if seen[externalID] {
				continue
			}
			seen[externalID] = true

			percent := decimal.Zero
			if raw, ok := item.Number("percent"); ok {
				if p, err := decimal.NewFromString(raw); err == nil {
					percent = p
				}
			}
			mode := item.String("mode")
			if mode == "" {
				mode = "Percent"
			}
			manual, _ := item.Bool("isManual")
			deleted, _ := item.Bool("isDeleted")

			records = append(records, DiscountRecord{
				ExternalID:      externalID,
				Name:            item.String("name"),
				Percent:         percent,
				Mode:            mode,
				IsManual:        manual,
				IsDeletedInIiko: deleted,
			})
		}
	}
	return records
}
