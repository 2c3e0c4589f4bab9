package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

// Gateway: методы iiko, из которых строится меню.
type Gateway interface {
	Nomenclature(ctx context.Context, organizationID string) (iiko.Fields, error)
	ExternalMenus(ctx context.Context, organizationID string) (iiko.Fields, error)
	ExternalMenuByID(ctx context.Context, req iiko.ExternalMenuRequest) (iiko.Fields, error)
}

type GatewayFactory func(apiKey string) Gateway

type OrganizationGetter interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*organization.Organization, error)
}

type NomenclatureOptions struct {
	MenuName        string
	PriceCategoryID string
	Activate        bool
}

type ExternalMenuOptions struct {
	ExternalMenuID  string
	PriceCategoryID string
	MenuName        string
}

type ExternalMenuInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PriceCategoryInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ExternalMenuList struct {
	Menus           []ExternalMenuInfo  `json:"external_menus"`
	PriceCategories []PriceCategoryInfo `json:"price_categories"`
}

type Service interface {
	SyncNomenclature(ctx context.Context, organizationID uuid.UUID, opts NomenclatureOptions) ([]SyncStats, error)
	SyncSelectedRoots(ctx context.Context, organizationID uuid.UUID, rootIDs []string, priceCategoryID string) ([]SyncStats, error)
	SyncExternalMenu(ctx context.Context, organizationID uuid.UUID, opts ExternalMenuOptions) ([]SyncStats, error)
	ListExternalMenus(ctx context.Context, organizationID uuid.UUID) (*ExternalMenuList, error)
	RootGroups(ctx context.Context, organizationID uuid.UUID) ([]RootGroup, error)
	ActivateMenu(ctx context.Context, organizationID, menuID uuid.UUID) error
}

type service struct {
	repo    Repository
	orgs    OrganizationGetter
	gateway GatewayFactory
}

func NewService(repo Repository, orgs OrganizationGetter, gateway GatewayFactory) Service {
	return &service{repo: repo, orgs: orgs, gateway: gateway}
}

func (s *service) organization(ctx context.Context, id uuid.UUID) (*organization.Organization, error) {
	org, err := s.orgs.GetOrganization(ctx, id)
	if err != nil {
		if errors.Is(err, organization.ErrOrganizationNotFound) {
			return nil, organization.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("service: failed to get organization: %w", err)
	}
	return org, nil
}

func (s *service) SyncNomenclature(ctx context.Context, organizationID uuid.UUID, opts NomenclatureOptions) ([]SyncStats, error) {
	org, err := s.organization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	payload, err := s.gateway(org.APIKey).Nomenclature(ctx, org.ExternalID)
	if err != nil {
		log.Error().Err(err).Stringer("organization_id", org.ID).Msg("service: failed to fetch nomenclature")
		return nil, fmt.Errorf("service: failed to fetch nomenclature: %w", err)
	}

	name := opts.MenuName
	if name == "" {
		name = "Меню " + org.Name
	}
	snap := BuildNomenclature(payload, MenuSpec{
		Name:            name,
		SourceType:      SourceNomenclature,
		PriceCategoryID: opts.PriceCategoryID,
		Activate:        opts.Activate,
	})
	return s.apply(ctx, org, []Snapshot{snap})
}

func (s *service) SyncSelectedRoots(ctx context.Context, organizationID uuid.UUID, rootIDs []string, priceCategoryID string) ([]SyncStats, error) {
	if len(rootIDs) == 0 {
		return nil, ErrNothingToSync
	}
	org, err := s.organization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	payload, err := s.gateway(org.APIKey).Nomenclature(ctx, org.ExternalID)
	if err != nil {
		log.Error().Err(err).Stringer("organization_id", org.ID).Msg("service: failed to fetch nomenclature")
		return nil, fmt.Errorf("service: failed to fetch nomenclature: %w", err)
	}

	snapshots, missing := BuildSelectedRoots(payload, rootIDs, priceCategoryID)
	if len(missing) > 0 {
		log.Warn().Stringer("organization_id", org.ID).Strs("root_ids", missing).Msg("service: selected root groups not found in nomenclature")
	}
	return s.apply(ctx, org, snapshots)
}

func (s *service) SyncExternalMenu(ctx context.Context, organizationID uuid.UUID, opts ExternalMenuOptions) ([]SyncStats, error) {
	org, err := s.organization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	payload, err := s.gateway(org.APIKey).ExternalMenuByID(ctx, iiko.ExternalMenuRequest{
		ExternalMenuID:  opts.ExternalMenuID,
		OrganizationID:  org.ExternalID,
		PriceCategoryID: opts.PriceCategoryID,
	})
	if err != nil {
		log.Error().Err(err).Stringer("organization_id", org.ID).Str("external_menu_id", opts.ExternalMenuID).
			Msg("service: failed to fetch external menu")
		return nil, fmt.Errorf("service: failed to fetch external menu: %w", err)
	}

	name := opts.MenuName
	if name == "" {
		name = "Внешнее меню " + org.Name
	}
	spec := MenuSpec{
		Name:            name,
		SourceType:      SourceExternal,
		ExternalMenuID:  opts.ExternalMenuID,
		PriceCategoryID: opts.PriceCategoryID,
		Activate:        true,
	}

	var snap Snapshot
	switch shape := iiko.DetectMenuShape(payload); shape {
	case iiko.ShapeExternal:
		snap = BuildExternal(payload, spec)
	case iiko.ShapeNomenclature:
		// by_id иногда отдаёт номенклатурный формат, разбираем его тем же путём
		snap = BuildNomenclature(payload, spec)
	default:
		log.Warn().Stringer("organization_id", org.ID).Str("external_menu_id", opts.ExternalMenuID).
			Msg("service: external menu payload has unknown shape")
		return nil, ErrUnsupportedMenuShape
	}
	return s.apply(ctx, org, []Snapshot{snap})
}

func (s *service) apply(ctx context.Context, org *organization.Organization, snapshots []Snapshot) ([]SyncStats, error) {
	usable := make([]Snapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.Empty() {
			log.Warn().Stringer("organization_id", org.ID).Str("menu", snap.Menu.Name).Msg("service: menu payload has no usable data, skipped")
			continue
		}
		usable = append(usable, snap)
	}
	if len(usable) == 0 {
		return []SyncStats{}, nil
	}

	stats, err := s.repo.ApplySnapshots(ctx, org.ID, usable)
	if err != nil {
		if errors.Is(err, ErrMultipleActiveMenus) {
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to save menu: %w", err)
	}

	for _, st := range stats {
		log.Info().
			Stringer("organization_id", org.ID).
			Stringer("menu_id", st.MenuID).
			Str("menu", st.MenuName).
			Int("categories", st.Categories).
			Int("products", st.Products).
			Int("modifiers", st.Modifiers).
			Msg("service: menu synced")
	}
	return stats, nil
}

func (s *service) ListExternalMenus(ctx context.Context, organizationID uuid.UUID) (*ExternalMenuList, error) {
	org, err := s.organization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway(org.APIKey).ExternalMenus(ctx, org.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch external menus: %w", err)
	}
	return ExternalMenusFrom(resp), nil
}

func ExternalMenusFrom(resp iiko.Fields) *ExternalMenuList {
	out := &ExternalMenuList{
		Menus:           []ExternalMenuInfo{},
		PriceCategories: []PriceCategoryInfo{},
	}
	for _, m := range resp.List("externalMenus") {
		if id := m.String("id"); id != "" {
			out.Menus = append(out.Menus, ExternalMenuInfo{ID: id, Name: m.String("name")})
		}
	}
	for _, pc := range resp.List("priceCategories") {
		if id := pc.String("id"); id != "" {
			out.PriceCategories = append(out.PriceCategories, PriceCategoryInfo{ID: id, Name: pc.String("name")})
		}
	}
	return out
}

func (s *service) RootGroups(ctx context.Context, organizationID uuid.UUID) ([]RootGroup, error) {
	org, err := s.organization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	payload, err := s.gateway(org.APIKey).Nomenclature(ctx, org.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch nomenclature: %w", err)
	}
	return RootGroups(payload), nil
}

func (s *service) ActivateMenu(ctx context.Context, organizationID, menuID uuid.UUID) error {
	if err := s.repo.ActivateMenu(ctx, organizationID, menuID); err != nil {
		if errors.Is(err, ErrMenuNotFound) || errors.Is(err, ErrMultipleActiveMenus) {
			return err
		}
		return fmt.Errorf("service: failed to activate menu: %w", err)
	}
	log.Info().Stringer("organization_id", organizationID).Stringer("menu_id", menuID).Msg("service: menu activated")
	return nil
}
