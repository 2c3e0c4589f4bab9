package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/food-delivery/internal/catalog"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(name, value string) (uuid.UUID, error) {
	id, err := uuid.FromString(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --%s %q: %w", name, value, err)
	}
	return id, nil
}

func syncMenuCmd() *cobra.Command {
	var (
		orgID           string
		roots           []string
		externalMenuID  string
		priceCategoryID string
		menuName        string
		activate        bool
		listRoots       bool
		listExternal    bool
	)

	cmd := &cobra.Command{
		Use:   "sync-menu",
		Short: "Import the menu of an organization from iiko",
		Long: `Import the menu of an organization from iiko.

Examples:
  delivery sync-menu --org <id> --activate
  delivery sync-menu --org <id> --roots <groupId>,<groupId>
  delivery sync-menu --org <id> --external-menu <menuId> --price-category <id>
  delivery sync-menu --org <id> --list-roots`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("org", orgID)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case listRoots:
				groups, err := a.catalog.RootGroups(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(out, groups)
			case listExternal:
				menus, err := a.catalog.ListExternalMenus(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(out, menus)
			}

			var stats []catalog.SyncStats
			switch {
			case externalMenuID != "":
				stats, err = a.catalog.SyncExternalMenu(ctx, id, catalog.ExternalMenuOptions{
					ExternalMenuID:  externalMenuID,
					PriceCategoryID: priceCategoryID,
					MenuName:        menuName,
				})
			case len(roots) > 0:
				stats, err = a.catalog.SyncSelectedRoots(ctx, id, roots, priceCategoryID)
			default:
				stats, err = a.catalog.SyncNomenclature(ctx, id, catalog.NomenclatureOptions{
					MenuName:        menuName,
					PriceCategoryID: priceCategoryID,
					Activate:        activate,
				})
			}
			if err != nil {
				return err
			}
			return printJSON(out, stats)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringSliceVar(&roots, "roots", nil, "import only these root groups, one menu per root")
	cmd.Flags().StringVar(&externalMenuID, "external-menu", "", "import an external menu by id")
	cmd.Flags().StringVar(&priceCategoryID, "price-category", "", "price category id")
	cmd.Flags().StringVar(&menuName, "name", "", "menu name")
	cmd.Flags().BoolVar(&activate, "activate", false, "make the imported nomenclature menu active")
	cmd.Flags().BoolVar(&listRoots, "list-roots", false, "print root groups instead of importing")
	cmd.Flags().BoolVar(&listExternal, "list-external", false, "print external menus and price categories instead of importing")
	_ = cmd.MarkFlagRequired("org")
	cmd.MarkFlagsMutuallyExclusive("roots", "external-menu", "list-roots", "list-external")

	return cmd
}

func activateMenuCmd() *cobra.Command {
	var orgID, menuID string

	cmd := &cobra.Command{
		Use:   "activate-menu",
		Short: "Make a menu the active one for its organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := parseID("org", orgID)
			if err != nil {
				return err
			}
			menu, err := parseID("menu", menuID)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.catalog.ActivateMenu(cmd.Context(), org, menu); err != nil {
				return err
			}
			log.Info().Stringer("menu_id", menu).Msg("Menu activated")
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&menuID, "menu", "", "menu id")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("menu")
	return cmd
}

// organizationsFor: одна организация по --org или все активные.
func organizationsFor(cmd *cobra.Command, a *app, orgID string) ([]uuid.UUID, error) {
	if orgID != "" {
		id, err := parseID("org", orgID)
		if err != nil {
			return nil, err
		}
		return []uuid.UUID{id}, nil
	}

	orgs, err := a.organizations.ListOrganizations(cmd.Context())
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(orgs))
	for _, o := range orgs {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func syncTerminalsCmd() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "sync-terminals",
		Short: "Import terminal groups from iiko",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := organizationsFor(cmd, a, orgID)
			if err != nil {
				return err
			}

			result := make(map[string][]organization.Terminal, len(ids))
			var errs []error
			for _, id := range ids {
				terminals, err := a.orgService.SyncTerminals(cmd.Context(), id)
				if err != nil {
					errs = append(errs, fmt.Errorf("organization %s: %w", id, err))
					continue
				}
				result[id.String()] = terminals
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "organization id (default: all active organizations)")
	return cmd
}

func syncPaymentTypesCmd() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "sync-payment-types",
		Short: "Import payment types from iiko",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := organizationsFor(cmd, a, orgID)
			if err != nil {
				return err
			}

			result := make(map[string][]organization.PaymentType, len(ids))
			var errs []error
			for _, id := range ids {
				types, err := a.orgService.SyncPaymentTypes(cmd.Context(), id)
				if err != nil {
					errs = append(errs, fmt.Errorf("organization %s: %w", id, err))
					continue
				}
				result[id.String()] = types
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "organization id (default: all active organizations)")
	return cmd
}

func syncDiscountsCmd() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "sync-discounts",
		Short: "Import discounts from iiko",
		Long: `Import discounts from iiko.

Discounts missing from the iiko response are kept but marked inactive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := organizationsFor(cmd, a, orgID)
			if err != nil {
				return err
			}

			result := make(map[string]*organization.DiscountSyncResult, len(ids))
			var errs []error
			for _, id := range ids {
				res, err := a.orgService.SyncDiscounts(cmd.Context(), id)
				if err != nil {
					errs = append(errs, fmt.Errorf("organization %s: %w", id, err))
					continue
				}
				result[id.String()] = res
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "organization id (default: all active organizations)")
	return cmd
}

func syncStopListsCmd() *cobra.Command {
	var orgID, terminalID string

	cmd := &cobra.Command{
		Use:   "sync-stop-lists",
		Short: "Refresh stop-lists from iiko",
		Long: `Refresh stop-lists from iiko.

Without flags runs one scheduled pass: only terminals that are due and inside
working hours are refreshed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case terminalID != "":
				id, err := parseID("terminal", terminalID)
				if err != nil {
					return err
				}
				res, err := a.stopLists.SyncTerminal(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(out, res)
			case orgID != "":
				id, err := parseID("org", orgID)
				if err != nil {
					return err
				}
				res, err := a.stopLists.SyncOrganization(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(out, res)
			default:
				summary, err := a.stopLists.SyncDue(ctx, time.Now())
				if err != nil {
					return err
				}
				return printJSON(out, summary)
			}
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "refresh all terminals of an organization")
	cmd.Flags().StringVar(&terminalID, "terminal", "", "refresh a single terminal")
	cmd.MarkFlagsMutuallyExclusive("org", "terminal")
	return cmd
}
