package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/httpapi"
	"github.com/acksell/slotdb/pagination"
	"github.com/acksell/slotdb/physical"
	"github.com/acksell/slotdb/transport"
	"github.com/acksell/slotdb/updateexpr"
)

func parseFilter(s string) (filterexpr.Filter, error) {
	if s == "" {
		return nil, nil
	}
	m, err := httpapi.ParseObject([]byte(s))
	if err != nil {
		return nil, err
	}
	return filterexpr.Parse(m)
}

// withTransporter runs fn against the configured store and closes it.
func withTransporter(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, e *env, t *transport.Transporter) error) error {
	e, err := loadEnv(g, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	t, err := e.transporter(ctx, nil)
	if err != nil {
		return err
	}
	defer t.Close()
	return fn(ctx, e, t)
}

func newExplainCmd(g *globalFlags) *cobra.Command {
	var relations []string
	cmd := &cobra.Command{
		Use:   "explain <entity> <filter-json>",
		Short: "Show how a filter compiles",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cat, err := e.catalog(args[0])
			if err != nil {
				return err
			}
			f, err := parseFilter(args[1])
			if err != nil {
				return err
			}
			// Explaining never touches the store.
			t := transport.New(nil, transport.WithLogger(e.log), transport.WithPolicy(e.cfg.FilterPolicy()))
			out, err := t.Explain(cmd.Context(), cat, f, relations...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVar(&relations, "relations", nil, "relations to fan out to")
	return cmd
}

func newPutCmd(g *globalFlags) *cobra.Command {
	var (
		replace   bool
		condition string
	)
	cmd := &cobra.Command{
		Use:   "put <entity> <item-json>",
		Short: "Store an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTransporter(cmd, g, func(ctx context.Context, e *env, t *transport.Transporter) error {
				cat, err := e.catalog(args[0])
				if err != nil {
					return err
				}
				item, err := httpapi.ParseObject([]byte(args[1]))
				if err != nil {
					return err
				}
				cond, err := parseFilter(condition)
				if err != nil {
					return err
				}
				res, err := t.CreateOne(ctx, transport.CreateOneInput{
					Item:      physical.Document(item),
					Catalog:   cat,
					Replace:   replace,
					Condition: cond,
				})
				if err != nil {
					return err
				}
				if res.Error != "" {
					return errors.New(res.Error)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "replace the item if it exists")
	cmd.Flags().StringVar(&condition, "if", "", "filter the existing item must match to be replaced")
	return cmd
}

func newGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity> <id>",
		Short: "Read an item by identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTransporter(cmd, g, func(ctx context.Context, e *env, t *transport.Transporter) error {
				cat, err := e.catalog(args[0])
				if err != nil {
					return err
				}
				rec, err := t.FindByID(ctx, cat, args[1])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("%s %q: %w", cat.Entity(), args[1], transport.ErrNotFound)
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func newFindCmd(g *globalFlags) *cobra.Command {
	var (
		relations []string
		fields    []string
		direction string
		limit     int
		first     int
		after     string
	)
	cmd := &cobra.Command{
		Use:   "find <entity> [filter-json]",
		Short: "List items matching a filter",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTransporter(cmd, g, func(ctx context.Context, e *env, t *transport.Transporter) error {
				cat, err := e.catalog(args[0])
				if err != nil {
					return err
				}
				var f filterexpr.Filter
				if len(args) == 2 {
					if f, err = parseFilter(args[1]); err != nil {
						return err
					}
				}
				dir, err := pagination.ParseDirection(direction)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("first") {
					conn, err := t.Paginate(ctx, transport.PaginateInput{
						Filter:     f,
						Catalog:    cat,
						Direction:  dir,
						First:      first,
						After:      after,
						Projection: fields,
					})
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), conn)
				}
				recs, err := t.FindMany(ctx, transport.FindInput{
					Filter:     f,
					Catalog:    cat,
					Relations:  relations,
					Direction:  dir,
					Limit:      limit,
					Projection: fields,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), recs)
			})
		},
	}
	cmd.Flags().StringSliceVar(&relations, "relations", nil, "relations to fan out to")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to return (default all)")
	cmd.Flags().StringVar(&direction, "direction", "asc", "sort direction (asc, desc)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of items (0 for all)")
	cmd.Flags().IntVar(&first, "first", 0, "page size; prints a page instead of a list")
	cmd.Flags().StringVar(&after, "after", "", "end cursor of the previous page")
	return cmd
}

func newUpdateCmd(g *globalFlags) *cobra.Command {
	var (
		upsert    bool
		condition string
	)
	cmd := &cobra.Command{
		Use:     "update <entity> <filter-json> <update-json>",
		Short:   "Update the first item matching a filter",
		Example: `  slotdb update Account '{"username": "antonio"}' '{"$inc": {"logins": 1}}'`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTransporter(cmd, g, func(ctx context.Context, e *env, t *transport.Transporter) error {
				cat, err := e.catalog(args[0])
				if err != nil {
					return err
				}
				f, err := parseFilter(args[1])
				if err != nil {
					return err
				}
				um, err := httpapi.ParseObject([]byte(args[2]))
				if err != nil {
					return err
				}
				u, err := updateexpr.Parse(um)
				if err != nil {
					return err
				}
				cond, err := parseFilter(condition)
				if err != nil {
					return err
				}
				res, err := t.UpdateOne(ctx, transport.UpdateOneInput{
					Filter:    f,
					Catalog:   cat,
					Update:    u,
					Condition: cond,
					Upsert:    upsert,
				})
				if err != nil {
					return err
				}
				if res.Error != "" {
					return errors.New(res.Error)
				}
				if !res.Updated && !res.Created {
					return fmt.Errorf("no %s matched: %w", cat.Entity(), transport.ErrNotFound)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&upsert, "upsert", false, "create the item when nothing matches")
	cmd.Flags().StringVar(&condition, "if", "", "filter on raw fields the item must also match")
	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	var condition string
	cmd := &cobra.Command{
		Use:   "delete <entity> <filter-json>",
		Short: "Delete the first item matching a filter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTransporter(cmd, g, func(ctx context.Context, e *env, t *transport.Transporter) error {
				cat, err := e.catalog(args[0])
				if err != nil {
					return err
				}
				f, err := parseFilter(args[1])
				if err != nil {
					return err
				}
				cond, err := parseFilter(condition)
				if err != nil {
					return err
				}
				rec, err := t.DeleteOne(ctx, transport.DeleteOneInput{Filter: f, Catalog: cat, Condition: cond})
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("no %s matched: %w", cat.Entity(), transport.ErrNotFound)
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	cmd.Flags().StringVar(&condition, "if", "", "filter on raw fields the item must also match")
	return cmd
}
