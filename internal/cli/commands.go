package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/server"
	"github.com/dmitrijs2005/gophsync/internal/server/catalog"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/spf13/cobra"
)

func (c *cli) syncCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run change detection",
	}

	var userID, provider string
	run := &cobra.Command{
		Use:   "run",
		Short: "Sync one connection now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *server.Engine) error {
				res, err := e.Syncer.Run(ctx, userID, providers.Kind(provider))
				if err != nil {
					return fmt.Errorf("sync %s/%s: %w", userID, provider, err)
				}
				return c.printJSON(res)
			})
		},
	}
	run.Flags().StringVar(&userID, "user", "", "user id")
	run.Flags().StringVar(&provider, "provider", "", "provider kind")
	_ = run.MarkFlagRequired("user")
	_ = run.MarkFlagRequired("provider")

	all := &cobra.Command{
		Use:   "all",
		Short: "Sync every active connection once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *server.Engine) error {
				res, err := e.Scheduler.Tick(ctx)
				if err != nil {
					return err
				}
				return c.printJSON(res)
			})
		},
	}

	syncCmd.AddCommand(run, all)
	return syncCmd
}

func (c *cli) purgeCommand() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Hard-delete records soft-deleted longer than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("retention") {
				cfg, err := loadConfig(c.configPath)
				if err == nil {
					retention = cfg.SoftDeleteRetention
				}
			}
			return c.withEngine(cmd, func(ctx context.Context, e *server.Engine) error {
				res, err := e.Catalog.Purge(ctx, retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.opts.Out, "Purged %d records, %d failed\n", res.Purged, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 30*24*time.Hour, "soft-delete retention")
	return cmd
}

func (c *cli) conflictsCommand() *cobra.Command {
	conflicts := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect sync conflicts",
	}

	var userID, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List conflicts of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *server.Engine) error {
				list, err := e.Catalog.ListConflicts(ctx, userID, models.ConflictStatus(status))
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(c.opts.Out, "No conflicts found.")
					return nil
				}
				w := tabwriter.NewWriter(c.opts.Out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tPROVIDER\tKIND\tGALLERY\tSTATUS\tDETAIL")
				for _, cf := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", cf.ID, cf.Provider, cf.Kind, cf.GalleryID, cf.Status, cf.Detail)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id")
	list.Flags().StringVar(&status, "status", string(models.ConflictOpen), "open, resolved or empty for all")
	_ = list.MarkFlagRequired("user")

	var resolution string
	resolve := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Close a conflict with a resolution note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *server.Engine) error {
				if err := e.Catalog.ResolveConflict(ctx, "", args[0], resolution); err != nil {
					return fmt.Errorf("resolving %s: %w", args[0], err)
				}
				fmt.Fprintf(c.opts.Out, "Resolved %s\n", args[0])
				return nil
			})
		},
	}
	resolve.Flags().StringVar(&resolution, "resolution", "", "resolution note")
	_ = resolve.MarkFlagRequired("resolution")

	conflicts.AddCommand(list, resolve)
	return conflicts
}

func (c *cli) filesCommand() *cobra.Command {
	files := &cobra.Command{
		Use:   "files",
		Short: "Inspect tracked files",
	}

	var userID, galleryID string
	var deleted, hidden bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List files of a gallery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *server.Engine) error {
				list, err := e.Catalog.ListGalleryFiles(ctx, userID, galleryID, catalog.ListOptions{
					IncludeDeleted: deleted,
					IncludeHidden:  hidden,
				})
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(c.opts.Out, "No files found.")
					return nil
				}
				w := tabwriter.NewWriter(c.opts.Out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tSIZE\tVERSION\tDELETED")
				for _, f := range list {
					del := ""
					if f.DeletedAt != nil {
						del = f.DeletedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", f.ID, f.Name, f.Provider, f.Size, f.Version, del)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id")
	list.Flags().StringVar(&galleryID, "gallery", "", "gallery id")
	list.Flags().BoolVar(&deleted, "deleted", false, "include soft-deleted files")
	list.Flags().BoolVar(&hidden, "hidden", false, "include hidden files")
	_ = list.MarkFlagRequired("user")
	_ = list.MarkFlagRequired("gallery")

	files.AddCommand(list)
	return files
}

func (c *cli) limitsCommand() *cobra.Command {
	var endpoint, token string
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show provider budget use of a running engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			r, err := c.opts.Remote(endpoint, token)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", endpoint, err)
			}
			defer r.Close()

			usage, err := r.RateLimitSnapshot(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.opts.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tHOURLY\tDAILY\tBACKOFF UNTIL")
			for _, u := range usage {
				backoff := "-"
				if u.BackoffUntil != nil {
					backoff = u.BackoffUntil.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Provider, ratio(u.HourlyUsed, u.HourlyLimit), ratio(u.DailyUsed, u.DailyLimit), backoff)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "127.0.0.1:50051", "engine gRPC address")
	cmd.Flags().StringVar(&token, "token", "", "access token")
	return cmd
}

func ratio(used, limit int64) string {
	if limit <= 0 {
		return fmt.Sprintf("%d/unlimited", used)
	}
	return fmt.Sprintf("%d/%d", used, limit)
}
