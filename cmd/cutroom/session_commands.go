package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cutroom/internal/daemon"
	"cutroom/internal/logging"
)

type sessionRow struct {
	ID           string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Assets       int       `json:"assets"`
	Renders      int       `json:"renders"`
	SizeBytes    int64     `json:"sizeBytes"`
	OnDisk       bool      `json:"onDisk"`
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and clean up editing sessions",
	}
	cmd.AddCommand(newSessionsListCommand(ctx))
	cmd.AddCommand(newSessionsDeleteCommand(ctx))
	cmd.AddCommand(newSessionsSweepCommand(ctx))
	return cmd
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions known to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(s *store) error {
				sessions, err := s.catalog.List(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([]sessionRow, 0, len(sessions))
				for _, sess := range sessions {
					row := sessionRow{
						ID:           sess.ID,
						CreatedAt:    sess.CreatedAt,
						LastActiveAt: sess.LastActiveAt,
						Renders:      sess.Renders,
					}
					if root, err := s.layout.SessionPath(sess.ID); err == nil {
						row.OnDisk = true
						row.SizeBytes = dirSize(root)
						if list, err := s.assets.List(cmd.Context(), sess.ID); err == nil {
							row.Assets = len(list)
						}
					}
					rows = append(rows, row)
				}

				if jsonOut {
					return writeJSON(cmd, rows)
				}
				out := cmd.OutOrStdout()
				if len(rows) == 0 {
					fmt.Fprintln(out, "No sessions")
					return nil
				}
				table := make([][]string, 0, len(rows))
				for _, row := range rows {
					size := humanize.Bytes(uint64(max(row.SizeBytes, 0)))
					if !row.OnDisk {
						size = "missing"
					}
					table = append(table, []string{
						row.ID,
						row.CreatedAt.Local().Format("2006-01-02 15:04"),
						humanize.Time(row.LastActiveAt),
						strconv.Itoa(row.Assets),
						strconv.Itoa(row.Renders),
						size,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Session", "Created", "Last Active", "Assets", "Renders", "Size"},
					table,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newSessionsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>...",
		Short: "Delete sessions and all their media",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(s *store) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					if err := s.layout.DeleteSession(cmd.Context(), id); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					fmt.Fprintf(out, "Deleted session %s\n", id)
				}
				return nil
			})
		},
	}
}

func newSessionsSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions idle longer than sessions.ttl_hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, logging.NewNop())
			if err != nil {
				return err
			}
			defer d.Close()
			removed, err := d.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired session(s)\n", removed)
			return err
		},
	}
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
