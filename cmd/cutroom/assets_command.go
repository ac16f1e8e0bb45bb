package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect session media",
	}
	cmd.AddCommand(newAssetsListCommand(ctx))
	return cmd
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List the assets of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(s *store) error {
				list, err := s.assets.List(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No assets")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, a := range list {
					duration := "-"
					if d := a.Duration(); d > 0 {
						duration = (time.Duration(d * float64(time.Second))).Round(100 * time.Millisecond).String()
					}
					rows = append(rows, []string{
						a.ID,
						a.OriginalName,
						string(a.Kind),
						duration,
						humanize.Bytes(uint64(max(a.SizeBytes, 0))),
						strconv.Itoa(a.EditCount),
						yesNo(a.AIGenerated),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Asset", "Name", "Kind", "Duration", "Size", "Edits", "AI"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
