package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cutroom/internal/timeline"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Work with saved session projects",
	}
	cmd.AddCommand(newProjectExportCommand(ctx))
	return cmd
}

func newProjectExportCommand(ctx *commandContext) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session's saved project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (use json or yaml)", format)
			}
			return ctx.withStore(func(s *store) error {
				project, err := timeline.NewStore(s.layout).Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create output: %w", err)
					}
					defer f.Close()
					w = f
				}
				return exportProject(w, project, format)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

// exportProject writes project in the requested format. YAML goes through
// the JSON form so keys match the editor's field names.
func exportProject(w io.Writer, project timeline.Project, format string) error {
	data, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(json.RawMessage(data))
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode project: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(doc)
}
