package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cutroom/internal/config"
	"cutroom/internal/deps"
	"cutroom/internal/preflight"
)

type statusReport struct {
	ConfigPath   string             `json:"configPath"`
	ConfigFound  bool               `json:"configFound"`
	Server       serverProbe        `json:"server"`
	Dependencies []deps.Status      `json:"dependencies"`
	Preflight    []preflight.Result `json:"preflight"`
	Features     []preflight.Result `json:"features"`
}

type serverProbe struct {
	URL     string `json:"url"`
	Running bool   `json:"running"`
	Detail  string `json:"detail,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report server, dependency and feature status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := collectStatus(cmd.Context(), ctx, cfg)
			if jsonOut {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Join(renderStatus(report, shouldColorize(out)), "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func collectStatus(ctx context.Context, cc *commandContext, cfg *config.Config) statusReport {
	return statusReport{
		ConfigPath:   cc.configPath,
		ConfigFound:  cc.configSeen,
		Server:       probeServer(ctx, cfg.Server.Bind),
		Dependencies: preflight.CheckSystemDeps(ctx, cfg),
		Preflight:    preflight.RunAll(ctx, cfg),
		Features:     preflight.Features(cfg),
	}
}

// probeServer checks /health on the configured bind address. Wildcard hosts
// are probed on loopback.
func probeServer(ctx context.Context, bind string) serverProbe {
	host, port, err := net.SplitHostPort(strings.TrimSpace(bind))
	if err != nil {
		return serverProbe{Detail: fmt.Sprintf("invalid bind %q", bind)}
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	base := "http://" + net.JoinHostPort(host, port)
	probe := serverProbe{URL: base}

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+"/health", nil)
	if err != nil {
		probe.Detail = err.Error()
		return probe
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		probe.Detail = "not reachable"
		return probe
	}
	defer resp.Body.Close()
	probe.Running = resp.StatusCode == http.StatusOK
	if !probe.Running {
		probe.Detail = fmt.Sprintf("health returned %d", resp.StatusCode)
	}
	return probe
}

func renderStatus(report statusReport, colorize bool) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("Server", colorize)...)
	configDetail := report.ConfigPath
	if !report.ConfigFound {
		configDetail += " (not found, defaults in use)"
	}
	lines = append(lines, renderStatusLine("Config", statusInfo, configDetail, colorize))
	if report.Server.Running {
		lines = append(lines, renderStatusLine("Server", statusOK, "running at "+report.Server.URL, colorize))
	} else {
		lines = append(lines, renderStatusLine("Server", statusInfo, strings.TrimSpace("stopped "+report.Server.Detail), colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	for _, dep := range report.Dependencies {
		kind, detail := statusOK, dep.Path
		if dep.Version != "" {
			detail = dep.Version + " (" + dep.Path + ")"
		}
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			detail = firstNonEmpty(dep.Detail, "not found") + "; " + dep.Description
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Preflight", colorize)...)
	for _, r := range report.Preflight {
		kind := statusOK
		if !r.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Features", colorize)...)
	for _, r := range report.Features {
		kind := statusOK
		if !r.Passed {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}
	return lines
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
