package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"cutroom/internal/daemon"
	"cutroom/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var diagnostic bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the media server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, ctx, bind, diagnostic)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Override server.bind (host:port)")
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Log at debug level in JSON, including HTTP access lines")
	return cmd
}

func runServer(cmd *cobra.Command, ctx *commandContext, bind string, diagnostic bool) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if b := strings.TrimSpace(bind); b != "" {
		cfg.Server.Bind = b
	}
	if diagnostic {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "json"
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "cutroom.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cutroom listening on http://%s\n", d.Addr())

	<-signalCtx.Done()
	logger.Info("cutroom shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
