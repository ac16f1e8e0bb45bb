package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"cutroom/internal/assets"
	"cutroom/internal/catalog"
	"cutroom/internal/config"
	"cutroom/internal/logging"
	"cutroom/internal/storage"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

// store bundles the on-disk handles maintenance commands share.
type store struct {
	catalog *catalog.Store
	layout  *storage.Layout
	assets  *assets.Service
}

func (s *store) Close() error {
	return s.catalog.Close()
}

// openStore opens the catalog and session layout without starting any
// service that spawns processes.
func (c *commandContext) openStore() (*store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	layout := storage.New(cfg.SessionsDir(), cat, logging.NewNop())
	return &store{
		catalog: cat,
		layout:  layout,
		assets:  assets.New(assets.Options{Layout: layout, Logger: logging.NewNop()}),
	}, nil
}

func (c *commandContext) withStore(fn func(*store) error) error {
	s, err := c.openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
