package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSilence(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"ffmpeg.timeout_seconds":           c.FFmpeg.TimeoutSeconds,
		"ffmpeg.thumbnail_width":           c.FFmpeg.ThumbnailWidth,
		"transcription.timeout_seconds":    c.Transcription.TimeoutSeconds,
		"llm.timeout_seconds":              c.LLM.TimeoutSeconds,
		"generation.poll_interval_seconds": c.Generation.PollIntervalSeconds,
		"generation.timeout_seconds":       c.Generation.TimeoutSeconds,
		"animation.timeout_seconds":        c.Animation.TimeoutSeconds,
		"faces.timeout_seconds":            c.Faces.TimeoutSeconds,
		"sessions.sweep_interval_minutes":  c.Sessions.SweepIntervalMinutes,
		"jobs.ttl_minutes":                 c.Jobs.TTLMinutes,
	}); err != nil {
		return err
	}
	if c.Generation.PollIntervalSeconds >= c.Generation.TimeoutSeconds {
		return errors.New("generation.poll_interval_seconds must be less than generation.timeout_seconds")
	}
	return nil
}

func (c *Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind %q must be host:port: %w", c.Server.Bind, err)
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("server.allowed_origins entry %q must be an absolute origin or *", origin)
		}
	}
	return nil
}

func (c *Config) validateSilence() error {
	if c.Silence.ThresholdDB >= 0 {
		return errors.New("silence.threshold_db must be negative (dBFS)")
	}
	if c.Silence.MinDuration <= 0 {
		return errors.New("silence.min_duration must be positive (seconds)")
	}
	if c.Silence.Workers > 16 {
		return errors.New("silence.workers must be 16 or fewer")
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	for key, value := range map[string]string{
		"transcription.remote_base_url": c.Transcription.RemoteBaseURL,
		"llm.base_url":                  c.LLM.BaseURL,
		"generation.base_url":           c.Generation.BaseURL,
	} {
		parsed, err := url.Parse(value)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("%s must be an http(s) URL, got %q", key, value)
		}
	}
	if strings.TrimSpace(c.Animation.CompositionID) == "" {
		return errors.New("animation.composition_id must be set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
