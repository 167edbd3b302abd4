// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the on-disk configuration.
type Config struct {
	// ChatDBPath is the location of the Messages chat.db.
	ChatDBPath string `yaml:"chat_db_path"`

	Logging LoggingConfig `yaml:"logging"`
	Ingest  IngestConfig  `yaml:"ingest"`

	// Handles maps each service to the local account handle used as the
	// sender of outgoing messages on that service.
	Handles map[string]string `yaml:"handles"`
}

type LoggingConfig struct {
	// Level is a zerolog level name (trace, debug, info, warn, error).
	Level string `yaml:"level"`
}

type IngestConfig struct {
	// Timeout bounds a single ingestion batch. Zero disables the deadline.
	Timeout Duration `yaml:"timeout"`
}

// Duration parses Go duration strings ("30s", "2m") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// HandleRegistry builds the handle registry the config describes.
func (c *Config) HandleRegistry() HandleRegistry {
	registry := make(StaticHandleRegistry, len(c.Handles))
	for service, handle := range c.Handles {
		registry[ServiceStyle(service)] = handle
	}
	return registry
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "chat_db_path")
	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Str, "ingest", "timeout")
	helper.Copy(up.Map, "handles")
}

// ConfigUpgrader migrates existing config files to the current layout.
var ConfigUpgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Base:           ExampleConfig,
}

// LoadConfig reads, upgrades and parses the config file at path. The
// upgraded file is written back so new keys appear with their defaults.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}
	data, _, err := up.Do(path, true, ConfigUpgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
