// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = os.Stat(path); err != nil {
		t.Errorf("default config was not written: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q, want info", cfg.Logging.Level)
	}
	if time.Duration(cfg.Ingest.Timeout) != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", time.Duration(cfg.Ingest.Timeout))
	}
}

func TestLoadConfigUpgradesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "chat_db_path: /tmp/chat.db\n" +
		"logging:\n    level: debug\n" +
		"ingest:\n    timeout: 45s\n" +
		"handles:\n    iMessage: mailto:me@example.com\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChatDBPath != "/tmp/chat.db" || cfg.Logging.Level != "debug" {
		t.Errorf("config = %+v", cfg)
	}
	if time.Duration(cfg.Ingest.Timeout) != 45*time.Second {
		t.Errorf("timeout = %v, want 45s", time.Duration(cfg.Ingest.Timeout))
	}
	registry := cfg.HandleRegistry()
	if handle := registry.SuitableHandle(ServiceiMessage); handle != "mailto:me@example.com" {
		t.Errorf("handle = %q", handle)
	}
}
