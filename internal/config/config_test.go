package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg.CloneMode != "direct" {
		t.Errorf("CloneMode = %q, want %q", cfg.CloneMode, "direct")
	}
	if !cfg.UseReplicationSlots {
		t.Error("UseReplicationSlots should default true")
	}
	if cfg.PromoteCheckInterval != 2 {
		t.Errorf("PromoteCheckInterval = %d, want 2", cfg.PromoteCheckInterval)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repmgr.conf")
	contents := `
# comment line
node_id=4
node_name='node4'
conninfo='host=node4 user=repmgr dbname=repmgr connect_timeout=2'
data_directory='/var/lib/postgresql/data'
replication_user=repmgr
use_replication_slots=1
priority=50
shutdown_check_timeout=90
replication_lag_critical=10
unknown_key_from_the_future=ignored
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) returned error: %v", path, err)
	}
	if cfg.NodeID != 4 {
		t.Errorf("NodeID = %d, want 4", cfg.NodeID)
	}
	if cfg.NodeName != "node4" {
		t.Errorf("NodeName = %q, want %q", cfg.NodeName, "node4")
	}
	if cfg.ConnInfo != "host=node4 user=repmgr dbname=repmgr connect_timeout=2" {
		t.Errorf("ConnInfo = %q", cfg.ConnInfo)
	}
	if cfg.Priority != 50 {
		t.Errorf("Priority = %d, want 50", cfg.Priority)
	}
	if cfg.ShutdownCheckTimeout != 90 {
		t.Errorf("ShutdownCheckTimeout = %d, want 90", cfg.ShutdownCheckTimeout)
	}
	if cfg.ReplicationLagCritical != 10 {
		t.Errorf("ReplicationLagCritical = %d, want 10", cfg.ReplicationLagCritical)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/repmgr.conf")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repmgr.conf")
	if err := os.WriteFile(path, []byte("this is not key value\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for malformed line")
	}
}
