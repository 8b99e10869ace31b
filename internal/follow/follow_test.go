package follow

import "testing"

func TestApplyCommandPrefersReloadWhenRequested(t *testing.T) {
	got := applyCommand(Options{Reload: true, ReloadCommand: "pg_ctl reload", RestartCommand: "pg_ctl restart"})
	if got != "pg_ctl reload" {
		t.Errorf("got %q, want reload command", got)
	}
}

func TestApplyCommandFallsBackToRestartWhenNoReloadCommand(t *testing.T) {
	got := applyCommand(Options{Reload: true, RestartCommand: "pg_ctl restart"})
	if got != "pg_ctl restart" {
		t.Errorf("got %q, want restart command", got)
	}
}

func TestApplyCommandDefaultsToRestart(t *testing.T) {
	got := applyCommand(Options{RestartCommand: "pg_ctl restart", ReloadCommand: "pg_ctl reload"})
	if got != "pg_ctl restart" {
		t.Errorf("got %q, want restart command when Reload is false", got)
	}
}
