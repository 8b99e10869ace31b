package recoveryconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/repmgr-go/repmgr/internal/dbconn"
)

func TestRenderPre12UsesRecoveryConf(t *testing.T) {
	feat := dbconn.For(110005)
	plan, err := Render("/data/standby1", feat, Params{
		NodeName:         "standby1",
		UpstreamConnInfo: "host=primary1 port=5432 user=repmgr dbname=repmgr replication=1",
		SlotName:         "repmgr_slot_2",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasSuffix(plan.Path, "recovery.conf") {
		t.Errorf("Path = %q, want recovery.conf", plan.Path)
	}
	if plan.SignalFile != "" {
		t.Errorf("SignalFile = %q, want empty for pre-12", plan.SignalFile)
	}
	if plan.Mode != 0600 {
		t.Errorf("Mode = %v, want 0600", plan.Mode)
	}
	if !strings.Contains(plan.Contents, "standby_mode = 'on'") {
		t.Errorf("contents missing standby_mode: %s", plan.Contents)
	}
	if !strings.Contains(plan.Contents, "primary_slot_name = 'repmgr_slot_2'") {
		t.Errorf("contents missing primary_slot_name: %s", plan.Contents)
	}
	if strings.Contains(plan.Contents, "dbname") {
		t.Errorf("dbname should be stripped from primary_conninfo: %s", plan.Contents)
	}
	if strings.Contains(plan.Contents, "replication") {
		t.Errorf("replication should be stripped from primary_conninfo: %s", plan.Contents)
	}
	if !strings.Contains(plan.Contents, "application_name=standby1") {
		t.Errorf("application_name not forced to node name: %s", plan.Contents)
	}
}

func TestRenderPost12UsesAutoConfAndSignal(t *testing.T) {
	feat := dbconn.For(140005)
	plan, err := Render("/data/standby1", feat, Params{
		NodeName:         "standby1",
		UpstreamConnInfo: "host=primary1 port=5432 user=repmgr",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasSuffix(plan.Path, "postgresql.auto.conf") {
		t.Errorf("Path = %q, want postgresql.auto.conf", plan.Path)
	}
	if !strings.HasSuffix(plan.SignalFile, "standby.signal") {
		t.Errorf("SignalFile = %q, want standby.signal", plan.SignalFile)
	}
	if strings.Contains(plan.Contents, "standby_mode") {
		t.Errorf("standby_mode should not appear for >= 12: %s", plan.Contents)
	}
}

func TestRenderOmitsPasswordByDefault(t *testing.T) {
	feat := dbconn.For(140005)
	plan, err := Render("/data/s1", feat, Params{
		NodeName:         "s1",
		UpstreamConnInfo: "host=p1 user=repmgr password=secret",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(plan.Contents, "secret") {
		t.Errorf("password leaked into recovery config: %s", plan.Contents)
	}
}

func TestRenderIncludesPasswordWhenRequested(t *testing.T) {
	feat := dbconn.For(140005)
	plan, err := Render("/data/s1", feat, Params{
		NodeName:         "s1",
		UpstreamConnInfo: "host=p1 user=repmgr password=secret",
		IncludePassword:  true,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(plan.Contents, "secret") {
		t.Errorf("password not included despite IncludePassword: %s", plan.Contents)
	}
}

func TestRenderRequiresNodeName(t *testing.T) {
	feat := dbconn.For(140005)
	_, err := Render("/data/s1", feat, Params{UpstreamConnInfo: "host=p1"})
	if err == nil {
		t.Fatal("expected an error when NodeName is empty")
	}
}

func TestRenderMinApplyDelay(t *testing.T) {
	feat := dbconn.For(140005)
	plan, err := Render("/data/s1", feat, Params{
		NodeName:             "s1",
		UpstreamConnInfo:     "host=p1",
		MinApplyDelaySeconds: 300,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(plan.Contents, "recovery_min_apply_delay = '300s'") {
		t.Errorf("missing recovery_min_apply_delay: %s", plan.Contents)
	}
}

func TestWritePost12AppendsAutoConfInsteadOfTruncating(t *testing.T) {
	dir := t.TempDir()
	autoConf := filepath.Join(dir, "postgresql.auto.conf")
	existing := "# Do not edit this file manually!\nshared_buffers = '256MB'\n"
	if err := os.WriteFile(autoConf, []byte(existing), 0600); err != nil {
		t.Fatalf("seed postgresql.auto.conf: %v", err)
	}

	feat := dbconn.For(140005)
	plan, err := Render(dir, feat, Params{NodeName: "s1", UpstreamConnInfo: "host=p1"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if err := Write(plan, true); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := os.ReadFile(autoConf)
	if err != nil {
		t.Fatalf("read postgresql.auto.conf: %v", err)
	}
	if !strings.HasPrefix(string(got), existing) {
		t.Errorf("postgresql.auto.conf was truncated, pre-existing settings lost: %s", got)
	}
	if !strings.Contains(string(got), "primary_conninfo") {
		t.Errorf("postgresql.auto.conf missing merged standby params: %s", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "standby.signal")); err != nil {
		t.Errorf("standby.signal not written: %v", err)
	}
}
