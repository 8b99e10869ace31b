package switchover

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSSHHostFromConnInfoExtractsHost(t *testing.T) {
	got := sshHostFromConnInfo("host=node2.internal port=5432 dbname=repmgr user=repmgr")
	if got != "node2.internal" {
		t.Errorf("got %q, want node2.internal", got)
	}
}

func TestSSHHostFromConnInfoMissingHost(t *testing.T) {
	got := sshHostFromConnInfo("port=5432 dbname=repmgr")
	if got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestRemoteBinaryDefaultsToRepmgr(t *testing.T) {
	r := &run{}
	if got := r.remoteBinary(); got != "repmgr" {
		t.Errorf("got %q, want repmgr", got)
	}
}

func TestRemoteBinaryUsesConfiguredPath(t *testing.T) {
	r := &run{opts: Options{RemoteBinary: "/opt/repmgr/bin/repmgr"}}
	if got := r.remoteBinary(); got != "/opt/repmgr/bin/repmgr" {
		t.Errorf("got %q, want configured path", got)
	}
}

func TestDaemonForReturnsZeroClientWithoutAddrMap(t *testing.T) {
	r := &run{}
	c := r.daemonFor(4)
	if c.Addr != "" {
		t.Errorf("expected empty Addr for a run with no DaemonAddrs, got %q", c.Addr)
	}
}

func TestDaemonForResolvesConfiguredAddr(t *testing.T) {
	r := &run{opts: Options{DaemonAddrs: map[int]string{4: "ws://node4:9876"}}}
	c := r.daemonFor(4)
	if c.Addr != "ws://node4:9876" {
		t.Errorf("got %q, want ws://node4:9876", c.Addr)
	}
}

func TestDaemonForUnknownNodeIsEmpty(t *testing.T) {
	r := &run{opts: Options{DaemonAddrs: map[int]string{4: "ws://node4:9876"}}}
	c := r.daemonFor(5)
	if c.Addr != "" {
		t.Errorf("expected empty Addr for an unconfigured node, got %q", c.Addr)
	}
}

func TestEscapeSingleQuotes(t *testing.T) {
	got := escapeSingleQuotes("host=n1 application_name=it's-a-node")
	want := `host=n1 application_name=it\'s-a-node`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWarnAccumulatesWarnings(t *testing.T) {
	r := &run{log: zerolog.Nop()}
	r.warn("first")
	r.warn("second")
	if len(r.warnings) != 2 || r.warnings[0] != "first" || r.warnings[1] != "second" {
		t.Errorf("warnings = %v, want [first second]", r.warnings)
	}
}
