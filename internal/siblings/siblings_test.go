package siblings

import (
	"context"
	"testing"

	"github.com/repmgr-go/repmgr/internal/catalog"
)

func TestStandbyFollowCommand(t *testing.T) {
	r := Reconfigurer{}
	got := r.standbyFollowCommand(catalog.NodeRecord{NodeID: 3})
	want := "repmgr standby follow --upstream-node-id=3"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStandbyFollowCommandUsesConfiguredBinary(t *testing.T) {
	r := Reconfigurer{Binary: "/opt/repmgr/bin/repmgr"}
	got := r.standbyFollowCommand(catalog.NodeRecord{NodeID: 5})
	want := "/opt/repmgr/bin/repmgr standby follow --upstream-node-id=5"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWitnessRegisterCommandRendersConnInfo(t *testing.T) {
	r := Reconfigurer{}
	got := r.witnessRegisterCommand(catalog.NodeRecord{ConnInfo: "host=n2 port=5432 dbname=repmgr"})
	want := "repmgr witness register -d 'host=n2 port=5432 dbname=repmgr' --force"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEscapeSingleQuotes(t *testing.T) {
	got := escapeSingleQuotes("host=n1 password=it's-a-secret")
	want := `host=n1 password=it\'s-a-secret`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReportFailedFiltersSuccesses(t *testing.T) {
	r := Report{Outcomes: []Outcome{
		{NodeID: 1, Success: true},
		{NodeID: 2, Success: false, Detail: "unreachable"},
		{NodeID: 3, Success: true},
	}}
	failed := r.Failed()
	if len(failed) != 1 || failed[0].NodeID != 2 {
		t.Errorf("Failed() = %+v, want exactly node 2", failed)
	}
}

func TestReconfigureSkipsSiblingWithNoKnownHost(t *testing.T) {
	r := Reconfigurer{}
	report := r.Reconfigure(context.Background(), catalog.NodeRecord{NodeID: 1},
		[]catalog.NodeRecord{{NodeID: 2, NodeName: "node2"}}, nil, map[int]string{})
	if len(report.Outcomes) != 1 || report.Outcomes[0].Success {
		t.Fatalf("expected a single failed outcome, got %+v", report.Outcomes)
	}
	if report.Outcomes[0].Detail == "" {
		t.Error("expected a non-empty detail explaining the missing host")
	}
}
