package promote

import (
	"testing"

	"github.com/repmgr-go/repmgr/internal/dbconn"
)

func TestChooseMechanismPrefersOperatorCommand(t *testing.T) {
	feat := dbconn.For(160001)
	got := chooseMechanism(feat, Options{OperatorCommand: "/usr/local/bin/promote.sh", ServiceControlCommand: "pg_ctl promote"})
	if got != MechanismOperatorCommand {
		t.Errorf("got %v, want MechanismOperatorCommand", got)
	}
}

func TestChooseMechanismPrefersInSQLOverServiceControl(t *testing.T) {
	feat := dbconn.For(160001)
	got := chooseMechanism(feat, Options{ServiceControlCommand: "pg_ctl promote"})
	if got != MechanismInSQLPromote {
		t.Errorf("got %v, want MechanismInSQLPromote", got)
	}
}

func TestChooseMechanismFallsBackToServiceControlPre12(t *testing.T) {
	feat := dbconn.For(110005)
	got := chooseMechanism(feat, Options{ServiceControlCommand: "pg_ctl promote"})
	if got != MechanismServiceControl {
		t.Errorf("got %v, want MechanismServiceControl", got)
	}
}

func TestChooseMechanismNoneAvailable(t *testing.T) {
	feat := dbconn.For(110005)
	got := chooseMechanism(feat, Options{})
	if got != MechanismNone {
		t.Errorf("got %v, want MechanismNone", got)
	}
}
