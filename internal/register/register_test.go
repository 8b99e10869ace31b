package register

import (
	"context"
	"testing"

	"github.com/repmgr-go/repmgr/internal/dbconn"
)

type fakeRow struct {
	dest []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *int:
			*d = r.dest[i].(int)
		}
	}
	return nil
}

type fakeConn struct {
	version int
}

func (f fakeConn) QueryRow(ctx context.Context, sql string, args ...any) dbconn.Row {
	return fakeRow{dest: []any{f.version}}
}
func (f fakeConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) { return 0, nil }
func (f fakeConn) Close(ctx context.Context) error                                 { return nil }
func (f fakeConn) ConnInfo() string                                                { return "" }

func TestVerifyVersionsMatchAcceptsPatchDrift(t *testing.T) {
	err := verifyVersionsMatch(context.Background(), fakeConn{version: 140003}, fakeConn{version: 140008})
	if err != nil {
		t.Errorf("patch-level drift should be accepted: %v", err)
	}
}

func TestVerifyVersionsMatchRejectsMajorMismatch(t *testing.T) {
	err := verifyVersionsMatch(context.Background(), fakeConn{version: 130005}, fakeConn{version: 160001})
	if err == nil {
		t.Fatal("expected an error for a major version mismatch")
	}
}

func TestVerifyVersionsMatchSkippedWhenNilConn(t *testing.T) {
	if err := verifyVersionsMatch(context.Background(), nil, nil); err != nil {
		t.Errorf("nil connections should skip the check: %v", err)
	}
}
