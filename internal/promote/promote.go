// Package promote implements the Promotion Subsystem (spec §4.8):
// verifying a standby is safe to promote, issuing the promotion through
// whichever mechanism is available, and polling until the node reports
// primary status.
package promote

import (
	"context"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// Mechanism is the order of preference spec §4.8 step 1 lays out.
type Mechanism int

const (
	MechanismNone Mechanism = iota
	MechanismOperatorCommand
	MechanismInSQLPromote
	MechanismServiceControl
)

// Options configures a promotion run.
type Options struct {
	NodeID                int
	SiblingsFollow        bool
	OperatorCommand       string // e.g. a custom promote_command from config
	ServiceControlCommand string // e.g. "pg_ctl promote -D <datadir>"
	CheckInterval         time.Duration
	CheckTimeout          time.Duration
	RequiredWALSenders    int // siblings expected to follow, if SiblingsFollow
}

// Promoter drives the promotion state through a local DbConn and the
// catalog Gateway.
type Promoter struct {
	Gateway *catalog.Gateway
	Logger  zerolog.Logger
}

// Preconditions is the result of collecting every precondition spec
// §4.8 lists, gathered without exiting early so a dry run can report
// the full set (the ledger's Open Question 1 resolution).
type Preconditions struct {
	IsStandby            bool
	ReplayPausedUnsafely bool
	OtherPrimaryExists   bool
	SufficientWALSenders bool
	Failures             []string
}

// OK reports whether every precondition passed.
func (p Preconditions) OK() bool { return len(p.Failures) == 0 }

// CheckPreconditions gathers spec §4.8's promotion preconditions.
func CheckPreconditions(ctx context.Context, conn dbconn.DbConn, feat dbconn.Features, opts Options, otherMembersUp []dbconn.DbConn) (Preconditions, error) {
	var p Preconditions

	role, err := catalog.GetRecoveryType(ctx, conn)
	if err != nil {
		return p, err
	}
	p.IsStandby = role == catalog.RecoveryStandby
	if !p.IsStandby {
		p.Failures = append(p.Failures, "local node is not currently a standby")
	}

	if feat.ReplayPauseAffectsShutdown {
		var paused bool
		if err := conn.QueryRow(ctx, `SELECT pg_is_wal_replay_paused()`).Scan(&paused); err == nil && paused {
			info, err := catalog.GetReplicationInfo(ctx, conn, catalog.RecoveryStandby)
			if err == nil && info.LastWALReceiveLSN != info.LastWALReplayLSN {
				p.ReplayPausedUnsafely = true
				p.Failures = append(p.Failures, "WAL replay is paused with outstanding WAL to apply")
			}
		}
	}

	p.OtherPrimaryExists = false
	for _, member := range otherMembersUp {
		if member == nil {
			continue
		}
		role, err := catalog.GetRecoveryType(ctx, member)
		if err == nil && role == catalog.RecoveryPrimary {
			p.OtherPrimaryExists = true
			break
		}
	}
	if p.OtherPrimaryExists {
		p.Failures = append(p.Failures, "another active primary already exists in the cluster")
	}

	p.SufficientWALSenders = true
	if opts.SiblingsFollow {
		var maxSenders, activeSenders int
		if err := conn.QueryRow(ctx, `SHOW max_wal_senders`).Scan(&maxSenders); err == nil {
			_ = conn.QueryRow(ctx, `SELECT count(*) FROM pg_stat_replication`).Scan(&activeSenders)
			if maxSenders-activeSenders < opts.RequiredWALSenders {
				p.SufficientWALSenders = false
				p.Failures = append(p.Failures, "insufficient free wal_senders for sibling standbys to follow")
			}
		}
	}

	return p, nil
}

func chooseMechanism(feat dbconn.Features, opts Options) Mechanism {
	if opts.OperatorCommand != "" {
		return MechanismOperatorCommand
	}
	if feat.HasInSQLPromote {
		return MechanismInSQLPromote
	}
	if opts.ServiceControlCommand != "" {
		return MechanismServiceControl
	}
	return MechanismNone
}

// Promote runs the algorithm in spec §4.8 steps 1-4. Sibling
// reconfiguration (step 5) is the caller's responsibility: on success
// this returns control so the caller can invoke internal/siblings if
// opts.SiblingsFollow was requested.
func (p Promoter) Promote(ctx context.Context, conn dbconn.DbConn, feat dbconn.Features, opts Options) error {
	log := p.Logger.With().Str("component", "promote").Int("node_id", opts.NodeID).Logger()

	mechanism := chooseMechanism(feat, opts)
	if mechanism == MechanismNone {
		return rmerrors.New(rmerrors.KindPromotion, "no promotion mechanism available")
	}

	if err := invoke(ctx, conn, mechanism, opts); err != nil {
		p.logOutcome(ctx, log, opts.NodeID, false, err.Error())
		return rmerrors.Wrap(rmerrors.KindPromotion, "invoke promotion", err)
	}

	if err := p.pollUntilPrimary(ctx, conn, opts); err != nil {
		p.logOutcome(ctx, log, opts.NodeID, false, err.Error())
		return err
	}

	if err := p.Gateway.UpdateNodeSetPrimary(ctx, opts.NodeID); err != nil {
		return err
	}
	p.logOutcome(ctx, log, opts.NodeID, true, "")
	return nil
}

func invoke(ctx context.Context, conn dbconn.DbConn, mechanism Mechanism, opts Options) error {
	switch mechanism {
	case MechanismOperatorCommand:
		return runShell(ctx, opts.OperatorCommand)
	case MechanismInSQLPromote:
		_, err := conn.Exec(ctx, `SELECT pg_promote(wait := false)`)
		return err
	case MechanismServiceControl:
		return runShell(ctx, opts.ServiceControlCommand)
	default:
		return rmerrors.New(rmerrors.KindPromotion, "no promotion mechanism selected")
	}
}

func runShell(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return rmerrors.New(rmerrors.KindPromotion, "promotion command failed").WithDetail(string(out))
	}
	return nil
}

func (p Promoter) pollUntilPrimary(ctx context.Context, conn dbconn.DbConn, opts Options) error {
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(opts.CheckTimeout)
	for {
		role, err := catalog.GetRecoveryType(ctx, conn)
		if err == nil && role == catalog.RecoveryPrimary {
			return nil
		}
		if time.Now().After(deadline) {
			return rmerrors.New(rmerrors.KindPromotion, "timed out waiting for node to report primary status")
		}
		select {
		case <-ctx.Done():
			return rmerrors.Wrap(rmerrors.KindPromotion, "promotion wait cancelled", ctx.Err())
		case <-time.After(interval):
		}
	}
}

func (p Promoter) logOutcome(ctx context.Context, log zerolog.Logger, nodeID int, success bool, details string) {
	p.Gateway.LogEvent(ctx, log, catalog.Event{
		NodeID: nodeID, EventType: catalog.EventStandbyPromote, Success: success, Details: details,
	})
}
