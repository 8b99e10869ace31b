// Package switchover implements the Switchover Subsystem (spec §4.9):
// the full role-swap state machine run on the promotion candidate
// (this standby), from PRECHECK through VERIFY.
package switchover

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/nodecheck"
	"github.com/repmgr-go/repmgr/internal/promote"
	"github.com/repmgr-go/repmgr/internal/repmgrd"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
	"github.com/repmgr-go/repmgr/internal/sshtransport"
)

// State is one node of the switchover state machine (spec §4.9). No
// state may be re-entered once left (spec §5 "Ordering guarantees").
type State string

const (
	StateInit           State = "INIT"
	StatePrecheck       State = "PRECHECK"
	StatePauseDaemons   State = "PAUSE_DAEMONS"
	StateStopPrimary    State = "STOP_PRIMARY"
	StateWaitWALFlush   State = "WAIT_WAL_FLUSH"
	StatePromote        State = "PROMOTE"
	StateRejoin         State = "REJOIN"
	StateAttachSiblings State = "ATTACH_SIBLINGS"
	StateUnpauseDaemons State = "UNPAUSE_DAEMONS"
	StateVerify         State = "VERIFY"
	StateDone           State = "DONE"
)

// Outcome is the classified result spec §4.9's VERIFY state and the
// exit-code table in spec §6/§7 distinguish.
type Outcome string

const (
	OutcomeSuccess               Outcome = "SUCCESS"
	OutcomeJoinFailNoPing        Outcome = "JOIN_FAIL_NO_PING"
	OutcomeJoinFailNoReplication Outcome = "JOIN_FAIL_NO_REPLICATION"
	OutcomeIncomplete            Outcome = "INCOMPLETE"
	OutcomeFail                  Outcome = "FAIL"
)

// Options configures one switchover run; fields map directly to the
// CLI flags spec §6 lists for `standby switchover`.
type Options struct {
	NodeID        int
	NodeName      string
	LocalConnInfo string
	DataDirectory string
	ReplUser      string

	PrimaryHost    string
	PrimarySSHUser string
	PrimaryNodeID  int

	Force               bool
	AlwaysPromote       bool
	SiblingsFollow      bool
	RepmgrdNoPause      bool
	RepmgrdForceUnpause bool
	ForceRewind         bool
	RewindPath          string
	RewindCommand       string
	RemoteBinary        string // remote repmgr binary name/path, default "repmgr"
	// ConfigFiles lists extra configuration files in the primary's data
	// directory that the rewind utility must preserve, passed through
	// to the remote rejoin invocation's --config-files flag.
	ConfigFiles []string

	ShutdownCheckTimeout    time.Duration
	WALReceiveCheckTimeout  time.Duration
	PromoteCheckInterval    time.Duration
	PromoteCheckTimeout     time.Duration
	StandbyReconnectTimeout time.Duration

	ReplicationLagWarning  time.Duration
	ReplicationLagCritical time.Duration
	ArchiveReadyWarning    int
	ArchiveReadyCritical   int

	// DaemonAddrs maps node_id to its repmgrd RPC address
	// (internal/config.Config.RepmgrdRPCAddr); a node with no entry gets
	// the zero client, which PAUSE_DAEMONS treats as an unreachable
	// daemon (see daemonFor).
	DaemonAddrs map[int]string

	SSHOpts sshtransport.Options
}

// Machine runs the switchover state machine against the catalog and the
// local/remote connections it opens along the way.
type Machine struct {
	Gateway  *catalog.Gateway
	Logger   zerolog.Logger
	Promoter promote.Promoter
}

// Result is what Run returns: the final state reached, the classified
// outcome, and any warnings collected along the way that did not abort
// the run.
type Result struct {
	FinalState State
	Outcome    Outcome
	Warnings   []string
}

// run carries mutable state threaded through the state functions: which
// daemons this run itself paused (and must unpause), the local and
// primary connections, the demotion candidate's last known checkpoint
// LSN, and the cluster membership discovered during PRECHECK.
type run struct {
	opts Options
	log  zerolog.Logger
	gw   *catalog.Gateway
	prom promote.Promoter

	localConn   dbconn.DbConn
	primaryConn dbconn.DbConn

	localRec   catalog.NodeRecord
	primaryRec catalog.NodeRecord
	feat       dbconn.Features
	siblingsUp []catalog.NodeRecord

	lastCheckpointLSN string

	// alreadyPaused holds the node_ids whose daemon was found already
	// paused before this run (spec §8 "Daemon symmetry": these must NOT
	// be unpaused afterwards unless --repmgrd-force-unpause was given).
	alreadyPaused map[int]bool
	// pausedByUs holds the node_ids this run itself paused.
	pausedByUs []int

	warnings []string
}

// daemonFor returns a repmgrd.Client for nodeID, or the zero Client
// (which every call reports as "no RPC address configured") if none is
// known. An unconfigured daemon is then treated the same as an
// unreachable one: pauseDaemons degrades it to a warning under --force
// and aborts otherwise (spec §4.9 PAUSE_DAEMONS: "unreachable daemons
// are a warning unless --force").
func (r *run) daemonFor(nodeID int) repmgrd.Client {
	if r.opts.DaemonAddrs == nil {
		return repmgrd.Client{}
	}
	return repmgrd.Client{Addr: r.opts.DaemonAddrs[nodeID]}
}

// Run executes the state machine described in spec §4.9. Once PROMOTE
// succeeds the run always continues through to UNPAUSE_DAEMONS and
// VERIFY, per spec §5's cancellation policy — it never returns early
// with paused daemons left paused.
func (m Machine) Run(ctx context.Context, opts Options, localConn dbconn.DbConn) (Result, error) {
	r := &run{opts: opts, log: m.Logger.With().Str("component", "switchover").Logger(),
		gw: m.Gateway, prom: m.Promoter, localConn: localConn,
		alreadyPaused: map[int]bool{}}

	state := StateInit

	advance := func(next State, err error) (bool, error) {
		if err != nil {
			r.log.Error().Err(err).Str("state", string(state)).Msg("switchover step failed")
			return false, err
		}
		state = next
		return true, nil
	}

	var err error
	var ok bool

	ok, err = advance(StatePrecheck, r.precheck(ctx))
	if !ok {
		return m.fail(r, state, err)
	}

	ok, err = advance(StatePauseDaemons, r.pauseDaemons(ctx))
	if !ok {
		return m.failAfterPause(ctx, r, state, err)
	}

	ok, err = advance(StateStopPrimary, r.stopPrimary(ctx))
	if !ok {
		return m.failAfterPause(ctx, r, state, err)
	}

	ok, err = advance(StateWaitWALFlush, r.waitWALFlush(ctx))
	if !ok {
		return m.failAfterPause(ctx, r, state, err)
	}

	ok, err = advance(StatePromote, r.promote(ctx))
	if !ok {
		return m.failAfterPause(ctx, r, state, err)
	}

	// Once promoted, every remaining step proceeds best-effort: failures
	// are recorded as warnings, not aborts, because daemons must be
	// unpaused and the operation has already committed to a new primary.
	if err := r.rejoin(ctx); err != nil {
		r.warn("rejoin: " + err.Error())
	}
	state = StateRejoin

	if opts.SiblingsFollow {
		if err := r.attachSiblings(ctx); err != nil {
			r.warn("attach siblings: " + err.Error())
		}
	}
	state = StateAttachSiblings

	r.unpauseDaemons(ctx)
	state = StateUnpauseDaemons

	outcome, verifyErr := r.verify(ctx)
	state = StateVerify

	result := Result{FinalState: StateDone, Outcome: outcome, Warnings: r.warnings}
	r.gw.LogEvent(ctx, r.log, catalog.Event{
		NodeID: opts.NodeID, EventType: catalog.EventStandbySwitchover,
		Success: outcome == OutcomeSuccess, Details: string(outcome),
	})
	if verifyErr != nil && outcome != OutcomeSuccess {
		return result, rmerrors.New(rmerrors.KindSwitchoverIncomplete,
			fmt.Sprintf("switchover reached PROMOTE but VERIFY reported %s", outcome))
	}
	return result, nil
}

func (m Machine) fail(r *run, state State, err error) (Result, error) {
	r.gw.LogEvent(context.Background(), r.log, catalog.Event{
		NodeID: r.opts.NodeID, EventType: catalog.EventStandbySwitchover, Success: false,
		Details: fmt.Sprintf("failed in %s: %v", state, err),
	})
	return Result{FinalState: state, Outcome: OutcomeFail, Warnings: r.warnings},
		rmerrors.Wrap(rmerrors.KindSwitchoverFail, fmt.Sprintf("switchover failed in state %s", state), err)
}

// failAfterPause is used for any state reached after PAUSE_DAEMONS but
// before PROMOTE has succeeded: daemons paused by this run must still
// be unpaused before reporting failure (spec §5 "Once PROMOTE has
// succeeded, the engine always continues to UNPAUSE_DAEMONS" implies
// the converse is also safe — daemons must not be left paused on any
// exit path).
func (m Machine) failAfterPause(ctx context.Context, r *run, state State, stepErr error) (Result, error) {
	r.unpauseDaemons(ctx)
	return m.fail(r, state, stepErr)
}

func (r *run) warn(msg string) {
	r.warnings = append(r.warnings, msg)
	r.log.Warn().Msg(msg)
}

// nodeCheckClient builds a Node-Check Protocol client for the primary
// host, used throughout PRECHECK and STOP_PRIMARY (spec §4.9).
func (r *run) nodeCheckClient() nodecheck.Client {
	return nodecheck.Client{Host: r.opts.PrimaryHost, User: r.opts.PrimarySSHUser, Opts: r.opts.SSHOpts}
}
