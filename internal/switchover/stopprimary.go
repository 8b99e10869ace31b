package switchover

import (
	"context"
	"time"

	"github.com/repmgr-go/repmgr/internal/nodecheck"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
	"github.com/repmgr-go/repmgr/internal/sshtransport"
)

func (r *run) remoteBinary() string {
	if r.opts.RemoteBinary == "" {
		return "repmgr"
	}
	return r.opts.RemoteBinary
}

// stopPrimary is spec §4.9's STOP_PRIMARY state: ask the primary host to
// stop cleanly with a fresh checkpoint, then poll its reachability and
// shutdown state until it reports SHUTDOWN (or, with --force, a tolerated
// unclean shutdown).
func (r *run) stopPrimary(ctx context.Context) error {
	cmd := r.remoteBinary() + " node service --action=stop --checkpoint"
	res, err := sshtransport.RunRemote(ctx, r.opts.PrimaryHost, r.opts.PrimarySSHUser, cmd, r.opts.SSHOpts)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindTransport, "stop primary over SSH", err)
	}
	if res.ExitCode != 0 {
		return rmerrors.New(rmerrors.KindTransport, "primary stop command exited non-zero").
			WithDetail(res.Stderr)
	}

	timeout := r.opts.ShutdownCheckTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)
	nc := r.nodeCheckClient()

	for {
		report, err := nc.IsShutdownCleanly(ctx)
		if err == nil {
			switch report.State {
			case nodecheck.StateShutdown:
				r.lastCheckpointLSN = report.LastCheckpointLSN
				return nil
			case nodecheck.StateUncleanShutdown:
				r.lastCheckpointLSN = report.LastCheckpointLSN
				if !r.opts.Force {
					return rmerrors.New(rmerrors.KindSwitchoverFail,
						"primary reported an unclean shutdown; rerun with --force to proceed anyway")
				}
				r.warn("primary shutdown was unclean; proceeding because --force was given")
				return nil
			case nodecheck.StateShuttingDown, nodecheck.StateRunning, nodecheck.StateUnknown:
				// keep polling; the primary has not finished stopping yet
			}
		}

		if time.Now().After(deadline) {
			return rmerrors.New(rmerrors.KindSwitchoverFail,
				"timed out waiting for primary to report a shutdown state")
		}
		select {
		case <-ctx.Done():
			return rmerrors.Wrap(rmerrors.KindSwitchoverFail, "stop primary wait cancelled", ctx.Err())
		case <-time.After(time.Second):
		}
	}
}
