package switchover

import (
	"context"
	"time"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/pkg/lsn"

	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// waitWALFlush is spec §4.9's WAIT_WAL_FLUSH state: block until the local
// standby's last received WAL position has caught up to the primary's
// last checkpoint (recorded during STOP_PRIMARY), the LSN monotonicity
// gate spec §8 requires before promotion may begin.
func (r *run) waitWALFlush(ctx context.Context) error {
	checkpointLSN, err := lsn.Parse(r.lastCheckpointLSN)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindSwitchoverFail, "parse primary's last checkpoint LSN", err)
	}

	if r.localConn == nil {
		conn, err := dbconn.Open(ctx, r.localRec.ConnInfo)
		if err != nil {
			return rmerrors.Wrap(rmerrors.KindDbConn, "reopen local connection after primary stop", err)
		}
		r.localConn = conn
	}

	timeout := r.opts.WALReceiveCheckTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		info, err := catalog.GetReplicationInfo(ctx, r.localConn, catalog.RecoveryStandby)
		if err == nil && lsn.GTE(info.LastWALReceiveLSN, checkpointLSN) {
			return nil
		}

		if time.Now().After(deadline) {
			if r.opts.AlwaysPromote {
				r.warn("local WAL receive position has not caught up with the primary's last checkpoint; proceeding because --always-promote was given")
				return nil
			}
			return rmerrors.New(rmerrors.KindSwitchoverFail,
				"timed out waiting for local WAL receive position to reach the primary's last checkpoint")
		}
		select {
		case <-ctx.Done():
			return rmerrors.Wrap(rmerrors.KindSwitchoverFail, "WAL flush wait cancelled", ctx.Err())
		case <-time.After(time.Second):
		}
	}
}
