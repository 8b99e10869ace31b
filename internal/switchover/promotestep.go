package switchover

import (
	"context"
	"strings"

	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/promote"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// promote is spec §4.9's PROMOTE state: run the Promotion Subsystem
// (§4.8) against the already-verified local connection, then, if rewind
// was requested, force a checkpoint so the new primary's control-file
// timeline is durable before REJOIN depends on it.
func (r *run) promote(ctx context.Context) error {
	var otherConns []dbconn.DbConn
	for _, sib := range r.siblingsUp {
		conn, err := dbconn.Open(ctx, sib.ConnInfo)
		if err != nil {
			continue
		}
		otherConns = append(otherConns, conn)
	}
	defer func() {
		for _, conn := range otherConns {
			_ = conn.Close(ctx)
		}
	}()

	promOpts := promote.Options{
		NodeID:         r.localRec.NodeID,
		SiblingsFollow: r.opts.SiblingsFollow,
		CheckInterval:  r.opts.PromoteCheckInterval,
		CheckTimeout:   r.opts.PromoteCheckTimeout,
	}

	pre, err := promote.CheckPreconditions(ctx, r.localConn, r.feat, promOpts, otherConns)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindPromotion, "check promotion preconditions", err)
	}
	if !pre.OK() {
		return rmerrors.New(rmerrors.KindPromotion,
			"promotion preconditions failed during switchover: "+strings.Join(pre.Failures, "; "))
	}

	if err := r.prom.Promote(ctx, r.localConn, r.feat, promOpts); err != nil {
		return err
	}

	if r.opts.ForceRewind {
		if _, err := r.localConn.Exec(ctx, `CHECKPOINT`); err != nil {
			r.warn("post-promotion checkpoint failed: " + err.Error())
		}
	}
	return nil
}
