package switchover

import (
	"context"
	"time"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// verify is spec §4.9's VERIFY state: reconnect to the ex-primary (now a
// demoted standby), drop the promotion candidate's former slot there,
// and confirm attachment to the new primary, classifying the outcome
// into the three terminal states spec §4.9 names.
func (r *run) verify(ctx context.Context) (Outcome, error) {
	timeout := r.opts.StandbyReconnectTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)

	var exPrimaryConn dbconn.DbConn
	for {
		conn, err := dbconn.Open(ctx, r.primaryRec.ConnInfo)
		if err == nil {
			exPrimaryConn = conn
			break
		}
		if time.Now().After(deadline) {
			return OutcomeJoinFailNoPing, rmerrors.New(rmerrors.KindSwitchoverIncomplete,
				"ex-primary did not become reachable within the reconnect timeout")
		}
		select {
		case <-ctx.Done():
			return OutcomeJoinFailNoPing, rmerrors.Wrap(rmerrors.KindSwitchoverIncomplete, "verify wait cancelled", ctx.Err())
		case <-time.After(time.Second):
		}
	}
	defer exPrimaryConn.Close(ctx)

	if r.localRec.SlotName != "" {
		if err := catalog.DropReplicationSlot(ctx, exPrimaryConn, r.localRec.SlotName); err != nil {
			r.warn("could not drop former slot on ex-primary: " + err.Error())
		}
	}

	for {
		state, err := catalog.IsDownstreamAttached(ctx, r.localConn, r.primaryRec.NodeName)
		if err == nil && state == catalog.Attached {
			return OutcomeSuccess, nil
		}
		if time.Now().After(deadline) {
			return OutcomeJoinFailNoReplication, rmerrors.New(rmerrors.KindSwitchoverIncomplete,
				"ex-primary is reachable but not yet attached to the new primary")
		}
		select {
		case <-ctx.Done():
			return OutcomeJoinFailNoReplication, rmerrors.Wrap(rmerrors.KindSwitchoverIncomplete, "verify wait cancelled", ctx.Err())
		case <-time.After(time.Second):
		}
	}
}
