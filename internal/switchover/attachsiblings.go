package switchover

import (
	"context"

	"github.com/repmgr-go/repmgr/internal/repmgrd"
	"github.com/repmgr-go/repmgr/internal/siblings"
)

// attachSiblings is spec §4.9's ATTACH_SIBLINGS state: dispatch Sibling
// Reconfiguration (§4.10) against the sibling standbys discovered and
// probed during PRECHECK, reporting any per-sibling failure as a warning
// rather than aborting — siblings that fail to reconfigure simply remain
// attached to the ex-primary until manually re-pointed.
func (r *run) attachSiblings(ctx context.Context) error {
	if len(r.siblingsUp) == 0 {
		return nil
	}

	daemons := make(map[int]repmgrd.Client, len(r.siblingsUp))
	hosts := make(map[int]string, len(r.siblingsUp))
	for _, sib := range r.siblingsUp {
		daemons[sib.NodeID] = r.daemonFor(sib.NodeID)
		hosts[sib.NodeID] = sshHostFromConnInfo(sib.ConnInfo)
	}

	rc := siblings.Reconfigurer{
		Logger:  r.log,
		SSHUser: r.opts.PrimarySSHUser,
		SSHOpts: r.opts.SSHOpts,
		Binary:  r.remoteBinary(),
	}

	report := rc.Reconfigure(ctx, r.localRec, r.siblingsUp, daemons, hosts)
	for _, failed := range report.Failed() {
		r.warn("sibling " + failed.NodeName + " did not reconfigure: " + failed.Detail)
	}
	return nil
}
