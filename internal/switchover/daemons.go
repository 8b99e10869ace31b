package switchover

import (
	"context"
	"fmt"

	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// pauseDaemons is spec §4.9's PAUSE_DAEMONS state: unless opted out,
// every active node's failover daemon is asked to pause. Daemons found
// already paused are remembered so unpauseDaemons does not touch them
// later (spec §8 "Daemon symmetry").
func (r *run) pauseDaemons(ctx context.Context) error {
	if r.opts.RepmgrdNoPause {
		return nil
	}

	nodes, err := r.gw.GetAllNodes(ctx)
	if err != nil {
		return err
	}

	for _, n := range nodes {
		if !n.Active {
			continue
		}
		client := r.daemonFor(n.NodeID)
		alreadyPaused, err := client.Pause(ctx)
		if err != nil {
			msg := fmt.Sprintf("could not pause failover daemon on node %d (%s): %v", n.NodeID, n.NodeName, err)
			if r.opts.Force {
				r.warn(msg)
				continue
			}
			return rmerrors.New(rmerrors.KindConfig, msg)
		}
		if alreadyPaused {
			r.alreadyPaused[n.NodeID] = true
		} else {
			r.pausedByUs = append(r.pausedByUs, n.NodeID)
		}
	}
	return nil
}

// unpauseDaemons is spec §4.9's UNPAUSE_DAEMONS state: every daemon this
// run itself paused is resumed, unless --repmgrd-force-unpause was also
// given (in which case daemons that were already paused before this run
// are resumed too). Per-node failures are reported as warnings; this
// step never aborts the overall operation (spec §5 "daemons must not be
// left paused" takes priority over reporting failure here).
func (r *run) unpauseDaemons(ctx context.Context) {
	if r.opts.RepmgrdNoPause {
		return
	}

	toUnpause := append([]int{}, r.pausedByUs...)
	if r.opts.RepmgrdForceUnpause {
		for id := range r.alreadyPaused {
			toUnpause = append(toUnpause, id)
		}
	}

	for _, id := range toUnpause {
		client := r.daemonFor(id)
		if err := client.Unpause(ctx); err != nil {
			r.warn(fmt.Sprintf("could not unpause failover daemon on node %d: %v", id, err))
		}
	}
}
