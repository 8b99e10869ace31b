// Package follow implements the Follow Subsystem: re-pointing a running
// standby at a new upstream (primary or another standby), creating the
// new replication slot, rewriting the recovery configuration, and
// dropping the slot on the node's previous upstream.
package follow

import (
	"context"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/recoveryconf"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// Options configures a follow run.
type Options struct {
	NodeID              int
	NodeName            string
	DataDirectory       string
	UseReplicationSlots bool
	RestartCommand      string // e.g. "pg_ctl restart -D <datadir>"
	ReloadCommand       string // used instead of restart when primary_conninfo-only changes suffice
	Reload              bool   // prefer reload over restart when true
	DryRun              bool
	Force               bool
}

// Follower re-points a standby using the catalog Gateway plus direct
// connections to the old and new upstream.
type Follower struct {
	Gateway *catalog.Gateway
	Logger  zerolog.Logger
}

// Follow re-points localConn's node at newUpstream. oldUpstreamConn may
// be nil if the previous upstream is unreachable (its slot is then left
// for the operator to clean up, and this is logged, not treated as
// fatal).
func (f Follower) Follow(ctx context.Context, localConn, newUpstreamConn, oldUpstreamConn dbconn.DbConn,
	newUpstream catalog.NodeRecord, opts Options) error {
	log := f.Logger.With().Str("component", "follow").Int("node_id", opts.NodeID).Logger()

	var serverVersion int
	if err := localConn.QueryRow(ctx, `SHOW server_version_num`).Scan(&serverVersion); err != nil {
		return rmerrors.Wrap(rmerrors.KindDbQuery, "read local server_version_num", err)
	}
	feat := dbconn.For(serverVersion)

	slotName := ""
	if opts.UseReplicationSlots {
		slotName = catalog.SlotNameForNode(opts.NodeID)
		if !opts.DryRun {
			if err := catalog.CreateReplicationSlot(ctx, newUpstreamConn, slotName); err != nil {
				return rmerrors.Wrap(rmerrors.KindFollow, "create slot on new upstream", err)
			}
		}
	}

	plan, err := recoveryconf.Render(opts.DataDirectory, feat, recoveryconf.Params{
		NodeName:         opts.NodeName,
		UpstreamConnInfo: newUpstream.ConnInfo,
		SlotName:         slotName,
	})
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindFollow, "render recovery config", err)
	}
	if !opts.DryRun {
		if err := recoveryconf.Write(plan, true); err != nil {
			return rmerrors.Wrap(rmerrors.KindFollow, "write recovery config", err)
		}
		if err := restartOrReload(ctx, opts); err != nil {
			return rmerrors.Wrap(rmerrors.KindFollow, "apply new recovery config", err)
		}
	}
	if opts.DryRun {
		log.Info().Str("new_upstream", newUpstream.NodeName).Msg("dry run: catalog not updated")
		return nil
	}

	current, found, err := f.Gateway.GetNode(ctx, opts.NodeID)
	if err != nil {
		return err
	}
	oldSlot := ""
	if found {
		oldSlot = current.SlotName
	}

	if err := f.Gateway.UpdateNodeStatus(ctx, opts.NodeID, catalog.Standby, newUpstream.NodeID, true); err != nil {
		return err
	}
	if slotName != "" {
		if err := f.Gateway.UpdateSlotName(ctx, opts.NodeID, slotName); err != nil {
			return err
		}
	}

	if oldSlot != "" && oldSlot != slotName && !opts.DryRun {
		if oldUpstreamConn == nil {
			log.Warn().Str("slot", oldSlot).Msg("previous upstream unreachable; obsolete slot left for manual cleanup")
		} else if err := catalog.DropReplicationSlot(ctx, oldUpstreamConn, oldSlot); err != nil {
			log.Warn().Err(err).Str("slot", oldSlot).Msg("failed to drop obsolete slot on previous upstream")
		}
	}

	f.Gateway.LogEvent(ctx, log, catalog.Event{
		NodeID: opts.NodeID, EventType: catalog.EventStandbyFollow, Success: true,
		Details: "now following " + newUpstream.NodeName,
	})
	return nil
}

// applyCommand picks the restart or reload command according to
// opts.Reload, preferring reload only when a reload command was
// actually supplied.
func applyCommand(opts Options) string {
	if opts.Reload && opts.ReloadCommand != "" {
		return opts.ReloadCommand
	}
	return opts.RestartCommand
}

func restartOrReload(ctx context.Context, opts Options) error {
	command := applyCommand(opts)
	if command == "" {
		return rmerrors.New(rmerrors.KindNoRestart, "no restart/reload command configured")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return rmerrors.New(rmerrors.KindNoRestart, "failed to apply new configuration").WithDetail(string(out))
	}
	return nil
}
