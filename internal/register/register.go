// Package register implements the Registration and Unregistration
// Subsystems (spec §4.6, §4.7): inserting, re-registering, and removing
// a standby's row in the cluster metadata catalog.
package register

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// Options configures a registration run.
type Options struct {
	Record           catalog.NodeRecord
	Force            bool
	WaitSync         bool
	WaitSyncTimeout  time.Duration
	WaitSyncInterval time.Duration
	// UpstreamReachable and LocalReachable let the caller report whether
	// it could open the relevant connections; both default false when
	// the caller didn't check, which just skips the attachment check
	// (spec §4.6 step 6, "if both ... reachable").
	UpstreamReachable bool
	LocalReachable    bool
}

// Registrar performs registration/unregistration against the primary's
// Catalog Gateway.
type Registrar struct {
	Gateway *catalog.Gateway
	Logger  zerolog.Logger
}

// Register runs the algorithm in spec §4.6.
func (r Registrar) Register(ctx context.Context, opts Options, localConn, upstreamConn dbconn.DbConn) error {
	log := r.Logger.With().Str("component", "register").Int("node_id", opts.Record.NodeID).Logger()

	if err := verifyVersionsMatch(ctx, localConn, upstreamConn); err != nil {
		return err
	}

	byName, found, err := r.Gateway.GetNodeByName(ctx, opts.Record.NodeName)
	if err != nil {
		return err
	}
	if found && byName.NodeID != opts.Record.NodeID && byName.Active {
		return rmerrors.New(rmerrors.KindConfig,
			"another active node already uses node_name "+opts.Record.NodeName)
	}

	_, found, err := r.Gateway.GetNode(ctx, opts.Record.NodeID)
	if err != nil {
		return err
	}
	if found && !opts.Force {
		return rmerrors.New(rmerrors.KindConfig,
			"node is already registered; use --force to re-register")
	}

	if opts.Record.UpstreamNodeID != catalog.NoUpstream {
		if opts.Record.UpstreamNodeID == opts.Record.NodeID {
			return rmerrors.New(rmerrors.KindConfig, "upstream_node_id cannot reference this node itself")
		}
		upstreamRec, found, err := r.Gateway.GetNode(ctx, opts.Record.UpstreamNodeID)
		if err != nil {
			return err
		}
		if !found {
			if !opts.Force {
				return rmerrors.New(rmerrors.KindConfig,
					"upstream node does not exist yet; use --force to create a placeholder")
			}
			if err := r.Gateway.CreateNode(ctx, catalog.NodeRecord{
				NodeID: opts.Record.UpstreamNodeID, Type: catalog.Standby, Active: false,
			}); err != nil {
				return err
			}
		} else if !upstreamRec.Active && !opts.Force {
			return rmerrors.New(rmerrors.KindConfig, "upstream node is not active; use --force to proceed anyway")
		}

		if opts.UpstreamReachable && opts.LocalReachable && upstreamConn != nil {
			state, err := catalog.IsDownstreamAttached(ctx, upstreamConn, opts.Record.NodeName)
			if err != nil {
				return err
			}
			if state != catalog.Attached {
				log.Warn().Msg("standby not yet visible in upstream's replication activity")
			}
		}
	}

	if found {
		if err := r.Gateway.UpdateNode(ctx, opts.Record); err != nil {
			return err
		}
	} else {
		if err := r.Gateway.CreateNode(ctx, opts.Record); err != nil {
			return err
		}
	}
	r.Gateway.LogEvent(ctx, log, catalog.Event{
		NodeID: opts.Record.NodeID, EventType: catalog.EventStandbyRegister, Success: true,
	})

	if opts.WaitSync {
		return r.waitSync(ctx, log, opts)
	}
	return nil
}

func verifyVersionsMatch(ctx context.Context, localConn, upstreamConn dbconn.DbConn) error {
	if localConn == nil || upstreamConn == nil {
		return nil
	}
	var localVersion, upstreamVersion int
	if err := localConn.QueryRow(ctx, `SHOW server_version_num`).Scan(&localVersion); err != nil {
		return rmerrors.Wrap(rmerrors.KindDbQuery, "read local server_version_num", err)
	}
	if err := upstreamConn.QueryRow(ctx, `SHOW server_version_num`).Scan(&upstreamVersion); err != nil {
		return rmerrors.Wrap(rmerrors.KindDbQuery, "read upstream server_version_num", err)
	}
	if localVersion/10000 != upstreamVersion/10000 {
		return rmerrors.New(rmerrors.KindConfig, "local and upstream major versions do not match")
	}
	return nil
}

// waitSync polls the catalog until the local replica of this node's row
// matches the primary's, per spec §4.6 step 8's observable-field list.
func (r Registrar) waitSync(ctx context.Context, log zerolog.Logger, opts Options) error {
	interval := opts.WaitSyncInterval
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(opts.WaitSyncTimeout)
	for {
		current, found, err := r.Gateway.GetNode(ctx, opts.Record.NodeID)
		if err != nil {
			return err
		}
		if found && current.Equal(opts.Record) {
			r.Gateway.LogEvent(ctx, log, catalog.Event{
				NodeID: opts.Record.NodeID, EventType: catalog.EventStandbyRegisterSync, Success: true,
			})
			return nil
		}
		if time.Now().After(deadline) {
			details := fmt.Sprintf("node record was not synchronised after %d seconds", int(opts.WaitSyncTimeout/time.Second))
			r.Gateway.LogEvent(ctx, log, catalog.Event{
				NodeID: opts.Record.NodeID, EventType: catalog.EventStandbyRegisterSync, Success: false,
				Details: details,
			})
			return rmerrors.New(rmerrors.KindRegisterSync, details)
		}
		select {
		case <-ctx.Done():
			return rmerrors.Wrap(rmerrors.KindRegisterSync, "wait-sync cancelled", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Unregister removes a standby's row (spec §4.7). The standby itself
// need not be running; connections are only opened to the primary.
func (r Registrar) Unregister(ctx context.Context, nodeID int) error {
	log := r.Logger.With().Str("component", "unregister").Int("node_id", nodeID).Logger()

	rec, found, err := r.Gateway.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if !found {
		return rmerrors.New(rmerrors.KindCatalogNotFound, "node not registered")
	}
	if rec.Type != catalog.Standby {
		return rmerrors.New(rmerrors.KindConfig,
			"only standby records can be unregistered through this operation")
	}
	if err := r.Gateway.DeleteNode(ctx, nodeID); err != nil {
		return err
	}
	r.Gateway.LogEvent(ctx, log, catalog.Event{
		NodeID: nodeID, EventType: catalog.EventStandbyUnregister, Success: true,
	})
	return nil
}
