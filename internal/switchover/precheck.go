package switchover

import (
	"context"
	"fmt"
	"strings"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/nodecheck"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
	"github.com/repmgr-go/repmgr/internal/sshtransport"
)

// precheck is spec §4.9's PRECHECK state. Every sub-check runs and its
// failure is appended to a joined error rather than returning on the
// first failure, per the ledger's resolution of the dry-run reporting
// Open Question (complete pre-flight reporting, not early-exit).
func (r *run) precheck(ctx context.Context) error {
	var failures []string
	fail := func(format string, args ...any) { failures = append(failures, fmt.Sprintf(format, args...)) }

	rec, found, err := r.gw.GetNode(ctx, r.opts.NodeID)
	if err != nil {
		return err
	}
	if !found {
		return rmerrors.New(rmerrors.KindCatalogNotFound, "local node is not registered in the catalog")
	}
	r.localRec = rec

	if rec.Type != catalog.Standby {
		fail("local node %d is not registered as a standby", rec.NodeID)
	}

	role, err := catalog.GetRecoveryType(ctx, r.localConn)
	if err != nil {
		fail("could not determine local recovery type: %v", err)
	} else if role != catalog.RecoveryStandby {
		fail("local node is not currently streaming as a standby")
	}

	var serverVersion int
	if err := r.localConn.QueryRow(ctx, `SHOW server_version_num`).Scan(&serverVersion); err == nil {
		r.feat = dbconn.For(serverVersion)
	}

	if r.feat.ReplayPauseAffectsShutdown {
		var paused bool
		if err := r.localConn.QueryRow(ctx, `SELECT pg_is_wal_replay_paused()`).Scan(&paused); err == nil && paused {
			fail("local WAL replay is paused; switchover requires active replay")
		}
	}

	var isSuper bool
	if err := r.localConn.QueryRow(ctx,
		`SELECT usesuper FROM pg_user WHERE usename = current_user`).Scan(&isSuper); err != nil || !isSuper {
		r.warn("local connection does not have superuser privileges; proceeding without it")
	}

	primaryID := r.opts.PrimaryNodeID
	if primaryID == 0 {
		id, found, err := r.gw.GetPrimaryId(ctx)
		if err != nil {
			fail("could not look up current primary: %v", err)
		} else if !found {
			fail("no active primary registered in the catalog")
		} else {
			primaryID = id
		}
	}

	if primaryID != 0 {
		primaryRec, found, err := r.gw.GetNode(ctx, primaryID)
		if err != nil {
			fail("could not read primary node record: %v", err)
		} else if !found {
			fail("primary node %d not found in catalog", primaryID)
		} else {
			r.primaryRec = primaryRec
			if rec.UpstreamNodeID != primaryRec.NodeID {
				fail("local node is not registered as downstream of node %d", primaryRec.NodeID)
			}

			primaryConn, err := dbconn.Open(ctx, primaryRec.ConnInfo)
			if err != nil {
				fail("cannot connect to primary %s: %v", primaryRec.NodeName, err)
			} else {
				r.primaryConn = primaryConn

				var inBackup bool
				if err := primaryConn.QueryRow(ctx, `SELECT pg_is_in_backup()`).Scan(&inBackup); err == nil && inBackup {
					fail("primary is running an exclusive backup")
				}

				state, err := catalog.IsDownstreamAttached(ctx, primaryConn, rec.NodeName)
				if err != nil {
					fail("could not verify attachment to primary: %v", err)
				} else if state != catalog.Attached {
					fail("local node is not currently attached to the primary's replication stream")
				}
			}
		}
	}

	if r.opts.ForceRewind && strings.TrimSpace(r.opts.RewindCommand) == "" {
		fail("rewind requested but no rewind command is configured")
	}

	if r.primaryRec.ConnInfo != "" {
		if err := sshtransport.ProbeSsh(ctx, r.opts.PrimaryHost, r.opts.PrimarySSHUser, r.opts.SSHOpts); err != nil {
			fail("cannot reach primary host %s over SSH: %v", r.opts.PrimaryHost, err)
		} else {
			nc := r.nodeCheckClient()
			if _, err := nc.IsShutdownCleanly(ctx); err != nil {
				fail("remote tool on primary host did not respond: %v", err)
			}
			if rep, err := nc.DataDirectoryConfig(ctx); err == nil && rep.Status != nodecheck.StatusOK {
				fail("primary's configured data_directory is inconsistent (%s)", rep.Status)
			}
			if r.feat.ReplicationConfigOwnerApplies {
				if rep, err := nc.ReplicationConfigOwner(ctx); err == nil && rep.Status != nodecheck.StatusOK {
					fail("primary's replication config file owner is incorrect (%s)", rep.Status)
				}
			}
			if rep, err := nc.DbConnection(ctx, ""); err == nil && rep.Status != nodecheck.StatusOK {
				fail("primary does not report a usable superuser database connection (%s)", rep.Status)
			}

			if archive, err := nc.ArchiveReady(ctx); err == nil {
				switch {
				case archive.Status == nodecheck.StatusCritical && !r.opts.Force:
					fail("primary archive backlog is critical (%d files, threshold %d)", archive.Files, archive.Threshold)
				case archive.Status == nodecheck.StatusCritical:
					r.warn(fmt.Sprintf("primary archive backlog is critical (%d files) but proceeding with --force", archive.Files))
				case archive.Status == nodecheck.StatusWarning:
					r.warn(fmt.Sprintf("primary archive backlog is elevated (%d files)", archive.Files))
				}
			}

			if conn, err := nc.ReplicationConnection(ctx, r.opts.NodeID); err == nil && conn.Status != nodecheck.StatusOK {
				fail("primary cannot open a replication connection back to this node (%s)", conn.Status)
			}
		}
	}

	if r.primaryConn != nil {
		info, err := catalog.GetReplicationInfo(ctx, r.localConn, catalog.RecoveryStandby)
		if err == nil {
			switch {
			case r.opts.ReplicationLagCritical > 0 && info.UpstreamLastSeen > r.opts.ReplicationLagCritical && !r.opts.Force:
				fail("replication lag %s exceeds critical threshold %s", info.UpstreamLastSeen, r.opts.ReplicationLagCritical)
			case r.opts.ReplicationLagWarning > 0 && info.UpstreamLastSeen > r.opts.ReplicationLagWarning:
				r.warn(fmt.Sprintf("replication lag %s exceeds warning threshold %s", info.UpstreamLastSeen, r.opts.ReplicationLagWarning))
			}
		}
	}

	siblings, err := r.gw.GetActiveSiblings(ctx, r.primaryRec.NodeID, r.localRec.NodeID)
	if err != nil {
		fail("could not enumerate sibling standbys: %v", err)
	} else {
		for _, sib := range siblings {
			host := sshHostFromConnInfo(sib.ConnInfo)
			if host == "" {
				r.warn(fmt.Sprintf("sibling %s has no resolvable SSH host", sib.NodeName))
				continue
			}
			if err := sshtransport.ProbeSsh(ctx, host, r.opts.PrimarySSHUser, r.opts.SSHOpts); err != nil {
				r.warn(fmt.Sprintf("sibling %s unreachable over SSH: %v", sib.NodeName, err))
				continue
			}
			r.siblingsUp = append(r.siblingsUp, sib)
		}
	}

	if len(failures) > 0 {
		return rmerrors.New(rmerrors.KindConfig, "switchover preconditions failed: "+strings.Join(failures, "; "))
	}
	return nil
}

// sshHostFromConnInfo extracts the "host" libpq parameter from a
// conninfo string without pulling in internal/connstring's full parser
// for a single lookup; siblings' conninfo is always "key=value ..."
// form (spec §4.1), so a field scan suffices.
func sshHostFromConnInfo(conninfo string) string {
	for _, field := range strings.Fields(conninfo) {
		if k, v, ok := strings.Cut(field, "="); ok && k == "host" {
			return v
		}
	}
	return ""
}
