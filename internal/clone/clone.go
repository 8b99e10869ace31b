// Package clone is the Clone Subsystem (spec §4.5): produces a
// byte-identical initial copy of an upstream node's data directory,
// either by streaming directly from the upstream with the database's
// own base-backup utility ("direct" mode) or by reconstructing from a
// pre-existing backup catalog via rsync ("catalog-backup" mode).
package clone

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/recoveryconf"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// Mode selects how Run produces the new data directory.
type Mode string

const (
	ModeDirect        Mode = "direct"
	ModeCatalogBackup Mode = "catalog-backup"
	// ModeLegacy is reserved for a future archive-replay clone path; no
	// Runner currently implements it (spec §4.5 "a third legacy mode is
	// reserved").
	ModeLegacy Mode = "legacy"
)

// Options configures a clone run. SourceConnInfo is the node the
// orchestrator queries to plan the clone; it may differ from the
// eventual upstream (spec §4.5 step 2-3).
type Options struct {
	Mode                  Mode
	DataDirectory         string
	Force                 bool
	DryRun                bool
	NodeID                int
	NodeName              string
	SourceConnInfo        string
	UpstreamNodeID        int // 0 means "use the current primary"
	ReplUser              string
	UseReplicationSlots   bool
	FastCheckpoint        bool
	TablespaceMapping     map[string]string // old location -> new location
	ExternalConfigFiles   []string
	BackupCatalogCmd      string // shell command producing the catalog listing, catalog-backup mode only
	MinWALSenders         int    // required free wal_senders beyond this clone's own connections
}

// Result summarizes a completed clone for the caller to log/display.
type Result struct {
	UpstreamNodeID int
	SlotCreated    string
	RecoveryPlan   recoveryconf.Plan
}

// Runner executes a clone against a catalog Gateway, logging progress
// and emitting the standby_clone event on completion (spec §4.5 step 11).
type Runner struct {
	Gateway *catalog.Gateway
	Logger  zerolog.Logger
}

// Run executes the clone algorithm described in spec §4.5. On failure
// it best-effort drops any replication slot it created and wraps the
// error as rmerrors.KindBackup, per the subsystem's failure policy.
func (r Runner) Run(ctx context.Context, opts Options) (Result, error) {
	log := r.Logger.With().Str("component", "clone").Str("mode", string(opts.Mode)).Logger()

	if err := validateDestination(opts.DataDirectory, opts.Force); err != nil {
		return Result{}, err
	}

	sourceConn, err := dbconn.Open(ctx, opts.SourceConnInfo)
	if err != nil {
		return Result{}, rmerrors.Wrap(rmerrors.KindBackup, "connect to clone source", err)
	}
	defer sourceConn.Close(ctx)

	if err := verifySource(ctx, r.Gateway, sourceConn); err != nil {
		return Result{}, err
	}

	upstream, err := resolveUpstream(ctx, r.Gateway, opts.UpstreamNodeID)
	if err != nil {
		return Result{}, err
	}

	upstreamConn, err := dbconn.Open(ctx, upstream.ConnInfo)
	if err != nil {
		if opts.BackupCatalogCmd == "" {
			return Result{}, rmerrors.Wrap(rmerrors.KindConfig,
				"cannot determine a reachable clone source: upstream unreachable and no backup catalog configured", err)
		}
		return Result{}, rmerrors.Wrap(rmerrors.KindBackup, "connect to upstream "+upstream.NodeName, err)
	}
	defer upstreamConn.Close(ctx)

	if err := checkUpstreamConfig(ctx, upstreamConn, opts); err != nil {
		return Result{}, err
	}

	slotName := ""
	if opts.UseReplicationSlots {
		slotName = catalog.SlotNameForNode(opts.NodeID)
		if !opts.DryRun {
			if err := catalog.CreateReplicationSlot(ctx, upstreamConn, slotName); err != nil {
				return Result{}, err
			}
		}
	}

	cleanupSlot := func() {
		if slotName != "" && !opts.DryRun {
			_ = catalog.DropReplicationSlot(ctx, upstreamConn, slotName)
		}
	}

	var runErr error
	switch opts.Mode {
	case ModeCatalogBackup:
		runErr = runCatalogBackup(ctx, log, opts, upstream)
	case ModeLegacy:
		runErr = rmerrors.New(rmerrors.KindBackup, "legacy clone mode is reserved and not implemented")
	default:
		runErr = runDirect(ctx, log, opts, upstream, slotName)
	}
	if runErr != nil {
		cleanupSlot()
		log.Error().Err(runErr).Msg("clone failed")
		event := catalog.Event{NodeID: opts.NodeID, EventType: catalog.EventStandbyClone,
			Success: false, Details: runErr.Error()}
		r.Gateway.LogEvent(ctx, log, event)
		return Result{}, rmerrors.Wrap(rmerrors.KindBackup, "clone failed, "+opts.DataDirectory+
			" may need manual cleanup", runErr)
	}

	feat := dbconn.For(serverVersion(ctx, upstreamConn))
	plan, err := recoveryconf.Render(opts.DataDirectory, feat, recoveryconf.Params{
		NodeName:         opts.NodeName,
		UpstreamConnInfo: upstream.ConnInfo,
		SlotName:         slotName,
	})
	if err != nil {
		return Result{}, err
	}
	if !opts.DryRun {
		if err := recoveryconf.Write(plan, true); err != nil {
			return Result{}, err
		}
	}

	r.Gateway.LogEvent(ctx, log, catalog.Event{
		NodeID: opts.NodeID, EventType: catalog.EventStandbyClone, Success: true,
		Details: fmt.Sprintf("cloned from %s in %s mode", upstream.NodeName, opts.Mode),
	})

	return Result{UpstreamNodeID: upstream.NodeID, SlotCreated: slotName, RecoveryPlan: plan}, nil
}

func validateDestination(dir string, force bool) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rmerrors.Wrap(rmerrors.KindConfig, "stat data directory", err)
	}
	if !info.IsDir() {
		return rmerrors.New(rmerrors.KindConfig, dir+" exists and is not a directory")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindConfig, "read data directory", err)
	}
	if len(entries) == 0 {
		return nil
	}
	if force {
		if _, err := os.Stat(dir + "/postmaster.pid"); err == nil {
			return rmerrors.New(rmerrors.KindConfig, dir+" contains a running database (postmaster.pid present)")
		}
		return nil
	}
	return rmerrors.New(rmerrors.KindConfig, dir+" already exists and is not empty (use --force)")
}

// verifySource checks the clone source's version and rejects witness
// nodes as clone sources by comparing system identifiers across the
// catalog (spec §4.5 step 2).
func verifySource(ctx context.Context, gw *catalog.Gateway, source dbconn.DbConn) error {
	var version int
	if err := source.QueryRow(ctx, `SHOW server_version_num`).Scan(&version); err != nil {
		return rmerrors.Wrap(rmerrors.KindBackup, "read source server_version_num", err)
	}

	sourceIdent, err := catalog.GetSystemIdentification(ctx, source)
	if err != nil {
		return err
	}

	primaryID, found, err := gw.GetPrimaryId(ctx)
	if err != nil {
		return err
	}
	if !found {
		return rmerrors.New(rmerrors.KindCatalogNotFound, "no primary node registered in catalog")
	}
	primary, found, err := gw.GetNode(ctx, primaryID)
	if err != nil {
		return err
	}
	if !found {
		return rmerrors.New(rmerrors.KindCatalogNotFound, "no primary node registered in catalog")
	}
	if primary.Type == catalog.Witness {
		return rmerrors.New(rmerrors.KindConfig, "witness node cannot serve as a clone source")
	}

	primaryConn, err := dbconn.Open(ctx, primary.ConnInfo)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindBackup, "connect to primary for clone-source verification", err)
	}
	defer primaryConn.Close(ctx)
	primaryIdent, err := catalog.GetSystemIdentification(ctx, primaryConn)
	if err != nil {
		return err
	}
	if sourceIdent.SystemIdentifier != primaryIdent.SystemIdentifier {
		return rmerrors.New(rmerrors.KindConfig, "clone source belongs to a different cluster than the registered primary")
	}
	return nil
}

func resolveUpstream(ctx context.Context, gw *catalog.Gateway, upstreamNodeID int) (catalog.NodeRecord, error) {
	if upstreamNodeID != 0 {
		rec, found, err := gw.GetNode(ctx, upstreamNodeID)
		if err != nil {
			return catalog.NodeRecord{}, err
		}
		if !found {
			return catalog.NodeRecord{}, rmerrors.New(rmerrors.KindCatalogNotFound,
				fmt.Sprintf("upstream node %d not found", upstreamNodeID))
		}
		return rec, nil
	}
	primaryID, found, err := gw.GetPrimaryId(ctx)
	if err != nil {
		return catalog.NodeRecord{}, err
	}
	if !found {
		return catalog.NodeRecord{}, rmerrors.New(rmerrors.KindCatalogNotFound, "no primary node registered in catalog")
	}
	rec, found, err := gw.GetNode(ctx, primaryID)
	if err != nil {
		return catalog.NodeRecord{}, err
	}
	if !found {
		return catalog.NodeRecord{}, rmerrors.New(rmerrors.KindCatalogNotFound, "no primary node registered in catalog")
	}
	return rec, nil
}

// checkUpstreamConfig verifies the preconditions spec §4.5 step 4 lists:
// wal_level, free wal_senders, max_replication_slots, archive_command,
// hot_standby.
func checkUpstreamConfig(ctx context.Context, upstream dbconn.DbConn, opts Options) error {
	var walLevel string
	if err := upstream.QueryRow(ctx, `SHOW wal_level`).Scan(&walLevel); err != nil {
		return rmerrors.Wrap(rmerrors.KindBackup, "read wal_level", err)
	}
	if walLevel == "minimal" {
		return rmerrors.New(rmerrors.KindConfig, "upstream wal_level must be at least replica, got minimal")
	}

	// runDirect's pg_basebackup --wal-method=stream holds two wal_sender
	// connections while the base backup runs.
	required := 2 + opts.MinWALSenders
	var maxSenders, activeSenders int
	if err := upstream.QueryRow(ctx, `SHOW max_wal_senders`).Scan(&maxSenders); err != nil {
		return rmerrors.Wrap(rmerrors.KindBackup, "read max_wal_senders", err)
	}
	if err := upstream.QueryRow(ctx, `SELECT count(*) FROM pg_stat_replication`).Scan(&activeSenders); err != nil {
		return rmerrors.Wrap(rmerrors.KindBackup, "count active wal senders", err)
	}
	if maxSenders-activeSenders < required {
		return rmerrors.New(rmerrors.KindConfig,
			fmt.Sprintf("upstream has %d free wal_senders, need %d", maxSenders-activeSenders, required))
	}

	if opts.UseReplicationSlots {
		var maxSlots int
		if err := upstream.QueryRow(ctx, `SHOW max_replication_slots`).Scan(&maxSlots); err != nil {
			return rmerrors.Wrap(rmerrors.KindBackup, "read max_replication_slots", err)
		}
		if maxSlots < 1 {
			return rmerrors.New(rmerrors.KindConfig, "replication slots requested but max_replication_slots = 0")
		}
	}

	var archiveCmd string
	var archiveMode string
	if err := upstream.QueryRow(ctx, `SHOW archive_mode`).Scan(&archiveMode); err != nil {
		return rmerrors.Wrap(rmerrors.KindBackup, "read archive_mode", err)
	}
	if archiveMode != "off" {
		if err := upstream.QueryRow(ctx, `SHOW archive_command`).Scan(&archiveCmd); err != nil {
			return rmerrors.Wrap(rmerrors.KindBackup, "read archive_command", err)
		}
		if strings.TrimSpace(archiveCmd) == "" || archiveCmd == "(disabled)" {
			return rmerrors.New(rmerrors.KindConfig, "archiving is on but archive_command is empty")
		}
	}

	var hotStandby bool
	if err := upstream.QueryRow(ctx, `SHOW hot_standby`).Scan(&hotStandby); err != nil {
		return rmerrors.Wrap(rmerrors.KindBackup, "read hot_standby", err)
	}
	if !hotStandby {
		return rmerrors.New(rmerrors.KindConfig, "upstream hot_standby must be on")
	}

	return nil
}

func serverVersion(ctx context.Context, conn dbconn.DbConn) int {
	var version int
	_ = conn.QueryRow(ctx, `SHOW server_version_num`).Scan(&version)
	return version
}
