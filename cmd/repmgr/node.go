package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/connstring"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/nodecheck"
	"github.com/repmgr-go/repmgr/internal/recoveryconf"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// node is the CLI surface for the Node-Check Protocol (spec §4.3) plus
// the two other subcommands a peer instance invokes remotely over SSH
// during a switchover: "node service" (STOP_PRIMARY) and "node rejoin"
// (REJOIN). Every check given a specific report flag writes exactly one
// "--key=value" line to stdout and nothing else, so a remote caller's
// internal/nodecheck.Client can parse it cleanly; a bare "node check"
// prints one labelled line per check instead. Human-facing context
// goes to stderr via the ordinary logger.
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Local node status, health checks, service control, and rejoin",
}

var nodeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report this node's local status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !nodeIsShutdownCleanly {
			return fmt.Errorf("node status requires --is-shutdown-cleanly")
		}
		report := shutdownReport(cmd.Context())
		fmt.Println(report.Render())
		return nil
	},
}

var nodeIsShutdownCleanly bool

var nodeCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one (or, with no flags, every) Node-Check Protocol check",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		switch {
		case nodeCheckArchiveReady:
			fmt.Println(archiveReadyReport(ctx).Render())
		case nodeCheckReplConn:
			fmt.Println(replicationConnectionReport(ctx, nodeCheckRemoteID).Render())
		case nodeCheckDataDirCfg:
			fmt.Println(dataDirectoryConfigReport(ctx).Render())
		case nodeCheckReplConfOwner:
			fmt.Println(replicationConfigOwnerReport().Render())
		case nodeCheckDbConnection:
			fmt.Println(dbConnectionReport(ctx, flagSuperuser).Render())
		default:
			// SPEC_FULL.md §3: the bare command is a human-facing
			// convenience wrapper that runs every individual check.
			printCombinedCheckReport(ctx)
		}
		return nil
	},
}

var (
	nodeCheckArchiveReady  bool
	nodeCheckReplConn      bool
	nodeCheckRemoteID      int
	nodeCheckDataDirCfg    bool
	nodeCheckReplConfOwner bool
	nodeCheckDbConnection  bool
	nodeCheckOptFormat     bool
)

var nodeServiceAction string
var nodeServiceCheckpoint bool

var nodeServiceCmd = &cobra.Command{
	Use:   "service",
	Short: "Start, stop, restart, or reload the local database via its service-control wrapper",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir := flagDataDir
		if dataDir == "" {
			dataDir = cfg.DataDirectory
		}
		if dataDir == "" {
			return fmt.Errorf("node service requires -D/--pgdata")
		}

		switch nodeServiceAction {
		case "stop":
			if nodeServiceCheckpoint {
				checkpointBeforeStop(cmd.Context())
			}
			return runServiceControl(cmd.Context(), dataDir, "stop", "-m", "fast")
		case "start":
			return runServiceControl(cmd.Context(), dataDir, "start")
		case "restart":
			return runServiceControl(cmd.Context(), dataDir, "restart", "-m", "fast")
		case "reload":
			return runServiceControl(cmd.Context(), dataDir, "reload")
		default:
			return fmt.Errorf("node service requires --action=start|stop|restart|reload")
		}
	},
}

var nodeRejoinConfigFiles []string

var nodeRejoinCmd = &cobra.Command{
	Use:   "rejoin",
	Short: "Reattach this node as a standby of the conninfo given with -d, optionally rewinding first",
	Long: `Rejoin is the remote side of switchover's REJOIN state (spec.md
§4.9): it points this (just-demoted) node's recovery configuration at
the new primary given by -d, optionally runs the rewind utility first
so a diverged timeline can reattach, and restarts the local database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		newUpstream := flagConnInfo
		if newUpstream == "" {
			return fmt.Errorf("node rejoin requires -d '<new-upstream-conninfo>'")
		}
		dataDir := flagDataDir
		if dataDir == "" {
			dataDir = cfg.DataDirectory
		}
		if dataDir == "" {
			return fmt.Errorf("node rejoin requires -D/--pgdata")
		}

		if cmd.Flags().Changed("force-rewind") {
			rewindBin := flagForceRewind
			if rewindBin == "" {
				rewindBin = "pg_rewind"
			}
			if err := runRewind(cmd.Context(), dataDir, rewindBin, newUpstream, nodeRejoinConfigFiles); err != nil {
				return err
			}
		}

		feat := featuresFromPGVersionFile(dataDir)
		plan, err := recoveryconf.Render(dataDir, feat, recoveryconf.Params{
			NodeName:         cfg.NodeName,
			UpstreamConnInfo: newUpstream,
		})
		if err != nil {
			return err
		}
		if err := recoveryconf.Write(plan, true); err != nil {
			return err
		}

		return runServiceControl(cmd.Context(), dataDir, "restart", "-m", "fast")
	},
}

func init() {
	nodeStatusCmd.Flags().BoolVar(&nodeIsShutdownCleanly, "is-shutdown-cleanly", false, "Report shutdown state and last checkpoint LSN")

	nodeCheckCmd.Flags().BoolVar(&nodeCheckArchiveReady, "archive-ready", false, "Report the archive backlog")
	nodeCheckCmd.Flags().BoolVar(&nodeCheckOptFormat, "optformat", false, "Emit the --key=value report line (always on; kept for CLI compatibility)")
	nodeCheckCmd.Flags().BoolVar(&nodeCheckReplConn, "replication-connection", false, "Verify a replication connection can be made to --remote-node-id")
	nodeCheckCmd.Flags().IntVar(&nodeCheckRemoteID, "remote-node-id", 0, "Target node_id for --replication-connection")
	nodeCheckCmd.Flags().BoolVar(&nodeCheckDataDirCfg, "data-directory-config", false, "Verify the configured data directory matches what is running")
	nodeCheckCmd.Flags().BoolVar(&nodeCheckReplConfOwner, "replication-config-owner", false, "Verify the replication config file is owned by the database user")
	nodeCheckCmd.Flags().BoolVar(&nodeCheckDbConnection, "db-connection", false, "Verify a database connection can be made")

	nodeServiceCmd.Flags().StringVar(&nodeServiceAction, "action", "", "start|stop|restart|reload")
	nodeServiceCmd.Flags().BoolVar(&nodeServiceCheckpoint, "checkpoint", false, "Request a fresh checkpoint before stopping")

	nodeRejoinCmd.Flags().StringSliceVar(&nodeRejoinConfigFiles, "config-files", nil, "Configuration files to preserve across rewind")

	nodeCmd.AddCommand(nodeStatusCmd, nodeCheckCmd, nodeServiceCmd, nodeRejoinCmd)
	rootCmd.AddCommand(nodeCmd)
}

// shutdownReport implements "node status --is-shutdown-cleanly" (spec
// §4.3): a live connection means RUNNING; otherwise pg_controldata's
// "Database cluster state" line distinguishes a clean shutdown from an
// unclean one, and its "Latest checkpoint location" line supplies the
// LSN the switchover state machine's STOP_PRIMARY/WAIT_WAL_FLUSH states
// need (spec §4.9).
func shutdownReport(ctx context.Context) nodecheck.ShutdownReport {
	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = cfg.DataDirectory
	}

	connCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if conn, err := dbconn.Open(connCtx, buildConnInfo("")); err == nil {
		defer conn.Close(ctx)
		var lsn string
		_ = conn.QueryRow(ctx, `SELECT pg_last_wal_replay_lsn()::text`).Scan(&lsn)
		if lsn == "" {
			_ = conn.QueryRow(ctx, `SELECT checkpoint_lsn::text FROM pg_control_checkpoint()`).Scan(&lsn)
		}
		return nodecheck.ShutdownReport{State: nodecheck.StateRunning, LastCheckpointLSN: lsn}
	}

	if dataDir == "" {
		return nodecheck.ShutdownReport{State: nodecheck.StateUnknown}
	}
	out, err := exec.CommandContext(ctx, "pg_controldata", dataDir).CombinedOutput()
	if err != nil {
		return nodecheck.ShutdownReport{State: nodecheck.StateUnknown}
	}
	return parseControlData(string(out))
}

func parseControlData(out string) nodecheck.ShutdownReport {
	report := nodecheck.ShutdownReport{State: nodecheck.StateUnknown}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "Database cluster state:"):
			state := strings.TrimSpace(strings.TrimPrefix(line, "Database cluster state:"))
			report.State = classifyClusterState(state)
		case strings.HasPrefix(line, "Latest checkpoint location:"):
			report.LastCheckpointLSN = strings.TrimSpace(strings.TrimPrefix(line, "Latest checkpoint location:"))
		}
	}
	return report
}

func classifyClusterState(state string) nodecheck.ShutdownState {
	switch state {
	case "shut down", "shut down in recovery":
		return nodecheck.StateShutdown
	case "shutting down":
		return nodecheck.StateShuttingDown
	case "in production", "in archive recovery", "in crash recovery":
		return nodecheck.StateRunning
	case "in crash recovery, shutting down":
		return nodecheck.StateUncleanShutdown
	default:
		return nodecheck.StateUnknown
	}
}

// archiveReadyReport implements "node check --archive-ready --optformat"
// (spec §4.3): counts the WAL segments waiting under
// <pgdata>/pg_wal/archive_status/*.ready against the warning/critical
// thresholds, failing UNKNOWN with --error=DB_CONNECTION if archiving
// cannot even be confirmed enabled.
func archiveReadyReport(ctx context.Context) nodecheck.ArchiveReport {
	connCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	conn, err := dbconn.Open(connCtx, buildConnInfo(""))
	if err != nil {
		return nodecheck.ArchiveReport{Status: nodecheck.StatusUnknown, Error: nodecheck.ErrorDbConnection}
	}
	defer conn.Close(ctx)

	var archiveMode string
	_ = conn.QueryRow(ctx, `SHOW archive_mode`).Scan(&archiveMode)
	if archiveMode == "off" || archiveMode == "" {
		return nodecheck.ArchiveReport{Status: nodecheck.StatusOK, Files: 0, Threshold: cfg.ArchiveReadyWarning}
	}

	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = cfg.DataDirectory
	}
	files, err := filepath.Glob(filepath.Join(dataDir, "pg_wal", "archive_status", "*.ready"))
	if err != nil {
		return nodecheck.ArchiveReport{Status: nodecheck.StatusUnknown, Error: nodecheck.ErrorUnknown}
	}

	n := len(files)
	status := nodecheck.StatusOK
	switch {
	case n >= cfg.ArchiveReadyCritical && cfg.ArchiveReadyCritical > 0:
		status = nodecheck.StatusCritical
	case n >= cfg.ArchiveReadyWarning && cfg.ArchiveReadyWarning > 0:
		status = nodecheck.StatusWarning
	}
	return nodecheck.ArchiveReport{Status: status, Files: n, Threshold: cfg.ArchiveReadyWarning}
}

// replicationConnectionReport implements "node check
// --replication-connection --remote-node-id=<id>" (spec §4.3): can THIS
// node open a replication-mode connection to the named peer, looked up
// through the local catalog replica.
func replicationConnectionReport(ctx context.Context, remoteNodeID int) nodecheck.ConnectionReport {
	gw, pool, err := openGateway(ctx, buildConnInfo(""))
	if err != nil {
		return nodecheck.ConnectionReport{Key: "connection", Status: nodecheck.StatusUnknown}
	}
	defer pool.Close()

	rec, found, err := gw.GetNode(ctx, remoteNodeID)
	if err != nil || !found {
		return nodecheck.ConnectionReport{Key: "connection", Status: nodecheck.StatusUnknown, Error: "CONNINFO_PARSE"}
	}

	params, err := connstring.Parse(rec.ConnInfo)
	if err != nil {
		return nodecheck.ConnectionReport{Key: "connection", Status: nodecheck.StatusUnknown, Error: "CONNINFO_PARSE"}
	}
	params.Set("replication", "database")
	params.Set("dbname", "replication")

	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := dbconn.Open(connCtx, params.Render())
	if err != nil {
		return nodecheck.ConnectionReport{Key: "connection", Status: nodecheck.StatusBad}
	}
	conn.Close(ctx)
	return nodecheck.ConnectionReport{Key: "connection", Status: nodecheck.StatusOK}
}

// dataDirectoryConfigReport implements "node check
// --data-directory-config": does the running database's own
// data_directory GUC match what this node's config file says it is?
func dataDirectoryConfigReport(ctx context.Context) nodecheck.ConnectionReport {
	configured := flagDataDir
	if configured == "" {
		configured = cfg.DataDirectory
	}
	if configured == "" {
		return nodecheck.ConnectionReport{Key: "configured-data-directory", Status: nodecheck.StatusUnknown,
			Error: "no data_directory configured"}
	}

	connCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	conn, err := dbconn.Open(connCtx, buildConnInfo(""))
	if err != nil {
		return nodecheck.ConnectionReport{Key: "configured-data-directory", Status: nodecheck.StatusUnknown,
			Error: "DB_CONNECTION"}
	}
	defer conn.Close(ctx)

	var running string
	if err := conn.QueryRow(ctx, `SHOW data_directory`).Scan(&running); err != nil {
		return nodecheck.ConnectionReport{Key: "configured-data-directory", Status: nodecheck.StatusUnknown}
	}
	if filepath.Clean(running) != filepath.Clean(configured) {
		return nodecheck.ConnectionReport{Key: "configured-data-directory", Status: nodecheck.StatusBad,
			Error: fmt.Sprintf("configured %s, running %s", configured, running)}
	}
	return nodecheck.ConnectionReport{Key: "configured-data-directory", Status: nodecheck.StatusOK}
}

// replicationConfigOwnerReport implements "node check
// --replication-config-owner" (spec §4.3, applies from version 12 on):
// the merged postgresql.auto.conf must be owned by the same OS user
// running this process, or the database will refuse to read it.
func replicationConfigOwnerReport() nodecheck.ConnectionReport {
	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = cfg.DataDirectory
	}
	if dataDir == "" {
		return nodecheck.ConnectionReport{Key: "replication-config-owner", Status: nodecheck.StatusUnknown}
	}

	path := filepath.Join(dataDir, "postgresql.auto.conf")
	info, err := os.Stat(path)
	if err != nil {
		path = filepath.Join(dataDir, "recovery.conf")
		info, err = os.Stat(path)
	}
	if err != nil {
		return nodecheck.ConnectionReport{Key: "replication-config-owner", Status: nodecheck.StatusUnknown}
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nodecheck.ConnectionReport{Key: "replication-config-owner", Status: nodecheck.StatusUnknown}
	}
	if int(stat.Uid) != os.Getuid() {
		owner := strconv.Itoa(int(stat.Uid))
		if u, err := user.LookupId(owner); err == nil {
			owner = u.Username
		}
		return nodecheck.ConnectionReport{Key: "replication-config-owner", Status: nodecheck.StatusBad,
			Error: path + " is owned by " + owner}
	}
	return nodecheck.ConnectionReport{Key: "replication-config-owner", Status: nodecheck.StatusOK}
}

// dbConnectionReport implements "node check --db-connection
// [--superuser=<u>]".
func dbConnectionReport(ctx context.Context, superuser string) nodecheck.ConnectionReport {
	connCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	conn, err := dbconn.Open(connCtx, buildConnInfo(""))
	if err != nil {
		return nodecheck.ConnectionReport{Key: "db-connection", Status: nodecheck.StatusBad}
	}
	defer conn.Close(ctx)

	if superuser != "" {
		var isSuper bool
		if err := conn.QueryRow(ctx,
			`SELECT rolsuper FROM pg_roles WHERE rolname = $1`, superuser).Scan(&isSuper); err != nil || !isSuper {
			return nodecheck.ConnectionReport{Key: "db-connection", Status: nodecheck.StatusBad,
				Error: superuser + " is not a superuser or was not found"}
		}
	}
	return nodecheck.ConnectionReport{Key: "db-connection", Status: nodecheck.StatusOK}
}

// printCombinedCheckReport is SPEC_FULL.md §3's human-facing convenience
// wrapper: "repmgr node check" with no flags runs every individual
// check and prints one line per check, rather than the single
// --key=value line a specific flag emits.
func printCombinedCheckReport(ctx context.Context) {
	fmt.Println("db-connection:", dbConnectionReport(ctx, "").Render())
	fmt.Println("data-directory-config:", dataDirectoryConfigReport(ctx).Render())
	fmt.Println("replication-config-owner:", replicationConfigOwnerReport().Render())
	fmt.Println("archive-ready:", archiveReadyReport(ctx).Render())
}

// checkpointBeforeStop best-effort issues a CHECKPOINT ahead of "node
// service --action=stop --checkpoint" (spec §4.9 STOP_PRIMARY), so the
// subsequent pg_ctl stop has a fresh checkpoint LSN to report through
// "node status --is-shutdown-cleanly". Failure here is not fatal: the
// stop proceeds and reports whatever checkpoint LSN pg_controldata finds.
func checkpointBeforeStop(ctx context.Context) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := dbconn.Open(connCtx, buildConnInfo(""))
	if err != nil {
		logger.Warn().Err(err).Msg("could not open a connection to checkpoint before stopping")
		return
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, `CHECKPOINT`); err != nil {
		logger.Warn().Err(err).Msg("CHECKPOINT failed before stop")
	}
}

// runServiceControl shells out to pg_ctl the same way
// internal/follow.restartOrReload and internal/promote's service-control
// mechanism do, honoring cfg.PgBinDir when set.
func runServiceControl(ctx context.Context, dataDir, action string, extra ...string) error {
	bin := "pg_ctl"
	if cfg.PgBinDir != "" {
		bin = filepath.Join(cfg.PgBinDir, "pg_ctl")
	}
	args := append([]string{"-D", dataDir, "-w", action}, extra...)
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return rmerrors.New(rmerrors.KindInternal, "pg_ctl "+action+" failed").WithDetail(string(out))
	}
	logger.Info().Str("action", action).Msg("service control command completed")
	return nil
}

// runRewind shells out to the rewind utility before REJOIN rewrites the
// recovery configuration (spec §4.9 REJOIN: "optionally runs the rewind
// utility"), preserving any --config-files the promotion candidate's
// PRECHECK enumerated (spec §4.9 PRECHECK: "fetch the list of
// configuration files ... that must be preserved across rewind").
func runRewind(ctx context.Context, dataDir, rewindBin, sourceConnInfo string, preserve []string) error {
	if rewindBin == "" {
		rewindBin = "pg_rewind"
	}
	for _, f := range preserve {
		backupConfigFile(dataDir, f)
	}

	args := []string{"--target-pgdata=" + dataDir, "--source-server=" + sourceConnInfo, "--no-ensure-shutdown"}
	cmd := exec.CommandContext(ctx, rewindBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return rmerrors.New(rmerrors.KindInternal, "pg_rewind failed").WithDetail(string(out))
	}

	for _, f := range preserve {
		restoreConfigFile(dataDir, f)
	}
	logger.Info().Msg("pg_rewind completed")
	return nil
}

func backupConfigFile(dataDir, name string) {
	src := filepath.Join(dataDir, name)
	data, err := os.ReadFile(src)
	if err != nil {
		return
	}
	_ = os.WriteFile(src+".rejoin-bak", data, 0600)
}

func restoreConfigFile(dataDir, name string) {
	src := filepath.Join(dataDir, name)
	bak := src + ".rejoin-bak"
	data, err := os.ReadFile(bak)
	if err != nil {
		return
	}
	_ = os.WriteFile(src, data, 0600)
	_ = os.Remove(bak)
}

// featuresFromPGVersionFile reads <pgdata>/PG_VERSION — a bare major
// version number Postgres itself writes and never rewrites — to build a
// dbconn.Features table without needing a live connection, since REJOIN
// runs against a data directory whose database has just been stopped.
func featuresFromPGVersionFile(dataDir string) dbconn.Features {
	data, err := os.ReadFile(filepath.Join(dataDir, "PG_VERSION"))
	if err != nil {
		return dbconn.For(170000)
	}
	text := strings.TrimSpace(string(data))
	major, minor := 0, 0
	if idx := strings.Index(text, "."); idx >= 0 {
		major, _ = strconv.Atoi(text[:idx])
		minor, _ = strconv.Atoi(text[idx+1:])
	} else {
		major, _ = strconv.Atoi(text)
	}
	if major >= 10 {
		return dbconn.For(major * 10000)
	}
	return dbconn.For(major*10000 + minor*100)
}
