// Command repmgr is a PostgreSQL streaming-replication cluster
// orchestrator: clone, register, promote, follow, and switchover against
// a catalog of cluster metadata (spec.md §2-§8).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/config"
	"github.com/repmgr-go/repmgr/internal/connstring"
	"github.com/repmgr-go/repmgr/internal/exitcode"
	"github.com/repmgr-go/repmgr/internal/rmlog"
	"github.com/repmgr-go/repmgr/internal/sshtransport"
)

// Global flags, bound directly to package-level vars in the teacher's
// root.go style; cfg starts from config.Defaults() and is overlaid by
// -f's config file, then by whichever of these flags the user set.
var (
	cfg    config.Config
	logger zerolog.Logger

	flagConfigFile  string
	flagDataDir     string
	flagConnInfo    string
	flagHost        string
	flagPort        int
	flagUser        string
	flagRemoteUser  string
	flagSuperuser   string
	flagForce       bool
	flagDryRun      bool
	flagLogLevel    string
	flagNodeID      int
	flagUpstreamID  int
	flagUpstreamDSN string
	flagNoUpstream  bool
	flagReplUser    string
	flagCopyExtCfg  string
	flagFastCkpt    bool
	flagVerifyBkup  bool
	flagNoBarman    bool
	flagRecoveryOnly bool
	flagSiblingsFollow      bool
	flagAlwaysPromote       bool
	flagForceRewind         string
	flagWait                bool
	flagWaitStart           int
	flagWaitSync            string
	flagRepmgrdNoPause      bool
	flagRepmgrdForceUnpause bool
)

var rootCmd = &cobra.Command{
	Use:           "repmgr",
	Short:         "PostgreSQL replication cluster manager",
	Long:          `repmgr clones, registers, promotes, and switches over standbys in a streaming-replication cluster.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(flagConfigFile)
		if err != nil {
			return err
		}
		cfg = loaded
		applyFlagOverrides(cmd)

		level := flagLogLevel
		if level == "" {
			level = "info"
		}
		logger = rmlog.New("console", level, os.Stderr)
		return nil
	},
}

// applyFlagOverrides layers explicit CLI flags over the config file,
// mirroring copyExplicitFlags/applyExplicitFlags in the teacher's
// root.go: only flags the user actually set take precedence.
func applyFlagOverrides(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("node-id") {
		cfg.NodeID = flagNodeID
	}
	if f.Changed("conninfo") {
		cfg.ConnInfo = flagConnInfo
	}
	if f.Changed("pgdata") {
		cfg.DataDirectory = flagDataDir
	}
	if f.Changed("replication-user") {
		cfg.ReplUser = flagReplUser
	}
	if f.Changed("remote-user") {
		cfg.RemoteUser = flagRemoteUser
	}
}

func init() {
	f := rootCmd.PersistentFlags()

	f.StringVarP(&flagConfigFile, "config-file", "f", "", "Path to the repmgr configuration file")
	f.StringVarP(&flagDataDir, "pgdata", "D", "", "PostgreSQL data directory")
	f.StringVarP(&flagConnInfo, "conninfo", "d", "", "Local node connection string")
	f.StringVarP(&flagHost, "host", "h", "", "Database host")
	f.IntVarP(&flagPort, "port", "p", 5432, "Database port")
	f.StringVarP(&flagUser, "username", "U", "", "Database user")
	f.StringVarP(&flagRemoteUser, "remote-user", "R", "", "SSH user for remote node operations")
	f.StringVarP(&flagSuperuser, "superuser", "S", "", "Superuser to check for on the remote node")
	f.BoolVarP(&flagForce, "force", "F", false, "Proceed past recoverable precondition failures")
	f.BoolVar(&flagDryRun, "dry-run", false, "Report what would happen without changing any state")
	f.StringVarP(&flagLogLevel, "log-level", "L", "info", "Log level (debug, info, warn, error)")
	f.IntVar(&flagNodeID, "node-id", 0, "This node's catalog node_id")
	f.IntVar(&flagUpstreamID, "upstream-node-id", 0, "Upstream node's catalog node_id (0 = current primary)")
	f.StringVar(&flagUpstreamDSN, "upstream-conninfo", "", "Upstream connection string, for placeholder registration")
	f.BoolVar(&flagNoUpstream, "no-upstream-connection", false, "Skip verifying the upstream connection")
	f.StringVar(&flagReplUser, "replication-user", "", "Replication role used in recovery configuration")
	f.StringVar(&flagCopyExtCfg, "copy-external-config-files", "", "Copy config files outside pgdata (samepath|pgdata)")
	f.Lookup("copy-external-config-files").NoOptDefVal = "samepath"
	f.BoolVar(&flagFastCkpt, "fast-checkpoint", false, "Request a fast checkpoint from the clone source")
	f.BoolVar(&flagVerifyBkup, "verify-backup", false, "Verify the backup after cloning")
	f.BoolVar(&flagNoBarman, "without-barman", false, "Do not use a configured backup catalog for cloning")
	f.BoolVar(&flagRecoveryOnly, "replication-conf-only", false, "Only (re)write the recovery configuration")
	f.BoolVar(&flagRecoveryOnly, "recovery-conf-only", false, "Alias of --replication-conf-only")
	f.BoolVar(&flagSiblingsFollow, "siblings-follow", false, "Re-point sibling standbys at the new primary")
	f.BoolVar(&flagAlwaysPromote, "always-promote", false, "Promote even if the LSN monotonicity gate has not been met")
	f.StringVar(&flagForceRewind, "force-rewind", "", "Use pg_rewind (optionally at this path) to reattach the demoted primary")
	f.Lookup("force-rewind").NoOptDefVal = "pg_rewind"
	f.BoolVar(&flagWait, "wait", false, "Wait for the expected condition instead of failing immediately")
	f.IntVar(&flagWaitStart, "wait-start", 0, "Seconds to wait for the local node to start")
	f.StringVar(&flagWaitSync, "wait-sync", "", "Wait for the catalog row to synchronise (optional seconds)")
	f.Lookup("wait-sync").NoOptDefVal = "30"
	f.BoolVar(&flagRepmgrdNoPause, "repmgrd-no-pause", false, "Do not pause failover daemons during switchover")
	f.BoolVar(&flagRepmgrdForceUnpause, "repmgrd-force-unpause", false, "Unpause daemons that were already paused before switchover")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rmlog.Event(logger, err)
		os.Exit(exitcode.ForErr(err))
	}
}

// openGateway dials the primary's catalog connection and wraps it in a
// Gateway. conninfo defaults to cfg.ConnInfo when empty.
func openGateway(ctx context.Context, conninfo string) (*catalog.Gateway, *pgxpool.Pool, error) {
	if conninfo == "" {
		conninfo = cfg.ConnInfo
	}
	pool, err := pgxpool.New(ctx, conninfo)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to catalog: %w", err)
	}
	return catalog.NewGateway(pool), pool, nil
}

func sshOpts() sshtransport.Options {
	opts := sshtransport.Options{}
	if cfg.SSHOptions != "" {
		opts.KeyPath = cfg.SSHOptions
	}
	return opts
}

func remoteUser() string {
	if flagRemoteUser != "" {
		return flagRemoteUser
	}
	return cfg.RemoteUser
}

// buildConnInfo renders a conninfo string from -h/-p/-U when -d was not
// given explicitly, defaulting dbname to "repmgr" the way the catalog's
// own tables are expected to live (spec §3).
func buildConnInfo(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if flagHost == "" {
		return cfg.ConnInfo
	}
	p := connstring.New()
	p.Set("host", flagHost)
	if flagPort != 0 {
		p.Set("port", strconv.Itoa(flagPort))
	}
	if flagUser != "" {
		p.Set("user", flagUser)
	}
	p.Set("dbname", "repmgr")
	return p.Render()
}

func waitSyncSeconds() int {
	if flagWaitSync == "" {
		return 0
	}
	n := 0
	for _, c := range flagWaitSync {
		if c < '0' || c > '9' {
			return cfg.WaitRegisterSync
		}
		n = n*10 + int(c-'0')
	}
	return n
}
