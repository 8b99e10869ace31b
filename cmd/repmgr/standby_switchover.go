package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/config"
	"github.com/repmgr-go/repmgr/internal/connstring"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/promote"
	"github.com/repmgr-go/repmgr/internal/rmlog"
	"github.com/repmgr-go/repmgr/internal/switchover"
	"github.com/repmgr-go/repmgr/internal/tui"
)

var (
	switchoverTUI         bool
	switchoverConfigFiles []string
)

var standbySwitchoverCmd = &cobra.Command{
	Use:   "switchover",
	Short: "Promote this standby and demote the current primary",
	Long: `Switchover runs the full role-swap state machine on this standby:
it pauses failover daemons, stops the primary, waits for this node's WAL
to catch up, promotes it, rejoins the demoted primary as a standby, and
re-points sibling standbys at the new primary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID := flagNodeID
		if nodeID == 0 {
			nodeID = cfg.NodeID
		}
		if nodeID == 0 {
			return fmt.Errorf("standby switchover requires --node-id")
		}

		gw, pool, err := openGateway(cmd.Context(), buildConnInfo(""))
		if err != nil {
			return err
		}
		defer pool.Close()

		primaryID, found, err := gw.GetPrimaryId(cmd.Context())
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no primary registered in catalog")
		}
		primary, _, err := gw.GetNode(cmd.Context(), primaryID)
		if err != nil {
			return err
		}

		// Only this node's own repmgrd address is known here. Every other
		// active node has no entry, so PAUSE_DAEMONS treats its daemon as
		// unreachable: a warning with --force, an abort otherwise.
		primaryHost := ""
		if params, err := connstring.Parse(primary.ConnInfo); err == nil {
			primaryHost, _ = params.Get("host")
		}

		daemonAddrs := map[int]string{}
		if cfg.RepmgrdRPCAddr != "" {
			daemonAddrs[nodeID] = cfg.RepmgrdRPCAddr
		}

		opts := switchover.Options{
			NodeID:                  nodeID,
			NodeName:                cfg.NodeName,
			LocalConnInfo:           buildConnInfo(""),
			DataDirectory:           flagDataDir,
			ReplUser:                cfg.ReplUser,
			PrimaryHost:             primaryHost,
			PrimarySSHUser:          remoteUser(),
			PrimaryNodeID:           primary.NodeID,
			Force:                   flagForce,
			AlwaysPromote:           flagAlwaysPromote,
			SiblingsFollow:          flagSiblingsFollow,
			RepmgrdNoPause:          flagRepmgrdNoPause,
			RepmgrdForceUnpause:     flagRepmgrdForceUnpause,
			ForceRewind:             flagForceRewind != "",
			RewindPath:              flagForceRewind,
			ConfigFiles:             switchoverConfigFiles,
			DaemonAddrs:             daemonAddrs,
			ShutdownCheckTimeout:    config.Seconds(cfg.ShutdownCheckTimeout),
			WALReceiveCheckTimeout:  config.Seconds(cfg.WalReceiveCheckTimeout),
			PromoteCheckInterval:    config.Seconds(cfg.PromoteCheckInterval),
			PromoteCheckTimeout:     config.Seconds(cfg.PromoteCheckTimeout),
			StandbyReconnectTimeout: config.Seconds(cfg.StandbyReconnectTimeout),
			ReplicationLagWarning:   config.Seconds(cfg.ReplicationLagWarning),
			ReplicationLagCritical:  config.Seconds(cfg.ReplicationLagCritical),
			ArchiveReadyWarning:     cfg.ArchiveReadyWarning,
			ArchiveReadyCritical:    cfg.ArchiveReadyCritical,
			SSHOpts:                 sshOpts(),
		}
		if opts.DataDirectory == "" {
			opts.DataDirectory = cfg.DataDirectory
		}

		localConn, err := dbconn.Open(cmd.Context(), opts.LocalConnInfo)
		if err != nil {
			return err
		}
		defer localConn.Close(cmd.Context())

		runLogger := logger
		var sink *tui.Sink
		var phase *tui.Phase
		if switchoverTUI {
			sink = tui.NewSink()
			runLogger = rmlog.WithSink(logger, os.Stderr, sink)
			phase = &tui.Phase{Name: "switchover", Started: time.Now()}
		}

		machine := switchover.Machine{
			Gateway:  gw,
			Logger:   runLogger,
			Promoter: promote.Promoter{Gateway: gw, Logger: runLogger},
		}

		var result switchover.Result
		var runErr error
		if switchoverTUI {
			resultCh := make(chan switchover.Result, 1)
			errCh := make(chan error, 1)
			go func() {
				res, err := machine.Run(cmd.Context(), opts, localConn)
				phase.Err = err
				phase.Done = true
				resultCh <- res
				errCh <- err
			}()
			if err := tui.Run("standby switchover", sink, phase); err != nil {
				return err
			}
			result = <-resultCh
			runErr = <-errCh
		} else {
			result, runErr = machine.Run(cmd.Context(), opts, localConn)
		}

		for _, w := range result.Warnings {
			logger.Warn().Msg(w)
		}
		logger.Info().Str("final_state", string(result.FinalState)).Str("outcome", string(result.Outcome)).
			Msg("switchover finished")
		return runErr
	},
}

func init() {
	standbySwitchoverCmd.Flags().BoolVar(&switchoverTUI, "tui", false, "Show terminal dashboard during switchover")
	standbySwitchoverCmd.Flags().StringSliceVar(&switchoverConfigFiles, "config-files", nil,
		"Extra configuration files the rewind utility must preserve on the demoted primary")
	standbyCmd.AddCommand(standbySwitchoverCmd)
}
