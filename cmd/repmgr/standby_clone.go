package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/clone"
	"github.com/repmgr-go/repmgr/internal/rmlog"
	"github.com/repmgr-go/repmgr/internal/tui"
)

var cloneTUI bool

var standbyCloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Copy an upstream node's data directory to create a new standby",
	Long: `Clone produces a byte-identical copy of an upstream node's data
directory, either by streaming directly from the upstream with the
database's own base-backup utility or, with --without-barman unset and
a backup catalog configured, by reconstructing from that catalog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDataDir == "" {
			return fmt.Errorf("standby clone requires -D/--pgdata")
		}

		gw, pool, err := openGateway(cmd.Context(), buildConnInfo(""))
		if err != nil {
			return err
		}
		defer pool.Close()

		mode := clone.ModeDirect
		if cfg.BackupCatalogCmd != "" && !flagNoBarman {
			mode = clone.ModeCatalogBackup
		}

		opts := clone.Options{
			Mode:                mode,
			DataDirectory:       flagDataDir,
			Force:               flagForce,
			DryRun:              flagDryRun,
			NodeID:              cfg.NodeID,
			NodeName:            cfg.NodeName,
			SourceConnInfo:      buildConnInfo(""),
			UpstreamNodeID:      flagUpstreamID,
			ReplUser:            cfg.ReplUser,
			UseReplicationSlots: cfg.UseReplicationSlots,
			FastCheckpoint:      flagFastCkpt,
			TablespaceMapping:   cfg.TablespaceMapping,
			BackupCatalogCmd:    cfg.BackupCatalogCmd,
		}

		if cloneTUI {
			sink := tui.NewSink()
			runLogger := rmlog.WithSink(logger, os.Stderr, sink)
			phase := &tui.Phase{Name: "cloning", Started: time.Now()}

			runner := clone.Runner{Gateway: gw, Logger: runLogger}
			resultCh := make(chan clone.Result, 1)
			errCh := make(chan error, 1)
			go func() {
				res, err := runner.Run(cmd.Context(), opts)
				phase.Err = err
				phase.Done = true
				resultCh <- res
				errCh <- err
			}()

			if err := tui.Run("standby clone", sink, phase); err != nil {
				return err
			}
			if err := <-errCh; err != nil {
				return err
			}
			res := <-resultCh
			logger.Info().Int("upstream_node_id", res.UpstreamNodeID).
				Str("slot", res.SlotCreated).Msg("clone finished")
			return nil
		}

		runner := clone.Runner{Gateway: gw, Logger: logger}
		res, err := runner.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}
		logger.Info().Int("upstream_node_id", res.UpstreamNodeID).
			Str("slot", res.SlotCreated).Msg("clone finished")
		return nil
	},
}

func init() {
	standbyCloneCmd.Flags().BoolVar(&cloneTUI, "tui", false, "Show terminal dashboard while cloning")
	standbyCmd.AddCommand(standbyCloneCmd)
}
