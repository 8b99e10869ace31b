package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/config"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/promote"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

var standbyPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote this standby to primary",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID := flagNodeID
		if nodeID == 0 {
			nodeID = cfg.NodeID
		}
		if nodeID == 0 {
			return fmt.Errorf("standby promote requires --node-id")
		}

		gw, pool, err := openGateway(cmd.Context(), buildConnInfo(""))
		if err != nil {
			return err
		}
		defer pool.Close()

		conn, err := dbconn.Open(cmd.Context(), buildConnInfo(""))
		if err != nil {
			return err
		}
		defer conn.Close(cmd.Context())

		var version int
		if err := conn.QueryRow(cmd.Context(), `SHOW server_version_num`).Scan(&version); err != nil {
			return rmerrors.Wrap(rmerrors.KindDbQuery, "read server_version_num", err)
		}
		feat := dbconn.For(version)

		localRec, _, err := gw.GetNode(cmd.Context(), nodeID)
		if err != nil {
			return err
		}
		siblings, err := gw.GetActiveSiblings(cmd.Context(), localRec.UpstreamNodeID, nodeID)
		if err != nil {
			return err
		}

		popts := promote.Options{
			NodeID:                nodeID,
			SiblingsFollow:        flagSiblingsFollow,
			ServiceControlCommand: fmt.Sprintf("pg_ctl promote -D '%s'", cfg.DataDirectory),
			CheckInterval:         config.Seconds(cfg.PromoteCheckInterval),
			CheckTimeout:          config.Seconds(cfg.PromoteCheckTimeout),
			RequiredWALSenders:    len(siblings),
		}

		pre, err := promote.CheckPreconditions(cmd.Context(), conn, feat, popts, nil)
		if err != nil {
			return err
		}
		if !pre.OK() && !flagAlwaysPromote && !flagForce {
			return rmerrors.New(rmerrors.KindPromotion,
				fmt.Sprintf("promotion preconditions not met: %v (use --always-promote or --force)", pre.Failures))
		}
		if flagDryRun {
			logger.Info().Int("node_id", nodeID).Strs("failures", pre.Failures).
				Msg("dry run: preconditions checked, promotion not executed")
			return nil
		}

		promoter := promote.Promoter{Gateway: gw, Logger: logger}
		if err := promoter.Promote(cmd.Context(), conn, feat, popts); err != nil {
			return err
		}

		if flagSiblingsFollow {
			logger.Warn().Int("siblings", len(siblings)).
				Msg("standby promote does not reconfigure sibling standbys; they stay attached to their current upstream")
		}

		logger.Info().Int("node_id", nodeID).Msg("node promoted to primary")
		return nil
	},
}

func init() {
	standbyCmd.AddCommand(standbyPromoteCmd)
}
