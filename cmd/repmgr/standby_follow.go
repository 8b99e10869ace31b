package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/follow"
)

var standbyFollowCmd = &cobra.Command{
	Use:   "follow",
	Short: "Re-point this standby at a new upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID := flagNodeID
		if nodeID == 0 {
			nodeID = cfg.NodeID
		}
		if nodeID == 0 {
			return fmt.Errorf("standby follow requires --node-id")
		}

		gw, pool, err := openGateway(cmd.Context(), buildConnInfo(""))
		if err != nil {
			return err
		}
		defer pool.Close()

		local, found, err := gw.GetNode(cmd.Context(), nodeID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("node %d is not registered", nodeID)
		}

		var newUpstream catalog.NodeRecord
		if flagUpstreamID != 0 {
			newUpstream, found, err = gw.GetNode(cmd.Context(), flagUpstreamID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("upstream node %d is not registered", flagUpstreamID)
			}
		} else {
			primaryID, found, err := gw.GetPrimaryId(cmd.Context())
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no primary registered in catalog")
			}
			newUpstream, _, err = gw.GetNode(cmd.Context(), primaryID)
			if err != nil {
				return err
			}
		}

		localConn, err := dbconn.Open(cmd.Context(), local.ConnInfo)
		if err != nil {
			return err
		}
		defer localConn.Close(cmd.Context())

		newUpstreamConn, err := dbconn.Open(cmd.Context(), newUpstream.ConnInfo)
		if err != nil {
			return err
		}
		defer newUpstreamConn.Close(cmd.Context())

		var oldUpstreamConn dbconn.DbConn
		if local.UpstreamNodeID != catalog.NoUpstream && local.UpstreamNodeID != newUpstream.NodeID {
			oldRec, found, err := gw.GetNode(cmd.Context(), local.UpstreamNodeID)
			if err == nil && found {
				if c, err := dbconn.Open(cmd.Context(), oldRec.ConnInfo); err == nil {
					oldUpstreamConn = c
					defer oldUpstreamConn.Close(cmd.Context())
				} else {
					logger.Warn().Err(err).Msg("previous upstream unreachable, its slot will need manual cleanup")
				}
			}
		}

		opts := follow.Options{
			NodeID:              nodeID,
			NodeName:            cfg.NodeName,
			DataDirectory:       flagDataDir,
			UseReplicationSlots: cfg.UseReplicationSlots,
			RestartCommand:      fmt.Sprintf("pg_ctl restart -D '%s'", flagDataDir),
			DryRun:              flagDryRun,
			Force:               flagForce,
		}
		if opts.DataDirectory == "" {
			opts.DataDirectory = cfg.DataDirectory
		}

		follower := follow.Follower{Gateway: gw, Logger: logger}
		if err := follower.Follow(cmd.Context(), localConn, newUpstreamConn, oldUpstreamConn, newUpstream, opts); err != nil {
			return err
		}
		logger.Info().Int("node_id", nodeID).Str("new_upstream", newUpstream.NodeName).Msg("now following new upstream")
		return nil
	},
}

func init() {
	standbyCmd.AddCommand(standbyFollowCmd)
}
