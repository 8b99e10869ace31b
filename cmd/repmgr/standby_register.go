package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/config"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/register"
)

var standbyRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Add or update this standby's row in the cluster metadata catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.NodeID == 0 {
			return fmt.Errorf("standby register requires --node-id (or node_id in the config file)")
		}

		gw, pool, err := openGateway(cmd.Context(), buildConnInfo(""))
		if err != nil {
			return err
		}
		defer pool.Close()

		rec := catalog.NodeRecord{
			NodeID:         cfg.NodeID,
			NodeName:       cfg.NodeName,
			Type:           catalog.Standby,
			UpstreamNodeID: flagUpstreamID,
			ConnInfo:       buildConnInfo(""),
			ReplUser:       cfg.ReplUser,
			DataDirectory:  flagDataDir,
			Priority:       cfg.Priority,
			Location:       cfg.Location,
			Active:         true,
		}
		if rec.DataDirectory == "" {
			rec.DataDirectory = cfg.DataDirectory
		}
		if rec.UpstreamNodeID != catalog.NoUpstream {
			rec.SlotName = catalog.SlotNameForNode(cfg.NodeID)
		}

		opts := register.Options{
			Record:            rec,
			Force:             flagForce,
			WaitSync:          cmd.Flags().Changed("wait-sync"),
			WaitSyncTimeout:   config.Seconds(waitSyncSeconds()),
			WaitSyncInterval:  config.Seconds(1),
			UpstreamReachable: !flagNoUpstream,
			LocalReachable:    true,
		}

		var localConn, upstreamConn dbconn.DbConn
		if !flagNoUpstream {
			localConn, err = dbconn.Open(cmd.Context(), rec.ConnInfo)
			if err != nil {
				return err
			}
			defer localConn.Close(cmd.Context())

			upstreamConnInfo := flagUpstreamDSN
			if upstreamConnInfo == "" && rec.UpstreamNodeID != catalog.NoUpstream {
				upstreamRec, found, err := gw.GetNode(cmd.Context(), rec.UpstreamNodeID)
				if err == nil && found {
					upstreamConnInfo = upstreamRec.ConnInfo
				}
			}
			if upstreamConnInfo != "" {
				upstreamConn, err = dbconn.Open(cmd.Context(), upstreamConnInfo)
				if err != nil {
					return err
				}
				defer upstreamConn.Close(cmd.Context())
			}
		}

		registrar := register.Registrar{Gateway: gw, Logger: logger}
		if err := registrar.Register(cmd.Context(), opts, localConn, upstreamConn); err != nil {
			return err
		}
		logger.Info().Int("node_id", rec.NodeID).Msg("standby registered")
		return nil
	},
}

func init() {
	standbyCmd.AddCommand(standbyRegisterCmd)
}
