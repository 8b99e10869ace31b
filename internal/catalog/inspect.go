package catalog

import (
	"context"
	"time"

	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// GetRecoveryType reports whether conn's node is currently a primary or
// a standby, via pg_is_in_recovery().
func GetRecoveryType(ctx context.Context, conn dbconn.DbConn) (RecoveryType, error) {
	var inRecovery bool
	if err := conn.QueryRow(ctx, `SELECT pg_is_in_recovery()`).Scan(&inRecovery); err != nil {
		return RecoveryUnknown, rmerrors.Wrap(rmerrors.KindDbQuery, "get recovery type", err)
	}
	if inRecovery {
		return RecoveryStandby, nil
	}
	return RecoveryPrimary, nil
}

// GetSystemIdentification reads the cluster's immutable system
// identifier and current timeline, used to reject a witness (or any
// foreign cluster) as a clone source by comparing identifiers across
// members (spec §4.5 step 2).
func GetSystemIdentification(ctx context.Context, conn dbconn.DbConn) (SystemIdentification, error) {
	var si SystemIdentification
	err := conn.QueryRow(ctx,
		`SELECT system_identifier, timeline_id FROM pg_control_system(), pg_control_checkpoint()`,
	).Scan(&si.SystemIdentifier, &si.TimelineID)
	if err != nil {
		return SystemIdentification{}, rmerrors.Wrap(rmerrors.KindDbQuery, "get system identification", err)
	}
	return si, nil
}

// GetReplicationInfo reads the calling (standby) node's own WAL receipt
// progress — the LSNs and staleness the switchover state machine polls
// during WAIT_WAL_FLUSH and VERIFY (spec §3, §4.9).
func GetReplicationInfo(ctx context.Context, conn dbconn.DbConn, role RecoveryType) (ReplicationInfo, error) {
	var info ReplicationInfo
	if role != RecoveryStandby {
		return info, nil
	}

	var lastSeenSecs int
	err := conn.QueryRow(ctx, `
		SELECT
			COALESCE(pg_last_wal_receive_lsn(), '0/0'),
			COALESCE(pg_last_wal_replay_lsn(), '0/0'),
			COALESCE((SELECT flushed_lsn FROM pg_stat_wal_receiver), '0/0'),
			COALESCE((SELECT status = 'streaming' FROM pg_stat_wal_receiver), false),
			COALESCE((SELECT EXTRACT(EPOCH FROM (now() - last_msg_receipt_time))::int
				FROM pg_stat_wal_receiver), -1)
	`).Scan(&info.LastWALReceiveLSN, &info.LastWALReplayLSN, &info.LastWALFlushLSN,
		&info.ReceivingStreamedWAL, &lastSeenSecs)
	if err != nil {
		return ReplicationInfo{}, rmerrors.Wrap(rmerrors.KindDbQuery, "get replication info", err)
	}
	if lastSeenSecs >= 0 {
		info.UpstreamLastSeen = time.Duration(lastSeenSecs) * time.Second
	}
	return info, nil
}

// IsDownstreamAttached inspects pg_stat_replication on conn (expected to
// be a connection to the upstream) for a currently-connected standby
// whose application_name matches appName (spec §4.2, §4.6, §4.9 VERIFY).
func IsDownstreamAttached(ctx context.Context, conn dbconn.DbConn, appName string) (AttachState, error) {
	var count int
	err := conn.QueryRow(ctx,
		`SELECT count(*) FROM pg_stat_replication WHERE application_name = $1`, appName).Scan(&count)
	if err != nil {
		return AttachUnknown, rmerrors.Wrap(rmerrors.KindDbQuery, "check downstream attachment", err)
	}
	if count > 0 {
		return Attached, nil
	}
	return NotAttached, nil
}
