package catalog

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// GetSlot looks up a replication slot's transient state on conn.
func GetSlot(ctx context.Context, conn dbconn.DbConn, name string) (ReplicationSlot, bool, error) {
	var slot ReplicationSlot
	row := conn.QueryRow(ctx,
		`SELECT slot_name, active FROM pg_replication_slots WHERE slot_name = $1`, name)
	if err := row.Scan(&slot.SlotName, &slot.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReplicationSlot{}, false, nil
		}
		return ReplicationSlot{}, false, rmerrors.Wrap(rmerrors.KindDbQuery, "get replication slot", err)
	}
	slot.NodeID = nodeIDFromSlotName(name)
	return slot, true, nil
}

func nodeIDFromSlotName(name string) int {
	const prefix = "repmgr_slot_"
	if !strings.HasPrefix(name, prefix) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return 0
	}
	return n
}

// CreateReplicationSlot creates a physical replication slot named name
// on upstreamConn if it does not already exist. Idempotent: calling it
// twice for the same name on the same upstream returns success both
// times with the slot created exactly once (spec §8 "Idempotent slot
// creation").
func CreateReplicationSlot(ctx context.Context, upstreamConn dbconn.DbConn, name string) error {
	existing, ok, err := GetSlot(ctx, upstreamConn, name)
	if err != nil {
		return err
	}
	if ok {
		_ = existing
		return nil
	}
	_, err = upstreamConn.Exec(ctx, `SELECT pg_create_physical_replication_slot($1)`, name)
	if err != nil {
		// A concurrent creator winning the race is not a failure.
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return rmerrors.Wrap(rmerrors.KindDbQuery, "create replication slot "+name, err)
	}
	return nil
}

// DropReplicationSlot drops a slot if present; dropping an already-gone
// slot is not an error.
func DropReplicationSlot(ctx context.Context, conn dbconn.DbConn, name string) error {
	_, ok, err := GetSlot(ctx, conn, name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_, err = conn.Exec(ctx, `SELECT pg_drop_replication_slot($1)`, name)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil
		}
		return rmerrors.Wrap(rmerrors.KindDbQuery, "drop replication slot "+name, err)
	}
	return nil
}
