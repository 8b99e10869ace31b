package catalog

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event is one row of the events log table (spec §6 "Persisted state"):
// {node_id, event_type, timestamp, success, details}.
type Event struct {
	NodeID    int
	EventType string
	Timestamp time.Time
	Success   bool
	Details   string
}

// Well-known event types, named so call sites don't sprinkle string
// literals (spec §4.6, §4.8, §4.9).
const (
	EventStandbyClone        = "standby_clone"
	EventStandbyRegister     = "standby_register"
	EventStandbyRegisterSync = "standby_register_sync"
	EventStandbyUnregister   = "standby_unregister"
	EventStandbyPromote      = "standby_promote"
	EventStandbyFollow       = "standby_follow"
	EventStandbySwitchover   = "standby_switchover"
	EventWitnessRegister     = "witness_register"
)

// LogEvent writes an event row. Per spec §7's propagation policy, event
// log writes are best-effort: a failure to write is logged but never
// returned as an operation failure.
func (g *Gateway) LogEvent(ctx context.Context, logger zerolog.Logger, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_, err := g.pool.Exec(ctx,
		`INSERT INTO repmgr.events (node_id, event_type, timestamp, success, details)
		 VALUES ($1,$2,$3,$4,$5)`,
		ev.NodeID, ev.EventType, ev.Timestamp, ev.Success, ev.Details)
	if err != nil {
		logger.Warn().Err(err).Str("event_type", ev.EventType).Msg("failed to write event log row")
	}
}
