// Package catalog implements the Catalog Gateway (spec §4.2): typed
// reads and writes of the cluster-wide metadata tables that live on the
// primary, plus the handful of direct-to-node queries (recovery type,
// replication info, system identification, downstream attachment) that
// every higher component needs to inspect a specific connection.
package catalog

import (
	"strconv"
	"time"

	"github.com/jackc/pglogrepl"
)

// NodeType is one of the three roles a catalog row can hold (spec §3).
type NodeType string

const (
	Primary NodeType = "primary"
	Standby NodeType = "standby"
	Witness NodeType = "witness"
)

// RecoveryType is what GetRecoveryType reports for a live connection.
type RecoveryType string

const (
	RecoveryPrimary RecoveryType = "primary"
	RecoveryStandby RecoveryType = "standby"
	RecoveryUnknown RecoveryType = "unknown"
)

// AttachState is what IsDownstreamAttached reports.
type AttachState string

const (
	Attached    AttachState = "attached"
	NotAttached AttachState = "not_attached"
	AttachUnknown AttachState = "unknown"
)

// ShutdownState is one of the states the Node-Check Protocol's
// --is-shutdown-cleanly check can report (spec §4.3).
type ShutdownState string

const (
	Running         ShutdownState = "running"
	ShuttingDown    ShutdownState = "shutting_down"
	ShutdownClean   ShutdownState = "shutdown_clean"
	ShutdownUnclean ShutdownState = "shutdown_unclean"
	ShutdownUnknown ShutdownState = "unknown"
)

// NoUpstream is the sentinel upstream_node_id value for a primary (or a
// standby whose upstream has not yet been established), spelled UNKNOWN
// in spec.md §3's lifecycle description.
const NoUpstream = 0

// NodeRecord is the persistent identity of a database server in the
// cluster, one row per node in the catalog (spec §3).
type NodeRecord struct {
	NodeID          int
	NodeName        string
	Type            NodeType
	UpstreamNodeID  int // NoUpstream if none
	ConnInfo        string
	ReplUser        string
	SlotName        string
	ConfigFile      string
	DataDirectory   string
	Priority        int
	Location        string
	Active          bool
}

// SlotNameForNode is the convention every active standby's slot name
// follows when replication slots are enabled (spec §3 invariants).
func SlotNameForNode(nodeID int) string {
	return "repmgr_slot_" + strconv.Itoa(nodeID)
}

// ReplicationSlot is a transient row from pg_replication_slots.
type ReplicationSlot struct {
	SlotName string
	Active   bool
	NodeID   int // inferred from the repmgr_slot_<node_id> convention, 0 if not inferable
}

// ReplicationInfo is an instantaneous snapshot of a standby's WAL
// position, queried from pg_stat_wal_receiver (spec §3).
type ReplicationInfo struct {
	LastWALReceiveLSN    pglogrepl.LSN
	LastWALReplayLSN     pglogrepl.LSN
	LastWALFlushLSN      pglogrepl.LSN
	ReceivingStreamedWAL bool
	UpstreamLastSeen     time.Duration
}

// SystemIdentification is the database cluster's immutable identity.
type SystemIdentification struct {
	SystemIdentifier uint64
	TimelineID       uint32
}

// CheckpointRecord is returned by the Node-Check Protocol's
// --is-shutdown-cleanly report (spec §4.3).
type CheckpointRecord struct {
	LastCheckpointLSN pglogrepl.LSN
	ShutdownState     ShutdownState
}

// Equal reports whether two NodeRecords agree on every catalog field
// except config_file and data_directory, which are host-local paths and
// are not compared — the comparison the Registration Subsystem's --wait-sync loop
// performs against the primary's row (spec §4.6, §8 "Record round-trip").
func (n NodeRecord) Equal(o NodeRecord) bool {
	return n.NodeID == o.NodeID &&
		n.NodeName == o.NodeName &&
		n.Type == o.Type &&
		n.UpstreamNodeID == o.UpstreamNodeID &&
		n.ConnInfo == o.ConnInfo &&
		n.ReplUser == o.ReplUser &&
		n.SlotName == o.SlotName &&
		n.Priority == o.Priority &&
		n.Location == o.Location &&
		n.Active == o.Active
}
