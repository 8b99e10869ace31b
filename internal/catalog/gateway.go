package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// Gateway is the typed read/write surface over the cluster metadata
// tables, backed by a pool reaching the node the catalog is currently
// authoritative on (the primary before a switchover, spec §3).
type Gateway struct {
	pool *pgxpool.Pool
}

// NewGateway wraps an already-opened pool.
func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

const nodeColumns = `node_id, node_name, type, upstream_node_id, conninfo, repluser,
	slot_name, config_file, data_directory, priority, location, active`

func scanNode(row interface{ Scan(...any) error }) (NodeRecord, error) {
	var n NodeRecord
	var typ string
	if err := row.Scan(&n.NodeID, &n.NodeName, &typ, &n.UpstreamNodeID, &n.ConnInfo,
		&n.ReplUser, &n.SlotName, &n.ConfigFile, &n.DataDirectory, &n.Priority,
		&n.Location, &n.Active); err != nil {
		return NodeRecord{}, err
	}
	n.Type = NodeType(typ)
	return n, nil
}

// GetNode returns FOUND/NOT_FOUND/ERROR as (rec, true, nil) / (zero,
// false, nil) / (zero, false, err).
func (g *Gateway) GetNode(ctx context.Context, id int) (NodeRecord, bool, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM repmgr.nodes WHERE node_id = $1`, id)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NodeRecord{}, false, nil
		}
		return NodeRecord{}, false, rmerrors.Wrap(rmerrors.KindDbQuery, "get node", err)
	}
	return n, true, nil
}

// GetNodeByName looks up a node by its cluster-unique name.
func (g *Gateway) GetNodeByName(ctx context.Context, name string) (NodeRecord, bool, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM repmgr.nodes WHERE node_name = $1`, name)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NodeRecord{}, false, nil
		}
		return NodeRecord{}, false, rmerrors.Wrap(rmerrors.KindDbQuery, "get node by name", err)
	}
	return n, true, nil
}

// GetPrimaryId returns the node_id of the single active primary.
func (g *Gateway) GetPrimaryId(ctx context.Context) (int, bool, error) {
	var id int
	err := g.pool.QueryRow(ctx,
		`SELECT node_id FROM repmgr.nodes WHERE type = 'primary' AND active = true`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, rmerrors.Wrap(rmerrors.KindDbQuery, "get primary id", err)
	}
	return id, true, nil
}

// GetAllNodes returns every row, ascending node_id, regardless of
// active flag (cluster-wide queries that must skip inactive rows do so
// explicitly, per spec §3).
func (g *Gateway) GetAllNodes(ctx context.Context) ([]NodeRecord, error) {
	rows, err := g.pool.Query(ctx, `SELECT `+nodeColumns+` FROM repmgr.nodes ORDER BY node_id`)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindDbQuery, "get all nodes", err)
	}
	defer rows.Close()
	var out []NodeRecord
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, rmerrors.Wrap(rmerrors.KindDbQuery, "scan node row", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetActiveSiblings returns every other active node replicating from
// ofNodeID, excluding excludingID (itself, typically) — the set the
// Sibling Reconfiguration step iterates (spec §4.10).
func (g *Gateway) GetActiveSiblings(ctx context.Context, ofNodeID, excludingID int) ([]NodeRecord, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT `+nodeColumns+` FROM repmgr.nodes
		 WHERE upstream_node_id = $1 AND node_id != $2 AND active = true
		 ORDER BY node_id`, ofNodeID, excludingID)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindDbQuery, "get active siblings", err)
	}
	defer rows.Close()
	var out []NodeRecord
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, rmerrors.Wrap(rmerrors.KindDbQuery, "scan sibling row", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CreateNode inserts a new row. Conflicts on node_id are reported as
// DbQueryError; callers enforce the force/placeholder policy (spec §4.6)
// before calling this.
func (g *Gateway) CreateNode(ctx context.Context, n NodeRecord) error {
	_, err := g.pool.Exec(ctx,
		`INSERT INTO repmgr.nodes (`+nodeColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		n.NodeID, n.NodeName, string(n.Type), n.UpstreamNodeID, n.ConnInfo, n.ReplUser,
		n.SlotName, n.ConfigFile, n.DataDirectory, n.Priority, n.Location, n.Active)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindDbQuery, "create node", err)
	}
	return nil
}

// UpdateNode replaces every catalog-visible field of an existing row
// in place — node_id itself never changes (spec §3 invariants).
func (g *Gateway) UpdateNode(ctx context.Context, n NodeRecord) error {
	tag, err := g.pool.Exec(ctx,
		`UPDATE repmgr.nodes SET node_name=$2, type=$3, upstream_node_id=$4, conninfo=$5,
		 repluser=$6, slot_name=$7, config_file=$8, data_directory=$9, priority=$10,
		 location=$11, active=$12 WHERE node_id=$1`,
		n.NodeID, n.NodeName, string(n.Type), n.UpstreamNodeID, n.ConnInfo, n.ReplUser,
		n.SlotName, n.ConfigFile, n.DataDirectory, n.Priority, n.Location, n.Active)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindDbQuery, "update node", err)
	}
	if tag.RowsAffected() == 0 {
		return rmerrors.New(rmerrors.KindCatalogNotFound, fmt.Sprintf("node %d not found", n.NodeID))
	}
	return nil
}

// UpdateNodeStatus is the narrow update Promote/Follow issue: flip
// type/upstream/active without touching the rest of the row.
func (g *Gateway) UpdateNodeStatus(ctx context.Context, id int, typ NodeType, upstream int, active bool) error {
	tag, err := g.pool.Exec(ctx,
		`UPDATE repmgr.nodes SET type=$2, upstream_node_id=$3, active=$4 WHERE node_id=$1`,
		id, string(typ), upstream, active)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindDbQuery, "update node status", err)
	}
	if tag.RowsAffected() == 0 {
		return rmerrors.New(rmerrors.KindCatalogNotFound, fmt.Sprintf("node %d not found", id))
	}
	return nil
}

// UpdateNodeSetPrimary flips a node to PRIMARY with no upstream — the
// write Promotion issues on success (spec §4.8 step 4).
func (g *Gateway) UpdateNodeSetPrimary(ctx context.Context, id int) error {
	return g.UpdateNodeStatus(ctx, id, Primary, NoUpstream, true)
}

// UpdateSlotName sets the slot_name field alone.
func (g *Gateway) UpdateSlotName(ctx context.Context, id int, name string) error {
	tag, err := g.pool.Exec(ctx, `UPDATE repmgr.nodes SET slot_name=$2 WHERE node_id=$1`, id, name)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindDbQuery, "update slot name", err)
	}
	if tag.RowsAffected() == 0 {
		return rmerrors.New(rmerrors.KindCatalogNotFound, fmt.Sprintf("node %d not found", id))
	}
	return nil
}

// DeleteNode removes a row — used by Unregistration (spec §4.7).
func (g *Gateway) DeleteNode(ctx context.Context, id int) error {
	tag, err := g.pool.Exec(ctx, `DELETE FROM repmgr.nodes WHERE node_id = $1`, id)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindDbQuery, "delete node", err)
	}
	if tag.RowsAffected() == 0 {
		return rmerrors.New(rmerrors.KindCatalogNotFound, fmt.Sprintf("node %d not found", id))
	}
	return nil
}
