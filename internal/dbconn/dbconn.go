// Package dbconn is the thin seam between the orchestration engine and
// the database client driver. Spec.md §1 lists "the database client
// driver (connection establishment, SQL execution, connection-string
// parsing)" as an external collaborator; this package is that seam's
// concrete shape — a small DbConn interface the rest of the engine
// codes against, backed today by pgx.
package dbconn

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// Row is the minimal row-scanning surface the engine needs, satisfied by
// both pgx.Row and pgx.Rows.
type Row interface {
	Scan(dest ...any) error
}

// DbConn is the opaque database connection the orchestration engine
// consumes. Open returns a pgx-backed implementation; tests satisfy it with a fake.
type DbConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Close(ctx context.Context) error
	// ConnInfo is the connection string this DbConn was opened with,
	// needed by components that must report or re-derive it (e.g. the
	// Recovery-Config Writer echoing primary_conninfo).
	ConnInfo() string
}

type pgxConn struct {
	c        *pgx.Conn
	connInfo string
}

func (p *pgxConn) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return p.c.QueryRow(ctx, sql, args...)
}

func (p *pgxConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.c.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *pgxConn) Close(ctx context.Context) error { return p.c.Close(ctx) }
func (p *pgxConn) ConnInfo() string                { return p.connInfo }

// Open establishes a connection using the opaque connection string conn
// (always rendered in "key=value ..." form by this package's callers,
// never URI form — see internal/connstring). A 10s connect timeout is
// enforced regardless of what the caller's context carries, since a
// hung TCP handshake to an unreachable node must not block an operation
// indefinitely.
func Open(ctx context.Context, conninfo string) (DbConn, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := pgx.Connect(ctx, conninfo)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindDbConn, "connect to database", err).
			WithDetail(fmt.Sprintf("conninfo=%s", Redact(conninfo)))
	}
	return &pgxConn{c: c, connInfo: conninfo}, nil
}

// Redact replaces a password= component with *** for safe logging.
func Redact(conninfo string) string {
	return redactKV(conninfo, "password")
}

func redactKV(s, key string) string {
	out := []byte{}
	i := 0
	for i < len(s) {
		if matchesKeyAt(s, i, key) {
			j := i + len(key) + 1
			out = append(out, s[i:j]...)
			out = append(out, '*', '*', '*')
			for j < len(s) && s[j] != ' ' {
				j++
			}
			i = j
			continue
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}

func matchesKeyAt(s string, i int, key string) bool {
	if i+len(key)+1 > len(s) {
		return false
	}
	if s[i:i+len(key)] != key {
		return false
	}
	return s[i+len(key)] == '='
}
