// Package repmgrd is the client side of the one documented RPC the core
// consumes from the automatic-failover daemon (spec.md §1 "Out of
// scope": "The daemon that performs automatic failover; the core only
// needs to pause/unpause it via a documented RPC"). PAUSE_DAEMONS and
// UNPAUSE_DAEMONS (spec §4.9) dial every active node's daemon over this
// client; Sibling Reconfiguration (spec §4.10) uses it to short-circuit
// a witness's own primary discovery after a promotion.
package repmgrd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// request/response shape for the daemon's control channel. The daemon
// itself is out of scope (spec §1); this is only the wire contract the
// core dials against.
type request struct {
	Action       string `json:"action"`
	NewPrimaryID int    `json:"new_primary_id,omitempty"`
}

type response struct {
	OK     bool   `json:"ok"`
	Paused bool   `json:"paused"`
	Error  string `json:"error,omitempty"`
}

// Client is a short-lived control connection to one node's daemon RPC
// endpoint, addressed by its ws:// URL (spec.conf's repmgrd_rpc_addr,
// internal/config.Config.RepmgrdRPCAddr).
type Client struct {
	Addr    string
	Timeout time.Duration
}

func (c Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}

func (c Client) call(ctx context.Context, req request) (response, error) {
	var resp response
	if c.Addr == "" {
		return resp, rmerrors.New(rmerrors.KindTransport, "no repmgrd RPC address configured for this node")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.Addr, nil)
	if err != nil {
		return resp, rmerrors.Wrap(rmerrors.KindTransport, "dial repmgrd RPC at "+c.Addr, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	data, err := json.Marshal(req)
	if err != nil {
		return resp, rmerrors.Wrap(rmerrors.KindInternal, "marshal repmgrd request", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return resp, rmerrors.Wrap(rmerrors.KindTransport, "write repmgrd request", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	_, raw, err := conn.Read(readCtx)
	if err != nil {
		return resp, rmerrors.Wrap(rmerrors.KindTransport, "read repmgrd response", err)
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, rmerrors.Wrap(rmerrors.KindTransport, "decode repmgrd response", err)
	}
	if !resp.OK {
		return resp, rmerrors.New(rmerrors.KindTransport, fmt.Sprintf("repmgrd at %s refused request: %s", c.Addr, resp.Error))
	}
	return resp, nil
}

// Ping checks whether the daemon is reachable at all, independent of its
// pause state.
func (c Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, request{Action: "status"})
	return err
}

// Paused reports whether the daemon is currently paused.
func (c Client) Paused(ctx context.Context) (bool, error) {
	resp, err := c.call(ctx, request{Action: "status"})
	if err != nil {
		return false, err
	}
	return resp.Paused, nil
}

// Pause asks the daemon to suspend automatic failover decisions, per
// spec §4.9 PAUSE_DAEMONS. Returns the pre-call paused state so the
// caller can decide whether it is responsible for unpausing later (spec
// §8 "Daemon symmetry").
func (c Client) Pause(ctx context.Context) (alreadyPaused bool, err error) {
	before, err := c.Paused(ctx)
	if err != nil {
		return false, err
	}
	if before {
		return true, nil
	}
	if _, err := c.call(ctx, request{Action: "pause"}); err != nil {
		return false, err
	}
	return false, nil
}

// Unpause asks the daemon to resume automatic failover decisions, per
// spec §4.9 UNPAUSE_DAEMONS.
func (c Client) Unpause(ctx context.Context) error {
	_, err := c.call(ctx, request{Action: "unpause"})
	return err
}

// NotifyFollowPrimary tells a witness's daemon that newPrimaryID is now
// the primary, so its own discovery logic short-circuits (spec §4.10,
// invoked before the witness register command itself).
func (c Client) NotifyFollowPrimary(ctx context.Context, newPrimaryID int) error {
	_, err := c.call(ctx, request{Action: "notify_follow_primary", NewPrimaryID: newPrimaryID})
	return err
}
