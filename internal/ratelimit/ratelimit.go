// Package ratelimit implements spec.md §4.9's per-host byte-rate limiting:
// each host has an optional bytes/second limit, combined with an optional
// rate-limit-group membership; the per-process share is recomputed on
// every active_transfers change or on explicit recalc request.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Off means no limit, mirrored from the pack's "off"/-1 sentinel
// (fs/accounting/token_bucket_test.go's TestRcBwLimit).
const Off int64 = -1

// HostLimiter is one host's byte-rate limiter, recomputed whenever the
// host's active_transfers count changes so every worker sees an equal
// share (spec.md §4.9: "a per-process share is computed as host_limit /
// active_transfers").
type HostLimiter struct {
	mu        sync.Mutex
	hostLimit int64 // bytes/sec, Off for unlimited
	group     *Group
	bucket    *rate.Limiter
}

// NewHostLimiter returns a limiter for a host with the given aggregate
// byte/sec budget (Off for unlimited). group may be nil.
func NewHostLimiter(hostLimit int64, group *Group) *HostLimiter {
	hl := &HostLimiter{hostLimit: hostLimit, group: group}
	hl.recompute(1)
	return hl
}

// Recompute updates the per-process share for the given active-transfer
// count, called whenever that count changes or on an explicit recalc
// request (spec.md §4.9, the `trl-calc` channel in §6).
func (hl *HostLimiter) Recompute(activeTransfers int) {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	hl.recompute(activeTransfers)
}

func (hl *HostLimiter) recompute(activeTransfers int) {
	if hl.hostLimit == Off {
		hl.bucket = nil
		return
	}
	if activeTransfers < 1 {
		activeTransfers = 1
	}
	share := hl.hostLimit / int64(activeTransfers)
	if hl.group != nil {
		share = hl.group.Clamp(share)
	}
	if share <= 0 {
		share = 1
	}
	hl.bucket = rate.NewLimiter(rate.Limit(share), int(share))
}

// WaitN blocks until n bytes of budget are available, implementing
// protocol.RateLimiter.
func (hl *HostLimiter) WaitN(ctx context.Context, n int) error {
	hl.mu.Lock()
	b := hl.bucket
	hl.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.WaitN(ctx, n)
}

// SetHostLimit changes the host's aggregate limit (e.g. from a config
// reload) and recomputes the share against the last known active-transfer
// count.
func (hl *HostLimiter) SetHostLimit(hostLimit int64, activeTransfers int) {
	hl.mu.Lock()
	hl.hostLimit = hostLimit
	hl.mu.Unlock()
	hl.Recompute(activeTransfers)
}

// Group is a named "transfer rate limit group" (spec.md §4.9): several
// hosts may share an aggregate cap, each host's share clamped to
// limit/members.
type Group struct {
	mu      sync.Mutex
	limit   int64 // Off for unlimited
	members int
}

// NewGroup returns a Group with the given aggregate limit and member count.
func NewGroup(limit int64, members int) *Group {
	if members < 1 {
		members = 1
	}
	return &Group{limit: limit, members: members}
}

// Clamp reduces a per-host share to the group's per-member share, if the
// group has a tighter limit.
func (g *Group) Clamp(share int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limit == Off {
		return share
	}
	groupShare := g.limit / int64(g.members)
	if groupShare < share {
		return groupShare
	}
	return share
}
