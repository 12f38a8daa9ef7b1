// Package ownership provides the exclusive-claim contract shared by the
// decaying label field and the discrete-entity space.
//
// A Lease moves through Free -> Owned(by) -> Free-with-cooldown(until) -> Free.
// Claims report a Result and never fail with an error.
// Releases by the wrong owner, or of something that does not exist, are
// programmer errors and are returned as errors.
package ownership

import (
	"errors"
	"fmt"
)

// OwnerID identifies a claimant (a cell, a per-cell master, an operator).
type OwnerID string

// Result is the outcome of a claim attempt.
type Result uint8

const (
	Ok           Result = iota // Claim succeeded
	AlreadyOwned               // Someone (possibly the caller) holds the lease
	CoolingDown                // Released recently; reclaim blocked until the cooldown tick
	NotFound                   // Nothing to claim
)

var resultNames = [...]string{"ok", "already_owned", "cooling_down", "not_found"}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// Sentinel errors for release and transfer. Callers match them with errors.Is.
var (
	ErrNotFound = errors.New("ownership: not found")
	ErrNotOwner = errors.New("ownership: not owner")
)

// Lease records who holds write authority and when a new claim may succeed.
// The zero value is a free lease with no cooldown pending.
// Methods are nil-safe: a nil *Lease behaves as a missing target.
type Lease struct {
	Owner         OwnerID `json:"owner,omitempty"`
	CooldownUntil int64   `json:"cooldown_until,omitempty"`
	Cooling       bool    `json:"cooling,omitempty"` // CooldownUntil is meaningful
}

// Owned reports whether the lease is currently held.
func (l *Lease) Owned() bool {
	return l != nil && l.Owner != ""
}

// Check reports what a claim at tick now would return, without changing state.
func (l *Lease) Check(now int64) Result {
	switch {
	case l == nil:
		return NotFound
	case l.Owner != "":
		return AlreadyOwned
	case l.Cooling && now < l.CooldownUntil:
		return CoolingDown
	}
	return Ok
}

// Claim transfers the lease to by when the claim succeeds.
// An empty owner id can never hold a lease.
func (l *Lease) Claim(by OwnerID, now int64) Result {
	if by == "" {
		return NotFound
	}
	res := l.Check(now)
	if res != Ok {
		return res
	}
	l.Owner = by
	l.Cooling = false
	l.CooldownUntil = 0
	return Ok
}

// Release frees the lease held by by and blocks reclaims until now+cooldown.
// A cooldown of zero or less leaves the lease immediately claimable.
func (l *Lease) Release(by OwnerID, now, cooldown int64) error {
	if l == nil {
		return ErrNotFound
	}
	if l.Owner == "" || l.Owner != by {
		return ErrNotOwner
	}
	l.Owner = ""
	l.Cooling = true
	l.CooldownUntil = now + cooldown
	return nil
}

// Transfer hands an owned lease directly from one owner to another,
// bypassing cooldown. Transferring to the current owner is a no-op.
func (l *Lease) Transfer(from, to OwnerID) error {
	if l == nil {
		return ErrNotFound
	}
	if l.Owner == "" || l.Owner != from {
		return ErrNotOwner
	}
	if to == "" {
		return fmt.Errorf("transfer to empty owner: %w", ErrNotOwner)
	}
	l.Owner = to
	return nil
}
