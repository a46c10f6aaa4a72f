// Package broadcast holds the single read-after-write slot that carries the
// committed selection of a round to every projector.
package broadcast

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/selection"
)

// Snapshot is the immutable value published once per round. Projectors read
// only from a snapshot, never from each other.
type Snapshot struct {
	Round  int64            `json:"round"`
	Token  string           `json:"token"`
	Origin selection.View   `json:"origin"`
	State  selection.State  `json:"state"`
	Scope  []records.Record `json:"-"`
	Digest string           `json:"digest"`
}

// Channel stores the latest snapshot. Publish replaces it atomically, so a
// reader sees either the previous round or the new one, never a mix.
type Channel struct {
	latest atomic.Pointer[Snapshot]
	clock  *Clock
}

// NewChannel creates an empty channel whose rounds start at 1.
func NewChannel() *Channel {
	return &Channel{clock: NewClock()}
}

// Publish stamps a new snapshot and makes it the latest. The scope slice is
// copied; callers may reuse theirs.
func (c *Channel) Publish(st selection.State, origin selection.View, scope []records.Record) *Snapshot {
	snap := &Snapshot{
		Round:  c.clock.Next(),
		Token:  uuid.Must(uuid.NewV7()).String(),
		Origin: origin,
		State:  st,
		Scope:  append([]records.Record(nil), scope...),
	}
	snap.Digest = Digest(st, snap.Scope)
	c.latest.Store(snap)
	return snap
}

// Latest returns the current snapshot, or nil before the first publish.
func (c *Channel) Latest() *Snapshot {
	return c.latest.Load()
}

// Rollback reinstates prev when failed is still the latest snapshot. A round
// whose projection failed never stays visible to readers.
func (c *Channel) Rollback(failed, prev *Snapshot) bool {
	return c.latest.CompareAndSwap(failed, prev)
}

// Round returns the round number of the latest publish.
func (c *Channel) Round() int64 {
	return c.clock.Current()
}

// Digest fingerprints a state and the ids of its scope. Two snapshots with
// the same digest render identically.
func Digest(st selection.State, scope []records.Record) string {
	ids := make([]int64, len(scope))
	for i, r := range scope {
		ids[i] = r.ID
	}
	payload, _ := json.Marshal(struct {
		State selection.State `json:"state"`
		Scope []int64         `json:"scope"`
	}{st, ids})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
