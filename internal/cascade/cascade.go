// Package cascade implements the rule-cascade state machine shared by
// every detector: an ordered, non-empty list of rule tiers, escalated
// on repeated threshold crossings and reset after a cooldown. It is
// parameterized by the caller's choice of Window (count ring vs. cost
// slice). The cascade never reads a clock, consuming only the
// timestamp on the request being processed.
package cascade

import (
	"fmt"
	"time"

	"banwatch/internal/model"
)

// Rule is one tier of a detector's escalation cascade.
type Rule struct {
	Limit         uint64
	BanDuration   time.Duration
	ResetDuration time.Duration
}

// AppliedRule records that a target is currently serving tier RuleIdx's
// cooldown, expiring at ResetsAt.
type AppliedRule struct {
	RuleIdx  int
	ResetsAt time.Time
}

// State is the per-target cascade state: the sliding window, the
// accumulated cost since the last tier transition, and the currently
// applied rule, if any.
type State struct {
	window           Window
	costSinceLastBan uint64
	applied          *AppliedRule
}

// Cascade holds the shared rule set for one detector; the detector keeps
// one State per target key and passes it to Observe. It is not safe for
// concurrent use: the validation service owns each detector
// exclusively, so no internal locking is needed.
type Cascade struct {
	rules []Rule
}

// New validates the rule list and returns a Cascade. An empty rule list
// is ConfigInvalid, fatal at detector construction time.
func New(rules []Rule) (*Cascade, error) {
	if len(rules) == 0 {
		return nil, model.ErrEmptyRules
	}
	return &Cascade{rules: rules}, nil
}

// Rules returns the configured tiers (read-only use by detectors that
// need rule0's limit to size a window).
func (c *Cascade) Rules() []Rule { return c.rules }

// NewState constructs the per-target state for a lazily-observed key,
// using newWindow to pick the window representation.
func NewState(newWindow func() Window) *State {
	return &State{window: newWindow()}
}

// Observe runs one request through the cascade for the given target
// state, at cost and time t. It returns the index of the rule whose ban
// was emitted and true, or (0, false) if no ban resulted.
func (c *Cascade) Observe(st *State, cost uint64, t time.Time) (int, bool, error) {
	rule0 := c.rules[0]
	lastIdx := len(c.rules) - 1

	// 1. Cooldown expiry.
	if st.applied != nil && !t.Before(st.applied.ResetsAt) {
		st.applied = nil
		st.costSinceLastBan = 0
		st.window.Insert(cost, t)
		return 0, false, nil
	}

	// 2. Unbanned branch.
	if st.applied == nil {
		st.window.Insert(cost, t)
		cutoff := t.Add(-rule0.ResetDuration)
		st.window.Prune(cutoff)
		if !st.window.Above(rule0.Limit, cutoff) {
			return 0, false, nil
		}
		st.applied = &AppliedRule{RuleIdx: 0, ResetsAt: t.Add(rule0.ResetDuration)}
		st.costSinceLastBan = 0
		return 0, true, nil
	}

	// 3. Banned branch.
	nextIdx := st.applied.RuleIdx + 1
	if nextIdx > lastIdx {
		nextIdx = lastIdx
	}
	if nextIdx < 0 || nextIdx >= len(c.rules) {
		return 0, false, fmt.Errorf("%w: %d", model.ErrRuleIndex, nextIdx)
	}
	st.costSinceLastBan += cost
	nextRule := c.rules[nextIdx]
	if st.costSinceLastBan >= nextRule.Limit {
		st.applied = &AppliedRule{RuleIdx: nextIdx, ResetsAt: t.Add(nextRule.ResetDuration)}
		st.costSinceLastBan = 0
		return nextIdx, true, nil
	}
	return 0, false, nil
}

// RuleAt returns the rule at idx, bounds-checked.
func (c *Cascade) RuleAt(idx int) (Rule, error) {
	if idx < 0 || idx >= len(c.rules) {
		return Rule{}, fmt.Errorf("%w: %d", model.ErrRuleIndex, idx)
	}
	return c.rules[idx], nil
}
