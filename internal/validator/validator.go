// Package validator implements the four detector variants: a
// no-op/smoke dummy, a per-IP request counter, a per-User-Agent
// request counter gated by pattern match, and a per-IP weighted-cost
// counter. The three counters share the escalating rule cascade in
// internal/cascade; they differ only in target-key projection, cost
// function, and window representation.
package validator

import "banwatch/internal/model"

// Validator is the single operation every detector exposes: observe one
// request, optionally emit a ban. Errors are returned only for
// structural issues and never poison the detector's
// state for later requests of the same target.
type Validator interface {
	Validate(req model.Request) (*model.BanRequest, error)
	Name() string
}
