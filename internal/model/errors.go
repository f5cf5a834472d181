package model

import "errors"

// Error taxonomy for the pipeline. Config and detector-structural
// errors are local to the stage that produced them (logged and
// skipped); ErrChannelClosed is the one error that is ever fatal to a
// running pipeline stage.
var (
	// ErrEmptyRules is ConfigInvalid: a detector was built with no rule
	// tiers. Fatal at construction time.
	ErrEmptyRules = errors.New("rule cascade requires at least one rule")

	// ErrRuleIndex is DetectorStructural: a rule index fell outside the
	// configured cascade. Should be unreachable given the clamped
	// escalation semantics, kept as a defensive bound check.
	ErrRuleIndex = errors.New("rule index out of range")

	// ErrMissingHeader is DetectorStructural: a detector that keys off a
	// header (User-Agent) saw a request without it.
	ErrMissingHeader = errors.New("required header missing")

	// ErrBadTimestamp is DetectorStructural: the request timestamp did
	// not parse as RFC 3339.
	ErrBadTimestamp = errors.New("unparsable request timestamp")

	// ErrChannelClosed is Downstream: a bounded queue the stage depends
	// on was closed by its consumer or producer. Fatal to the pipeline.
	ErrChannelClosed = errors.New("pipeline channel closed")
)
