package validator

import (
	"fmt"
	"regexp"

	"banwatch/internal/cascade"
	"banwatch/internal/model"
)

// UACounter bans by User-Agent, gated by a configured set of patterns:
// requests whose UA matches none of them are ignored without touching
// state.
type UACounter struct {
	banDescription string
	patterns       []*regexp.Regexp
	cascade        *cascade.Cascade
	states         map[string]*cascade.State
}

// NewUACounter compiles the gate patterns at construction time; a
// compile error surfaces immediately as ConfigInvalid.
func NewUACounter(rules []cascade.Rule, patterns []string, banDescription string) (*UACounter, error) {
	c, err := cascade.New(rules)
	if err != nil {
		return nil, err
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile UA pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &UACounter{
		banDescription: banDescription,
		patterns:       compiled,
		cascade:        c,
		states:         make(map[string]*cascade.State),
	}, nil
}

func (v *UACounter) Validate(req model.Request) (*model.BanRequest, error) {
	ua, ok := req.Headers.Get("User-Agent")
	if !ok {
		return nil, fmt.Errorf("%w: User-Agent", model.ErrMissingHeader)
	}

	matched := false
	for _, re := range v.patterns {
		if re.MatchString(ua) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, nil
	}

	st, ok := v.states[ua]
	if !ok {
		capacity := int(v.cascade.Rules()[0].Limit)
		st = cascade.NewState(func() cascade.Window { return cascade.NewRingWindow(capacity) })
		v.states[ua] = st
	}

	ruleIdx, banned, err := v.cascade.Observe(st, 1, req.Timestamp)
	if err != nil {
		return nil, err
	}
	if !banned {
		return nil, nil
	}
	rule, err := v.cascade.RuleAt(ruleIdx)
	if err != nil {
		return nil, err
	}
	return &model.BanRequest{
		Target:     model.BanTarget{UserAgent: &ua},
		Reason:     v.banDescription,
		TTLSeconds: uint32(rule.BanDuration.Seconds()),
	}, nil
}

func (v *UACounter) Name() string { return "requests-from-ua-counter" }
