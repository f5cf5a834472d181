package validator

import (
	"fmt"
	"regexp"

	"banwatch/internal/cascade"
	"banwatch/internal/model"
)

// Pattern is one entry of the ordered cost table: the first pattern
// whose method/path/body all match determines the request's cost.
type Pattern struct {
	Method    *string
	PathRegex *regexp.Regexp
	BodyRegex *regexp.Regexp
	Cost      uint64
}

// PatternConfig is the unparsed form of Pattern, compiled at detector
// construction time.
type PatternConfig struct {
	Method    *string
	PathRegex string
	BodyRegex *string
	Cost      uint64
}

// IPCost bans by remote IP using a weighted-cost sliding window: each
// request's cost is looked up from an ordered pattern table, falling
// back to a default cost.
type IPCost struct {
	banDescription string
	patterns       []Pattern
	defaultCost    uint64
	cascade        *cascade.Cascade
	states         map[string]*cascade.State
}

// NewIPCost compiles the pattern table at construction time; a regex
// compile error surfaces immediately as ConfigInvalid.
func NewIPCost(rules []cascade.Rule, patterns []PatternConfig, defaultCost uint64, banDescription string) (*IPCost, error) {
	c, err := cascade.New(rules)
	if err != nil {
		return nil, err
	}
	compiled := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		pathRe, err := regexp.Compile(p.PathRegex)
		if err != nil {
			return nil, fmt.Errorf("compile path_regex %q: %w", p.PathRegex, err)
		}
		var bodyRe *regexp.Regexp
		if p.BodyRegex != nil {
			bodyRe, err = regexp.Compile(*p.BodyRegex)
			if err != nil {
				return nil, fmt.Errorf("compile body_regex %q: %w", *p.BodyRegex, err)
			}
		}
		compiled = append(compiled, Pattern{
			Method:    p.Method,
			PathRegex: pathRe,
			BodyRegex: bodyRe,
			Cost:      p.Cost,
		})
	}
	return &IPCost{
		banDescription: banDescription,
		patterns:       compiled,
		defaultCost:    defaultCost,
		cascade:        c,
		states:         make(map[string]*cascade.State),
	}, nil
}

// cost returns the cost of the first matching pattern, or the default
// cost if none match.
func (v *IPCost) cost(req model.Request) uint64 {
	for _, p := range v.patterns {
		if p.Method != nil && *p.Method != req.Method {
			continue
		}
		if !p.PathRegex.MatchString(req.Path) {
			continue
		}
		if p.BodyRegex != nil && !p.BodyRegex.MatchString(req.Body.String()) {
			continue
		}
		return p.Cost
	}
	return v.defaultCost
}

func (v *IPCost) Validate(req model.Request) (*model.BanRequest, error) {
	ip := req.RemoteIP
	st, ok := v.states[ip]
	if !ok {
		st = cascade.NewState(func() cascade.Window { return cascade.NewSliceWindow() })
		v.states[ip] = st
	}

	ruleIdx, banned, err := v.cascade.Observe(st, v.cost(req), req.Timestamp)
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
		Target:     model.BanTarget{IP: &ip},
		Reason:     v.banDescription,
		TTLSeconds: uint32(rule.BanDuration.Seconds()),
	}, nil
}

func (v *IPCost) Name() string { return "requests-from-ip-cost" }
