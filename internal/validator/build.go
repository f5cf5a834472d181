package validator

import (
	"fmt"
	"time"

	"banwatch/internal/cascade"
	"banwatch/pkg/config"
)

// Build constructs the ordered validator slice the validation service
// runs, one entry per configured tagged-union variant. A malformed
// entry (empty rule list, bad regex) surfaces immediately as
// ConfigInvalid; this is called once at startup, before any stage runs.
func Build(cfgs []config.ValidatorConfig) ([]Validator, error) {
	out := make([]Validator, 0, len(cfgs))
	for i, vc := range cfgs {
		v, err := build(vc)
		if err != nil {
			return nil, fmt.Errorf("validators[%d] (%s): %w", i, vc.Type, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func build(vc config.ValidatorConfig) (Validator, error) {
	switch {
	case vc.Dummy != nil:
		var banDuration time.Duration
		if vc.Dummy.BanDuration != nil {
			banDuration = *vc.Dummy.BanDuration
		}
		return NewDummy(vc.Dummy.Idx, banDuration), nil

	case vc.IPCounter != nil:
		return NewIPCounter(rulesFrom(vc.IPCounter.Limits), vc.IPCounter.BanDescription)

	case vc.UACounter != nil:
		rules := rulesFrom(vc.UACounter.Limits)
		return NewUACounter(rules, vc.UACounter.Patterns, vc.UACounter.BanDescription)

	case vc.IPCost != nil:
		rules := rulesFrom(vc.IPCost.Limits)
		patterns := make([]PatternConfig, 0, len(vc.IPCost.Patterns))
		for _, p := range vc.IPCost.Patterns {
			patterns = append(patterns, PatternConfig{
				Method:    p.Method,
				PathRegex: p.PathRegex,
				BodyRegex: p.BodyRegex,
				Cost:      p.Cost,
			})
		}
		return NewIPCost(rules, patterns, vc.IPCost.DefaultCost, vc.IPCost.BanDescription)

	default:
		return nil, fmt.Errorf("validator config carries no recognized variant")
	}
}

func rulesFrom(limits []config.BanRuleConfig) []cascade.Rule {
	rules := make([]cascade.Rule, 0, len(limits))
	for _, l := range limits {
		rules = append(rules, cascade.Rule{
			Limit:         l.Limit,
			BanDuration:   l.BanDuration,
			ResetDuration: l.ResetDuration,
		})
	}
	return rules
}
