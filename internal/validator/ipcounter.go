package validator

import (
	"banwatch/internal/cascade"
	"banwatch/internal/model"
)

// IPCounter bans by remote IP using a fixed-request-count window: every
// request costs 1, counted in a ring sized to the entry rule's limit.
type IPCounter struct {
	banDescription string
	cascade        *cascade.Cascade
	states         map[string]*cascade.State
}

// NewIPCounter builds an IPCounter from an ordered, non-empty rule list.
func NewIPCounter(rules []cascade.Rule, banDescription string) (*IPCounter, error) {
	c, err := cascade.New(rules)
	if err != nil {
		return nil, err
	}
	return &IPCounter{
		banDescription: banDescription,
		cascade:        c,
		states:         make(map[string]*cascade.State),
	}, nil
}

func (v *IPCounter) Validate(req model.Request) (*model.BanRequest, error) {
	ip := req.RemoteIP
	st, ok := v.states[ip]
	if !ok {
		capacity := int(v.cascade.Rules()[0].Limit)
		st = cascade.NewState(func() cascade.Window { return cascade.NewRingWindow(capacity) })
		v.states[ip] = st
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
		Target:     model.BanTarget{IP: &ip},
		Reason:     v.banDescription,
		TTLSeconds: uint32(rule.BanDuration.Seconds()),
	}, nil
}

func (v *IPCounter) Name() string { return "requests-from-ip-counter" }
