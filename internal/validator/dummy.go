package validator

import (
	"fmt"
	"time"

	"banwatch/internal/model"
)

// Dummy is a smoke-test detector: configured with an idx, it bans the
// request's IP on every request when idx is odd and never bans when
// idx is even. It carries no window state and exists to exercise the
// pipeline end-to-end without a real rule cascade wired in.
type Dummy struct {
	Idx         uint16
	BanDuration time.Duration
}

// NewDummy constructs a Dummy validator. A zero BanDuration defaults to
// 120 seconds, matching the original implementation.
func NewDummy(idx uint16, banDuration time.Duration) *Dummy {
	if banDuration <= 0 {
		banDuration = 120 * time.Second
	}
	return &Dummy{Idx: idx, BanDuration: banDuration}
}

func (d *Dummy) Validate(req model.Request) (*model.BanRequest, error) {
	if d.Idx%2 == 0 {
		return nil, nil
	}
	ip := req.RemoteIP
	return &model.BanRequest{
		Target:     model.BanTarget{IP: &ip},
		Reason:     fmt.Sprintf("Validator has %d id", d.Idx),
		TTLSeconds: uint32(d.BanDuration.Seconds()),
	}, nil
}

func (d *Dummy) Name() string { return fmt.Sprintf("dummy-%d", d.Idx) }
