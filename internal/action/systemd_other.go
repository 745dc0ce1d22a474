//go:build !linux

package action

import (
	"context"
	"fmt"

	logx "timesync/pkg/logx"
)

type Systemd struct {
	Unit string
	log  logx.Logger
}

func (s *Systemd) Invoke(ctx context.Context) error {
	_ = ctx
	return fmt.Errorf("restart %s: %w", s.Unit, ErrUnsupported)
}
