//go:build !linux && !darwin && !netbsd && !freebsd && !openbsd && !dragonfly
// +build !linux,!darwin,!netbsd,!freebsd,!openbsd,!dragonfly

package poller

import (
	"errors"

	"github.com/evcore/evcore/evclock"
)

func New(clock evclock.Clock, ctl Control) (Poller, error) {
	return nil, errors.New("poller: unsupported platform")
}
