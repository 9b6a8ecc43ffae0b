package evcore

import (
	"github.com/evcore/evcore/evclock"
	"github.com/evcore/evcore/poller"
)

type Options struct {
	// Clock supplies the loop's monotonic time. Defaults to the system
	// clock; tests inject evclock.Simulated.
	Clock evclock.Clock

	// NewPoller builds the OS readiness provider. Defaults to the
	// platform poller (epoll on Linux, kqueue on BSDs).
	NewPoller func(evclock.Clock, poller.Control) (poller.Poller, error)
}

func NewOptions() *Options {
	return &Options{}
}

func (opts *Options) SetClock(clock evclock.Clock) *Options {
	opts.Clock = clock
	return opts
}

func (opts *Options) SetNewPoller(fn func(evclock.Clock, poller.Control) (poller.Poller, error)) *Options {
	opts.NewPoller = fn
	return opts
}
