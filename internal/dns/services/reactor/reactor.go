// Package reactor runs the serving loop. One goroutine owns the record
// store, the answer cache and the pending-query table; socket readers feed
// it through bounded channels, so none of those structures need locks.
//
// The loop multiplexes four events: client datagrams (queries and dynamic
// updates share the client socket and are told apart by the update protocol
// magic), upstream datagrams, a deadline timer, and shutdown. The timer is
// armed to the nearest of the next dynamic lease expiry and the next pending
// query deadline rather than a fixed tick.
package reactor

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/nanodns/nanodns/internal/dns/common/clock"
	"github.com/nanodns/nanodns/internal/dns/common/log"
	"github.com/nanodns/nanodns/internal/dns/gateways/netio"
	"github.com/nanodns/nanodns/internal/dns/repos/store"
	"github.com/nanodns/nanodns/internal/dns/services/resolver"
	"github.com/nanodns/nanodns/internal/dns/services/update"
)

const defaultDrainCap = 64

// idleWake bounds how long the loop sleeps when nothing has a deadline.
const idleWake = time.Minute

// Updater answers dynamic update datagrams.
type Updater interface {
	Handle(data []byte, src net.Addr) []byte
}

// Sender transmits response datagrams to clients.
type Sender interface {
	Send(data []byte, addr net.Addr) error
}

type Reactor struct {
	store    *store.Store
	resolver *resolver.Resolver
	updater  Updater // nil disables the update protocol
	journal  update.LeaseJournal
	client   <-chan netio.Datagram
	upstream <-chan netio.Datagram // nil when forwarding is disabled
	sender   Sender
	control  chan func()
	clock    clock.Clock
	drainCap int
	logger   log.Logger
}

type Options struct {
	Store    *store.Store
	Resolver *resolver.Resolver
	Updater  Updater
	Journal  update.LeaseJournal
	Client   <-chan netio.Datagram
	Upstream <-chan netio.Datagram
	Sender   Sender
	Clock    clock.Clock
	DrainCap int
	Logger   log.Logger
}

func New(opts Options) (*Reactor, error) {
	if opts.Store == nil {
		return nil, errors.New("reactor requires a store")
	}
	if opts.Resolver == nil {
		return nil, errors.New("reactor requires a resolver")
	}
	if opts.Client == nil {
		return nil, errors.New("reactor requires a client channel")
	}
	if opts.Sender == nil {
		return nil, errors.New("reactor requires a sender")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.DrainCap <= 0 {
		opts.DrainCap = defaultDrainCap
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Reactor{
		store:    opts.Store,
		resolver: opts.Resolver,
		updater:  opts.Updater,
		journal:  opts.Journal,
		client:   opts.Client,
		upstream: opts.Upstream,
		sender:   opts.Sender,
		control:  make(chan func(), 8),
		clock:    opts.Clock,
		drainCap: opts.DrainCap,
		logger:   opts.Logger,
	}, nil
}

// Run serves until ctx is cancelled.
func (r *Reactor) Run(ctx context.Context) error {
	timer := time.NewTimer(idleWake)
	defer timer.Stop()

	for {
		r.armTimer(timer)

		select {
		case <-ctx.Done():
			r.logger.Info(nil, "reactor stopping")
			return ctx.Err()

		case dg := <-r.client:
			r.handleClient(dg)
			r.drainClient()

		case dg := <-r.upstream:
			r.resolver.HandleUpstreamAnswer(dg.Data, dg.Addr, r.clock.Now())
			r.drainUpstream()

		case fn := <-r.control:
			fn()

		case <-timer.C:
			r.onTimer(r.clock.Now())
		}
	}
}

// Do schedules fn to run on the loop goroutine, giving outside goroutines
// (the hosts file watcher, for one) safe access to the store. It blocks only
// while the control queue is full.
func (r *Reactor) Do(fn func()) {
	r.control <- fn
}

// armTimer points the timer at the nearest deadline.
func (r *Reactor) armTimer(timer *time.Timer) {
	now := r.clock.Now()
	wake := now.Add(idleWake)

	if next, ok := r.store.NextExpiry(); ok && next.Before(wake) {
		wake = next
	}
	if next, ok := r.resolver.NextDeadline(); ok && next.Before(wake) {
		wake = next
	}

	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	d := wake.Sub(now)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

// handleClient dispatches one client datagram: the update protocol prefix
// routes to the updater, everything else is treated as a DNS query.
func (r *Reactor) handleClient(dg netio.Datagram) {
	if r.updater != nil && update.IsRequest(dg.Data) {
		resp := r.updater.Handle(dg.Data, dg.Addr)
		if err := r.sender.Send(resp, dg.Addr); err != nil {
			r.logger.Warn(map[string]any{"client": dg.Addr.String(), "error": err.Error()}, "update_reply_send_failed")
		}
		return
	}
	r.resolver.HandleQuery(dg.Data, dg.Addr, r.clock.Now())
}

// drainClient processes ready client datagrams up to the drain cap, keeping
// one channel from starving the others.
func (r *Reactor) drainClient() {
	for i := 1; i < r.drainCap; i++ {
		select {
		case dg := <-r.client:
			r.handleClient(dg)
		default:
			return
		}
	}
}

func (r *Reactor) drainUpstream() {
	for i := 1; i < r.drainCap; i++ {
		select {
		case dg := <-r.upstream:
			r.resolver.HandleUpstreamAnswer(dg.Data, dg.Addr, r.clock.Now())
		default:
			return
		}
	}
}

// onTimer sweeps expired dynamic leases and pending-query deadlines.
func (r *Reactor) onTimer(now time.Time) {
	for _, e := range r.store.Sweep(now) {
		r.logger.Info(map[string]any{
			"host": e.Record.Name,
			"type": e.Record.Type.String(),
		}, "lease_expired")
		if r.journal != nil {
			if err := r.journal.Delete(e.Record.Name, e.Record.Type, e.Record.Class); err != nil {
				r.logger.Warn(map[string]any{"host": e.Record.Name, "error": err.Error()}, "lease_prune_failed")
			}
		}
	}
	r.resolver.SweepDeadlines(now)
}
