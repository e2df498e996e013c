// Package backend forwards token changes to the token store without ever
// blocking the caller.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
	"golang.org/x/time/rate"
)

// Config tunes the forwarder. Zero values take the defaults below.
type Config struct {
	Owner          urn.URN
	Platform       string
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RatePerSec     float64
	Burst          int
	OpTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RatePerSec)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	return c
}

// Recorder counts applied operations. observability.Observer satisfies it.
type Recorder interface {
	BackendOp(op, result string)
}

type opKind int

const (
	opSubmit opKind = iota
	opRevoke
	opUnavailable
)

func (k opKind) String() string {
	switch k {
	case opRevoke:
		return "revoke"
	case opUnavailable:
		return "unavailable"
	default:
		return "submit"
	}
}

type op struct {
	kind    opKind
	channel push.Channel
	token   push.Token
	reason  string
	seq     uint64
	at      time.Time
}

// Forwarder implements push.TokenSink. Each channel has at most one pending
// token operation (submit or revoke), a newer one replaces it, optionally
// followed by one status report. A status report never replaces a token
// operation. A channel is worked on by one worker at a time so the store
// sees operations in submission order.
type Forwarder struct {
	cfg      Config
	store    push.TokenStore
	limiter  *rate.Limiter
	recorder Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[push.Channel][]op
	// latest is the newest sequence per channel; latestToken the newest
	// submit or revoke.
	latest      map[push.Channel]uint64
	latestToken map[push.Channel]uint64
	busy    map[push.Channel]bool
	queued  map[push.Channel]bool
	queue   chan push.Channel

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	started  bool
}

var _ push.TokenSink = (*Forwarder)(nil)

// New creates a forwarder. recorder may be nil.
func New(cfg Config, store push.TokenStore, recorder Recorder, logger *slog.Logger) *Forwarder {
	cfg = cfg.withDefaults()
	return &Forwarder{
		cfg:      cfg,
		store:    store,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		recorder: recorder,
		logger:   logger.With("component", "BackendForwarder"),
		pending:     make(map[push.Channel][]op),
		latest:      make(map[push.Channel]uint64),
		latestToken: make(map[push.Channel]uint64),
		busy:     make(map[push.Channel]bool),
		queued:   make(map[push.Channel]bool),
		queue:    make(chan push.Channel, len(push.Channels)+1),
		stopCh:   make(chan struct{}),
	}
}

func (f *Forwarder) SubmitToken(channel push.Channel, token push.Token) {
	f.enqueue(op{kind: opSubmit, channel: channel, token: token.Clone()})
}

func (f *Forwarder) RevokeToken(channel push.Channel, reason string) {
	f.enqueue(op{kind: opRevoke, channel: channel, reason: reason})
}

func (f *Forwarder) ReportUnavailable(channel push.Channel, err error) {
	reason := "no token available"
	if err != nil {
		reason = err.Error()
	}
	f.enqueue(op{kind: opUnavailable, channel: channel, reason: reason})
}

func (f *Forwarder) enqueue(o op) {
	o.at = time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest[o.channel]++
	o.seq = f.latest[o.channel]

	queued := f.pending[o.channel]
	next := make([]op, 0, 2)
	if o.kind == opUnavailable {
		// The token operation stays ahead of the status report.
		for _, prev := range queued {
			if prev.kind != opUnavailable {
				next = append(next, prev)
			}
		}
	} else {
		f.latestToken[o.channel] = o.seq
	}
	if len(queued) > len(next) {
		f.logger.Debug("Coalescing pending operations", "channel", o.channel.String(), "replaced", len(queued)-len(next), "with", o.kind.String())
	}
	f.pending[o.channel] = append(next, o)
	f.signalLocked(o.channel)
}

// signalLocked puts channel on the ready queue once. The queue holds every
// channel at most once, so the send never blocks.
func (f *Forwarder) signalLocked(channel push.Channel) {
	if f.queued[channel] || f.busy[channel] {
		return
	}
	f.queued[channel] = true
	select {
	case f.queue <- channel:
	default:
		f.queued[channel] = false
		f.logger.Error("Forwarder queue full", "channel", channel.String())
	}
}

// Start launches the workers. Operations submitted before Start are kept.
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	for i := 0; i < f.cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker(runCtx)
	}
	f.logger.Info("Backend forwarder started", "workers", f.cfg.Workers, "owner", f.cfg.Owner.String())
}

// Stop lets the workers drain what is pending. When ctx expires first the
// remaining work is abandoned and ctx.Err is returned.
func (f *Forwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	started := f.started
	f.mu.Unlock()
	if !started {
		return nil
	}
	f.stopOnce.Do(func() { close(f.stopCh) })

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		f.cancel()
		f.logger.Info("Backend forwarder stopped")
		return nil
	case <-ctx.Done():
		f.cancel()
		<-done
		f.logger.Warn("Backend forwarder stopped before draining", "err", ctx.Err())
		return ctx.Err()
	}
}

func (f *Forwarder) worker(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-f.queue:
			f.process(ctx, ch)
		case <-f.stopCh:
			f.drain(ctx)
			return
		}
	}
}

func (f *Forwarder) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-f.queue:
			f.process(ctx, ch)
		default:
			return
		}
	}
}

func (f *Forwarder) process(ctx context.Context, channel push.Channel) {
	f.mu.Lock()
	f.queued[channel] = false
	ops, ok := f.pending[channel]
	if !ok || f.busy[channel] {
		f.mu.Unlock()
		return
	}
	delete(f.pending, channel)
	f.busy[channel] = true
	f.mu.Unlock()

	for _, o := range ops {
		f.apply(ctx, o)
	}

	f.mu.Lock()
	f.busy[channel] = false
	if _, more := f.pending[channel]; more {
		f.signalLocked(channel)
	}
	f.mu.Unlock()
}

func (f *Forwarder) apply(ctx context.Context, o op) {
	log := f.logger.With("channel", o.channel.String(), "op", o.kind.String())
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if f.superseded(o) {
			log.Debug("Dropping superseded operation", "attempt", attempt)
			f.record(o, "superseded")
			return
		}
		if err := f.limiter.Wait(ctx); err != nil {
			f.record(o, "abandoned")
			return
		}
		lastErr = f.call(ctx, o)
		if lastErr == nil {
			log.Debug("Token operation applied", "attempt", attempt)
			f.record(o, "ok")
			return
		}
		if attempt == f.cfg.MaxAttempts {
			break
		}
		delay := f.backoff(attempt)
		log.Warn("Token operation failed, retrying", "attempt", attempt, "delay", delay, "err", lastErr)
		f.record(o, "retry")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.record(o, "abandoned")
			return
		case <-timer.C:
		}
	}
	log.Error("Token operation failed permanently", "attempts", f.cfg.MaxAttempts, "err", lastErr)
	f.record(o, "failed")
}

func (f *Forwarder) call(ctx context.Context, o op) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.OpTimeout)
	defer cancel()
	switch o.kind {
	case opSubmit:
		return f.store.PutToken(ctx, f.cfg.Owner, push.TokenRecord{
			Channel:   o.channel,
			Platform:  f.cfg.Platform,
			Token:     o.token,
			Status:    push.TokenActive,
			UpdatedAt: o.at,
		})
	case opRevoke:
		return f.store.RevokeToken(ctx, f.cfg.Owner, o.channel, o.reason)
	case opUnavailable:
		return f.store.MarkUnavailable(ctx, f.cfg.Owner, o.channel, o.reason)
	}
	return fmt.Errorf("unknown operation %d", o.kind)
}

// superseded reports whether a newer operation makes o pointless. A status
// report is superseded by anything newer; a token operation only by a newer
// token operation.
func (f *Forwarder) superseded(o op) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.kind == opUnavailable {
		return f.latest[o.channel] != o.seq
	}
	return f.latestToken[o.channel] != o.seq
}

func (f *Forwarder) backoff(attempt int) time.Duration {
	d := f.cfg.InitialBackoff << (attempt - 1)
	if d <= 0 || d > f.cfg.MaxBackoff {
		return f.cfg.MaxBackoff
	}
	return d
}

func (f *Forwarder) record(o op, result string) {
	if f.recorder != nil {
		f.recorder.BackendOp(o.kind.String(), result)
	}
}
