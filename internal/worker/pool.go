// Package worker serves data requests through the response cache. A single
// dispatch loop answers hits inline and starts one goroutine per miss, so a
// slow computation never delays requests for other keys.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/theirongolddev/hegelpm/internal/cache"
	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
)

// ErrStopped is the cause carried by timeout replies for requests that
// reached the pool after Run returned.
var ErrStopped = errors.New("worker pool stopped")

// Engine computes the payload for each query kind.
type Engine interface {
	ListProjects(ctx context.Context) (model.ProjectList, error)
	ShowProject(ctx context.Context, name string) (model.ProjectDetail, error)
	AllProjects(ctx context.Context, q protocol.AllProjects) (model.AllProjectsReport, error)
}

// Config controls the pool.
type Config struct {
	// ChannelBuffer is the capacity of the inbound request channel.
	ChannelBuffer int
}

// Validate checks the pool configuration.
func (c Config) Validate() error {
	if c.ChannelBuffer < 1 {
		return fmt.Errorf("channel buffer must be at least 1, got %d", c.ChannelBuffer)
	}
	return nil
}

// Stats counts pool activity since start.
type Stats struct {
	Requests     int64 `json:"requests"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Failures     int64 `json:"failures"`
	DroppedReply int64 `json:"dropped_replies"`
	InFlight     int64 `json:"in_flight"`
}

// Pool owns the request channel and the miss computations.
type Pool struct {
	cfg      Config
	cache    *cache.ResponseCache
	engine   Engine
	logger   *log.Logger
	requests chan protocol.DataRequest

	running  atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	nRequests *xsync.Counter
	nHits     *xsync.Counter
	nMisses   *xsync.Counter
	nFailures *xsync.Counter
	nDropped  *xsync.Counter
	inFlight  atomic.Int64
}

// New builds a pool around an explicitly provided cache and engine.
func New(cfg Config, c *cache.ResponseCache, engine Engine, logger *log.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c == nil || engine == nil {
		return nil, errors.New("worker pool requires a cache and an engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		cfg:       cfg,
		cache:     c,
		engine:    engine,
		logger:    logger,
		requests:  make(chan protocol.DataRequest, cfg.ChannelBuffer),
		stopped:   make(chan struct{}),
		nRequests: xsync.NewCounter(),
		nHits:     xsync.NewCounter(),
		nMisses:   xsync.NewCounter(),
		nFailures: xsync.NewCounter(),
		nDropped:  xsync.NewCounter(),
	}, nil
}

// Requests returns the inbound channel.
func (p *Pool) Requests() chan<- protocol.DataRequest {
	return p.requests
}

// Cache returns the response cache the pool serves from.
func (p *Pool) Cache() *cache.ResponseCache {
	return p.cache
}

// Run dispatches requests until ctx is canceled or the request channel is
// closed, then waits for in-flight computations. Computations inherit ctx.
// Requests still queued when Run returns get a timeout reply, and the pool
// cannot be started again.
func (p *Pool) Run(ctx context.Context) error {
	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("worker pool already running")
	}
	defer p.running.Store(false)

	p.logger.Debug("worker pool started", "buffer", p.cfg.ChannelBuffer)
	defer p.wg.Wait()
	defer p.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-p.requests:
			if !ok {
				return nil
			}
			p.dispatch(ctx, req)
		}
	}
}

// stop marks the pool stopped and answers everything left in the queue.
func (p *Pool) stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
	if n := p.drain(); n > 0 {
		p.logger.Debug("worker pool stopped with queued requests", "drained", n)
	}
}

// drain replies to queued requests without blocking.
func (p *Pool) drain() int {
	n := 0
	for {
		select {
		case req, ok := <-p.requests:
			if !ok {
				return n
			}
			n++
			p.nRequests.Inc()
			p.nFailures.Inc()
			p.deliver(req, protocol.Reply{Err: protocol.Timeout(ErrStopped)})
		default:
			return n
		}
	}
}

// Submit enqueues req, waiting for channel space until ctx expires. Once
// Run has returned every submission fails with a timeout.
func (p *Pool) Submit(ctx context.Context, req protocol.DataRequest) error {
	select {
	case <-p.stopped:
		return protocol.Timeout(ErrStopped)
	default:
	}
	select {
	case p.requests <- req:
	case <-p.stopped:
		return protocol.Timeout(ErrStopped)
	case <-ctx.Done():
		return protocol.Timeout(ctx.Err())
	}
	// Run may have drained between the check above and the send.
	select {
	case <-p.stopped:
		p.drain()
	default:
	}
	return nil
}

// Do sends q and waits for its reply. A reply error is returned as a
// *protocol.DataError; an expired ctx yields a timeout even though the
// computation keeps running and still fills the cache.
func (p *Pool) Do(ctx context.Context, q protocol.Query, bypass bool) (protocol.Reply, error) {
	req, replies := protocol.NewRequest(q, bypass)
	if err := p.Submit(ctx, req); err != nil {
		return protocol.Reply{}, err
	}
	select {
	case r := <-replies:
		if r.Err != nil {
			return r, r.Err
		}
		return r, nil
	case <-ctx.Done():
		return protocol.Reply{}, protocol.Timeout(ctx.Err())
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Requests:     p.nRequests.Value(),
		Hits:         p.nHits.Value(),
		Misses:       p.nMisses.Value(),
		Failures:     p.nFailures.Value(),
		DroppedReply: p.nDropped.Value(),
		InFlight:     p.inFlight.Load(),
	}
}

// dispatch never blocks: hits reply inline, misses run in their own goroutine.
func (p *Pool) dispatch(ctx context.Context, req protocol.DataRequest) {
	p.nRequests.Inc()

	q, err := protocol.Normalize(req.Query)
	if err != nil {
		p.nFailures.Inc()
		p.deliver(req, protocol.Reply{Err: protocol.FromError(err)})
		return
	}
	key := protocol.KeyFor(q)

	if !req.BypassCache {
		if e, ok := p.cache.Entry(key); ok {
			p.nHits.Inc()
			p.logger.Debug("cache hit", "key", key)
			p.deliver(req, protocol.Reply{Payload: e.Payload, Digest: e.Digest, Cached: true})
			return
		}
	}

	p.nMisses.Inc()
	p.logger.Debug("cache miss", "key", key, "bypass", req.BypassCache)

	gen := p.cache.Generation()
	p.wg.Add(1)
	go p.compute(ctx, req, q, key, gen)
}

// compute stores its result only if the cache generation is still gen, so a
// file change observed while it ran is never overwritten by stale data.
func (p *Pool) compute(ctx context.Context, req protocol.DataRequest, q protocol.Query, key protocol.CacheKey, gen uint64) {
	defer p.wg.Done()
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	start := time.Now()
	payload, derr := p.execute(ctx, q)
	if derr != nil {
		p.nFailures.Inc()
		p.logger.Debug("computation failed", "key", key, "kind", derr.Kind, "error", derr)
		p.deliver(req, protocol.Reply{Err: derr})
		return
	}

	e, stored := p.cache.PutIfGeneration(key, payload, gen)
	p.logger.Debug("computed", "key", key, "bytes", len(payload), "elapsed", time.Since(start), "stored", stored)
	p.deliver(req, protocol.Reply{Payload: payload, Digest: e.Digest})
}

// execute runs the engine for q and serializes the result.
func (p *Pool) execute(ctx context.Context, q protocol.Query) (payload []byte, derr *protocol.DataError) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			derr = protocol.Internal(fmt.Errorf("panic: %v", r))
		}
	}()

	var (
		v   any
		err error
	)
	switch q := q.(type) {
	case protocol.ListProjects:
		v, err = p.engine.ListProjects(ctx)
	case protocol.ShowProject:
		v, err = p.engine.ShowProject(ctx, q.Name)
	case protocol.AllProjects:
		v, err = p.engine.AllProjects(ctx, q)
	default:
		return nil, protocol.Internal(protocol.ErrUnknownQuery)
	}
	if err != nil {
		return nil, protocol.FromError(err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, protocol.Serialization(err)
	}
	return data, nil
}

// deliver sends r without blocking. A full, nil or closed reply channel
// means the caller is gone; the reply is dropped.
func (p *Pool) deliver(req protocol.DataRequest, r protocol.Reply) {
	defer func() {
		if rec := recover(); rec != nil {
			p.nDropped.Inc()
			p.logger.Debug("reply channel closed, dropping reply")
		}
	}()

	if req.Reply == nil {
		p.nDropped.Inc()
		return
	}
	select {
	case req.Reply <- r:
	default:
		p.nDropped.Inc()
		p.logger.Debug("reply channel full, dropping reply")
	}
}
