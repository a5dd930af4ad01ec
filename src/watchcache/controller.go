package watchcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/metrics"
	"github.com/stolostron/console-sub025/src/pathresolver"
	"github.com/stolostron/console-sub025/src/resource"
	"github.com/stolostron/console-sub025/src/transport"

	gocache "github.com/patrickmn/go-cache"
)

type WatchState string

const (
	Unwatched    WatchState = "Unwatched"
	Initializing WatchState = "Initializing"
	Live         WatchState = "Live"
	Draining     WatchState = "Draining"
)

// Upper bound for the snapshot fetch and the watch handshake.
const initTimeout = 60 * time.Second

type ControllerOptions struct {
	// How long a failed snapshot fetch is served before the next StartWatch
	// retries. Zero retries right away.
	FetchFailureHoldDown time.Duration
}

// Drives the lifecycle of watches: snapshot, socket, reference counting.
type Controller struct {
	logger   *slog.Logger
	cache    *Cache
	fetcher  transport.Fetcher
	dialer   transport.Dialer
	failures *gocache.Cache
}

func NewController(logger *slog.Logger, cache *Cache, fetcher transport.Fetcher, dialer transport.Dialer, opts ControllerOptions) *Controller {
	assert.Assert(logger != nil)
	assert.Assert(cache != nil)
	assert.Assert(fetcher != nil)
	assert.Assert(dialer != nil)

	self := &Controller{}
	self.logger = logger
	self.cache = cache
	self.fetcher = fetcher
	self.dialer = dialer
	if opts.FetchFailureHoldDown > 0 {
		self.failures = gocache.New(opts.FetchFailureHoldDown, 2*opts.FetchFailureHoldDown)
	}

	return self
}

func (self *Controller) Cache() *Cache {
	return self.cache
}

// Take a reference on the watch of req and make sure it is backed by data.
//
// The first caller of a key fetches the snapshot and opens the socket before
// returning. Every other caller only takes a reference, also while the first
// one is still busy. A failed fetch is stored as LoadError and is not returned.
func (self *Controller) StartWatch(ctx context.Context, req resource.Request, basePath string) (string, error) {
	err := req.Validate()
	if err != nil {
		return "", err
	}

	key := pathresolver.CacheKey(req, basePath)
	if !self.cache.acquire(key, self.isHeldDown(key)) {
		metrics.CacheHits.Inc()
		self.logger.Debug("reusing watch", "key", key)
		return key, nil
	}

	metrics.CacheMisses.Inc()
	self.initialize(ctx, key, req, basePath)
	return key, nil
}

// Drop a reference taken by StartWatch. Unknown keys and keys without
// references are ignored.
func (self *Controller) StopWatch(req resource.Request, basePath string) string {
	key := pathresolver.CacheKey(req, basePath)
	refCount := self.cache.DecrementRef(key)
	if refCount == 0 {
		self.logger.Debug("watch is draining", "key", key)
	}
	return key
}

func (self *Controller) Subscribe(key string, callback Callback) func() {
	return self.cache.Subscribe(key, callback)
}

func (self *Controller) State(key string) WatchState {
	entry, ok := self.cache.Get(key)
	switch {
	case !ok:
		return Unwatched
	case entry.Initializing:
		return Initializing
	case entry.RefCount > 0:
		return Live
	default:
		return Draining
	}
}

func (self *Controller) Close() {
	self.cache.Close()
	if self.failures != nil {
		self.failures.Flush()
	}
}

func (self *Controller) isHeldDown(key string) bool {
	if self.failures == nil {
		return false
	}
	_, found := self.failures.Get(key)
	return found
}

func (self *Controller) initialize(ctx context.Context, key string, req resource.Request, basePath string) {
	logger := self.logger.With("key", key)

	// a caller giving up does not abort the shared initialisation
	initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
	defer cancel()

	result, resourceVersion, err := self.fetchSnapshot(initCtx, key, req)
	if err != nil {
		metrics.FetchErrors.Inc()
		logger.Warn("failed to fetch snapshot", "error", err)

		failed := Result{Loaded: true, LoadError: err}
		if req.IsList() {
			failed.List = []*resource.Resource{}
		}
		self.cache.SetResult(key, failed, "")
		if self.failures != nil {
			self.failures.SetDefault(key, err)
		}
		self.cache.failInit(key)
		return
	}
	if self.failures != nil {
		self.failures.Delete(key)
	}
	self.cache.SetResult(key, result, resourceVersion)

	socket, err := self.openSocket(initCtx, logger, key, req, basePath, resourceVersion)
	if err != nil {
		// the snapshot stays valid for the TTL, the next StartWatch after that retries
		logger.Warn("failed to open watch socket", "error", err)
		self.cache.finishInit(key, nil)
		return
	}

	if !self.cache.finishInit(key, socket.Socket) {
		logger.Debug("watch was dropped while initializing")
		_ = socket.Close()
		return
	}
	if socket.ended.Load() {
		self.cache.DetachSocket(key, socket.ID())
	}
	logger.Info("watch is live", "socket", socket.ID(), "resourceVersion", resourceVersion)
}

func (self *Controller) fetchSnapshot(ctx context.Context, key string, req resource.Request) (Result, string, error) {
	data, err := self.fetcher.Fetch(ctx, key)
	if err != nil {
		return Result{}, "", err
	}

	if req.IsList() {
		items, resourceVersion, err := resource.DecodeList(data)
		if err != nil {
			return Result{}, "", err
		}
		return Result{List: resource.StampAll(items, req.Model, req.Cluster), Loaded: true}, resourceVersion, nil
	}

	object, err := resource.DecodeObject(data)
	if err != nil {
		return Result{}, "", err
	}
	return Result{Object: resource.Stamp(object, req.Model, req.Cluster), Loaded: true}, object.GetResourceVersion(), nil
}

type watchSocket struct {
	transport.Socket
	ended atomic.Bool
}

func (self *Controller) openSocket(ctx context.Context, logger *slog.Logger, key string, req resource.Request, basePath string, resourceVersion string) (*watchSocket, error) {
	isList := req.IsList()
	socket := &watchSocket{}
	ready := make(chan struct{})

	onFrame := func(frame []byte) {
		event, err := DecodeEvent(frame)
		if err != nil {
			metrics.DroppedEvents.WithLabelValues("malformed").Inc()
			logger.Warn("dropping watch frame", "error", err)
			return
		}
		self.cache.Reconcile(key, event, isList, req.Cluster)
	}
	onClose := func(err error) {
		socket.ended.Store(true)
		<-ready
		if err != nil {
			logger.Warn("watch socket ended", "socket", socket.ID(), "error", err)
		}
		if self.cache.DetachSocket(key, socket.ID()) {
			logger.Info("watch socket detached", "socket", socket.ID())
		}
	}

	path := pathresolver.WatchPath(req, basePath, resourceVersion)
	inner, err := self.dialer.Dial(ctx, path, onFrame, onClose)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", path, err)
	}
	socket.Socket = inner
	close(ready)

	return socket, nil
}
