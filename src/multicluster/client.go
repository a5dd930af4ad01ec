package multicluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/hub"
	"github.com/stolostron/console-sub025/src/pathresolver"
	"github.com/stolostron/console-sub025/src/resource"
	"github.com/stolostron/console-sub025/src/transport"
	"github.com/stolostron/console-sub025/src/watchcache"
)

var (
	ErrFleetUnavailable = errors.New("managed clusters are not available")
	ErrHubNotLoaded     = errors.New("hub cluster is not resolved yet")
)

// Where a request goes.
type Route struct {
	// Target cluster, the hub name for hub local requests.
	Cluster  string
	HubLocal bool
	BasePath string
}

type Options struct {
	Paths pathresolver.Options
	// Reports whether managed clusters can be reached. Nil means always.
	FleetAvailable func() bool
}

// Reads and watches resources on the hub and on managed clusters.
type Client struct {
	logger     *slog.Logger
	hub        *hub.Resolver
	controller *watchcache.Controller
	fetcher    transport.Fetcher
	local      LocalClient
	opts       Options
}

// local may be nil, hub reads then go through the proxy as well.
func NewClient(logger *slog.Logger, resolver *hub.Resolver, controller *watchcache.Controller, fetcher transport.Fetcher, local LocalClient, opts Options) *Client {
	assert.Assert(logger != nil)
	assert.Assert(resolver != nil)
	assert.Assert(controller != nil)
	assert.Assert(fetcher != nil)

	if opts.Paths.BackendRoot == "" {
		opts.Paths.BackendRoot = pathresolver.DefaultBackendRoot
	}
	if opts.Paths.ProxySegment == "" {
		opts.Paths.ProxySegment = pathresolver.DefaultProxySegment
	}

	return &Client{
		logger:     logger,
		hub:        resolver,
		controller: controller,
		fetcher:    fetcher,
		local:      local,
		opts:       opts,
	}
}

func (self *Client) route(cluster string, hubName string) Route {
	hubLocal := pathresolver.IsHubLocal(cluster, hubName)
	if hubLocal {
		cluster = hubName
	}
	return Route{
		Cluster:  cluster,
		HubLocal: hubLocal,
		BasePath: pathresolver.BackendPath(cluster, hubName, self.opts.Paths),
	}
}

// Route a request without waiting for the hub identity. Fails with
// ErrHubNotLoaded while the identity is unresolved.
func (self *Client) Route(req resource.Request) (Route, error) {
	hubName, ok := self.hub.Peek()
	if !ok {
		return Route{}, ErrHubNotLoaded
	}
	return self.route(req.Cluster, hubName), nil
}

// Route a request once the hub identity is known and apply the fleet gate.
func (self *Client) resolveRoute(ctx context.Context, req resource.Request) (Route, error) {
	err := req.Validate()
	if err != nil {
		return Route{}, err
	}

	hubName, err := self.hub.Resolve(ctx)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %w", ErrHubNotLoaded, err)
	}

	route := self.route(req.Cluster, hubName)
	if !route.HubLocal && self.opts.FleetAvailable != nil && !self.opts.FleetAvailable() {
		return Route{}, ErrFleetUnavailable
	}
	return route, nil
}

// Start watching a resource or collection. The returned handle has to be
// stopped by the caller.
func (self *Client) Watch(ctx context.Context, req resource.Request) (*Watch, error) {
	route, err := self.resolveRoute(ctx, req)
	if err != nil {
		return nil, err
	}
	req.Cluster = route.Cluster

	key, err := self.controller.StartWatch(ctx, req, route.BasePath)
	if err != nil {
		return nil, err
	}

	return &Watch{
		controller: self.controller,
		request:    req,
		route:      route,
		key:        key,
	}, nil
}

type ReadOptions struct {
	// Also store the result in the watch cache.
	Populate bool
}

// Read a single resource.
func (self *Client) Get(ctx context.Context, req resource.Request, opts ReadOptions) (*resource.Resource, error) {
	if req.IsList() {
		return nil, fmt.Errorf("%w: get requires a name", resource.ErrInvalidRequest)
	}
	route, err := self.resolveRoute(ctx, req)
	if err != nil {
		return nil, err
	}
	req.Cluster = route.Cluster

	var object *resource.Resource
	if route.HubLocal && self.local != nil {
		raw, err := self.local.Get(ctx, req)
		if err != nil {
			return nil, err
		}
		object = resource.Stamp(raw, req.Model, route.Cluster)
	} else {
		data, err := self.fetcher.Fetch(ctx, pathresolver.CacheKey(req, route.BasePath))
		if err != nil {
			return nil, err
		}
		raw, err := resource.DecodeObject(data)
		if err != nil {
			return nil, err
		}
		object = resource.Stamp(raw, req.Model, route.Cluster)
	}

	if opts.Populate {
		key := pathresolver.CacheKey(req, route.BasePath)
		self.controller.Cache().SetResult(key, watchcache.Result{Object: object, Loaded: true}, object.ResourceVersion())
	}
	return object, nil
}

// Read a collection.
func (self *Client) List(ctx context.Context, req resource.Request, opts ReadOptions) ([]*resource.Resource, error) {
	if !req.IsList() {
		return nil, fmt.Errorf("%w: list does not take a name", resource.ErrInvalidRequest)
	}
	route, err := self.resolveRoute(ctx, req)
	if err != nil {
		return nil, err
	}
	req.Cluster = route.Cluster

	var items []*resource.Resource
	resourceVersion := ""
	if route.HubLocal && self.local != nil {
		raw, listVersion, err := self.local.List(ctx, req)
		if err != nil {
			return nil, err
		}
		items = resource.StampAll(raw, req.Model, route.Cluster)
		resourceVersion = listVersion
	} else {
		data, err := self.fetcher.Fetch(ctx, pathresolver.CacheKey(req, route.BasePath))
		if err != nil {
			return nil, err
		}
		raw, listVersion, err := resource.DecodeList(data)
		if err != nil {
			return nil, err
		}
		items = resource.StampAll(raw, req.Model, route.Cluster)
		resourceVersion = listVersion
	}

	if opts.Populate {
		key := pathresolver.CacheKey(req, route.BasePath)
		self.controller.Cache().SetResult(key, watchcache.Result{List: items, Loaded: true}, resourceVersion)
	}
	return items, nil
}

// Tear down every watch and socket.
func (self *Client) Close() {
	self.controller.Close()
}

// A consumer's reference on a watch.
type Watch struct {
	controller *watchcache.Controller
	request    resource.Request
	route      Route
	key        string
	stopOnce   sync.Once
}

func (self *Watch) Key() string {
	return self.key
}

func (self *Watch) Route() Route {
	return self.route
}

func (self *Watch) Request() resource.Request {
	return self.request
}

func (self *Watch) Result() watchcache.Result {
	entry, ok := self.controller.Cache().Get(self.key)
	if !ok {
		return watchcache.Result{}
	}
	return entry.Result
}

func (self *Watch) Subscribe(callback watchcache.Callback) func() {
	return self.controller.Subscribe(self.key, callback)
}

// Block until the result has been loaded, successfully or not.
func (self *Watch) Wait(ctx context.Context) (watchcache.Result, error) {
	loaded := make(chan watchcache.Result, 1)
	unsubscribe := self.Subscribe(func(result watchcache.Result) {
		if !result.Loaded {
			return
		}
		select {
		case loaded <- result:
		default:
		}
	})
	defer unsubscribe()

	if result := self.Result(); result.Loaded {
		return result, nil
	}

	select {
	case <-ctx.Done():
		return watchcache.Result{}, ctx.Err()
	case result := <-loaded:
		return result, nil
	}
}

// Drop the reference. Calling Stop again does nothing.
func (self *Watch) Stop() {
	self.stopOnce.Do(func() {
		self.controller.StopWatch(self.request, self.route.BasePath)
	})
}
