package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/metrics"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"
	"k8s.io/client-go/rest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// An opaque lookup of the hub cluster name.
type Lookup func(ctx context.Context) (string, error)

var ErrEmptyHubName = errors.New("hub lookup returned an empty name")

// Upper bound for a lookup shared by several waiters, so one caller giving up
// does not fail everyone else.
const lookupTimeout = 30 * time.Second

const flightKey = "hub"

// Resolves the hub cluster name once per process lifetime.
//
// Concurrent callers share a single in-flight lookup. Failures are handed to
// every waiter of that lookup but are not remembered.
type Resolver struct {
	lookup  Lookup
	logger  *slog.Logger
	flights singleflight.Group

	lock     sync.RWMutex
	name     string
	resolved bool
}

func NewResolver(logger *slog.Logger, lookup Lookup) *Resolver {
	assert.Assert(logger != nil)
	assert.Assert(lookup != nil)

	return &Resolver{
		lookup: lookup,
		logger: logger,
	}
}

// The hub name if it has been resolved already. Never blocks.
func (self *Resolver) Peek() (string, bool) {
	self.lock.RLock()
	defer self.lock.RUnlock()

	return self.name, self.resolved
}

func (self *Resolver) Resolve(ctx context.Context) (string, error) {
	if name, ok := self.Peek(); ok {
		return name, nil
	}

	resultCh := self.flights.DoChan(flightKey, func() (any, error) {
		// a previous flight may have finished between Peek and DoChan
		if name, ok := self.Peek(); ok {
			return name, nil
		}

		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		name, err := self.lookup(lookupCtx)
		if err == nil && name == "" {
			err = ErrEmptyHubName
		}
		if err != nil {
			metrics.HubResolutions.WithLabelValues("failure").Inc()
			self.logger.Warn("failed to resolve hub cluster", "error", err)
			return "", err
		}
		metrics.HubResolutions.WithLabelValues("success").Inc()

		self.lock.Lock()
		self.name = name
		self.resolved = true
		self.lock.Unlock()

		self.logger.Info("resolved hub cluster", "hub", name)
		return name, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-resultCh:
		if result.Err != nil {
			return "", fmt.Errorf("failed to resolve hub cluster: %w", result.Err)
		}
		return result.Val.(string), nil
	}
}

func StaticLookup(name string) Lookup {
	return func(ctx context.Context) (string, error) {
		return name, nil
	}
}

type hubInfo struct {
	LocalHubName string `json:"localHubName"`
	IsGlobalHub  bool   `json:"isGlobalHub"`
}

// Ask the backend which cluster it runs on. The endpoint answers with
// `{"localHubName": "<name>"}`.
func HTTPLookup(client rest.Interface, path string) Lookup {
	assert.Assert(client != nil)

	return func(ctx context.Context) (string, error) {
		data, err := client.Get().AbsPath(path).DoRaw(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to query %s: %w", path, err)
		}

		info := hubInfo{}
		err = json.Unmarshal(data, &info)
		if err != nil {
			return "", fmt.Errorf("failed to decode hub info: %w", err)
		}

		return info.LocalHubName, nil
	}
}
