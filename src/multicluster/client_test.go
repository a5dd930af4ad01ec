package multicluster_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stolostron/console-sub025/src/hub"
	"github.com/stolostron/console-sub025/src/logging"
	"github.com/stolostron/console-sub025/src/multicluster"
	"github.com/stolostron/console-sub025/src/pathresolver"
	"github.com/stolostron/console-sub025/src/resource"
	"github.com/stolostron/console-sub025/src/transport"
	"github.com/stolostron/console-sub025/src/watchcache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	testingclock "k8s.io/utils/clock/testing"
)

type recordingFetcher struct {
	lock  sync.Mutex
	paths []string
}

func (self *recordingFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.paths = append(self.paths, path)
	return []byte(`{"kind":"PodList","apiVersion":"v1","metadata":{"resourceVersion":"7"},"items":[{"metadata":{"name":"api-0","namespace":"default","uid":"u1"}}]}`), nil
}

func (self *recordingFetcher) fetched() []string {
	self.lock.Lock()
	defer self.lock.Unlock()
	return append([]string{}, self.paths...)
}

type objectFetcher struct{}

func (self *objectFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	return []byte(`{"metadata":{"name":"api-0","namespace":"default","uid":"u1","resourceVersion":"8"}}`), nil
}

type nopSocket struct {
	id string
}

func (self *nopSocket) ID() string   { return self.id }
func (self *nopSocket) Close() error { return nil }

type countingDialer struct {
	dials atomic.Int32
}

func (self *countingDialer) Dial(ctx context.Context, path string, onFrame func([]byte), onClose func(error)) (transport.Socket, error) {
	count := self.dials.Add(1)
	return &nopSocket{id: fmt.Sprintf("socket-%d", count)}, nil
}

type fixture struct {
	client  *multicluster.Client
	fetcher *recordingFetcher
	dialer  *countingDialer
	cache   *watchcache.Cache
}

func newFixture(t *testing.T, lookup hub.Lookup, local multicluster.LocalClient, fleetAvailable func() bool) *fixture {
	logManager := logging.NewMockSlogManager(t)
	cache := watchcache.NewCache(logManager.CreateLogger("watchcache"), watchcache.CacheOptions{
		TTL:           time.Minute,
		EvictionGrace: time.Second,
		Clock:         testingclock.NewFakeClock(time.Now()),
	})
	fetcher := &recordingFetcher{}
	dialer := &countingDialer{}
	controller := watchcache.NewController(logManager.CreateLogger("controller"), cache, fetcher, dialer, watchcache.ControllerOptions{})
	client := multicluster.NewClient(
		logManager.CreateLogger("multicluster"),
		hub.NewResolver(logManager.CreateLogger("hub"), lookup),
		controller,
		fetcher,
		local,
		multicluster.Options{Paths: pathresolver.DefaultOptions(), FleetAvailable: fleetAvailable},
	)
	t.Cleanup(client.Close)

	return &fixture{client: client, fetcher: fetcher, dialer: dialer, cache: cache}
}

func podsIn(cluster string) resource.Request {
	return resource.Request{Model: resource.PodResource, Cluster: cluster, Namespace: "default"}
}

func TestRoutingDeterminism(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	f := newFixture(t, hub.StaticLookup("hub-1"), nil, nil)

	_, err := f.client.Route(podsIn(""))
	assert.ErrorIs(err, multicluster.ErrHubNotLoaded)

	watch, err := f.client.Watch(context.Background(), podsIn(""))
	require.NoError(t, err)
	defer watch.Stop()

	for _, cluster := range []string{"", "hub-1"} {
		route, err := f.client.Route(podsIn(cluster))
		assert.NoError(err)
		assert.True(route.HubLocal)
		assert.Equal("hub-1", route.Cluster)
		assert.Equal("/multicloud", route.BasePath)
	}

	route, err := f.client.Route(podsIn("remote-1"))
	assert.NoError(err)
	assert.False(route.HubLocal)
	assert.Equal("remote-1", route.Cluster)
	assert.Equal("/multicloud/managedclusterproxy/remote-1", route.BasePath)
}

func TestWatchIsDeferredUntilHubResolves(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	release := make(chan error)
	f := newFixture(t, func(ctx context.Context) (string, error) {
		if err := <-release; err != nil {
			return "", err
		}
		return "hub-1", nil
	}, nil, nil)

	result := make(chan error)
	go func() {
		watch, err := f.client.Watch(context.Background(), podsIn("remote-1"))
		if err == nil {
			watch.Stop()
		}
		result <- err
	}()

	assert.Never(func() bool {
		return len(f.fetcher.fetched()) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
	_, err := f.client.Route(podsIn("remote-1"))
	assert.ErrorIs(err, multicluster.ErrHubNotLoaded)

	lookupFailure := errors.New("hub config unavailable")
	release <- lookupFailure
	err = <-result
	assert.ErrorIs(err, multicluster.ErrHubNotLoaded)
	assert.ErrorIs(err, lookupFailure)
	assert.Empty(f.fetcher.fetched())
	assert.Equal(int32(0), f.dialer.dials.Load())

	go func() {
		release <- nil
	}()
	watch, err := f.client.Watch(context.Background(), podsIn("remote-1"))
	require.NoError(t, err)
	defer watch.Stop()
	assert.Equal([]string{"/multicloud/managedclusterproxy/remote-1/api/v1/namespaces/default/pods"}, f.fetcher.fetched())
}

func TestFleetGateShortCircuits(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	f := newFixture(t, hub.StaticLookup("hub-1"), nil, func() bool { return false })

	_, err := f.client.Watch(context.Background(), podsIn("remote-1"))
	assert.ErrorIs(err, multicluster.ErrFleetUnavailable)
	_, err = f.client.List(context.Background(), podsIn("remote-1"), multicluster.ReadOptions{})
	assert.ErrorIs(err, multicluster.ErrFleetUnavailable)
	assert.Empty(f.fetcher.fetched())
	assert.Equal(int32(0), f.dialer.dials.Load())

	watch, err := f.client.Watch(context.Background(), podsIn("hub-1"))
	require.NoError(t, err)
	watch.Stop()
}

func TestWatchHandle(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	f := newFixture(t, hub.StaticLookup("hub-1"), nil, nil)

	first, err := f.client.Watch(context.Background(), podsIn(""))
	require.NoError(t, err)
	second, err := f.client.Watch(context.Background(), podsIn("hub-1"))
	require.NoError(t, err)
	assert.Equal(first.Key(), second.Key())
	assert.Equal(int32(1), f.dialer.dials.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := first.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, result.List, 1)
	assert.Equal("hub-1", result.List[0].Cluster)
	assert.Equal("Pod", result.List[0].Object.GetKind())

	first.Stop()
	first.Stop()
	entry, _ := f.cache.Get(first.Key())
	assert.Equal(1, entry.RefCount)

	second.Stop()
	entry, _ = f.cache.Get(first.Key())
	assert.Equal(0, entry.RefCount)
	assert.False(entry.HasSocket)
}

func TestWatchRejectsInvalidRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, hub.StaticLookup("hub-1"), nil, nil)

	_, err := f.client.Watch(context.Background(), resource.Request{Model: resource.PodResource, Cluster: "Not A Hostname!"})
	assert.ErrorIs(t, err, resource.ErrInvalidRequest)
}

func TestRemoteListGoesThroughProxy(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	f := newFixture(t, hub.StaticLookup("hub-1"), nil, nil)

	items, err := f.client.List(context.Background(), podsIn("remote-1"), multicluster.ReadOptions{Populate: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal("remote-1", items[0].Cluster)

	key := "/multicloud/managedclusterproxy/remote-1/api/v1/namespaces/default/pods"
	assert.Equal([]string{key}, f.fetcher.fetched())

	entry, ok := f.cache.Get(key)
	require.True(t, ok)
	assert.Len(entry.Result.List, 1)
	assert.Equal("7", entry.ResourceVersion)
	assert.Equal(0, entry.RefCount)

	// a watch started right after reuses the populated entry
	watch, err := f.client.Watch(context.Background(), podsIn("remote-1"))
	require.NoError(t, err)
	defer watch.Stop()
	assert.Len(f.fetcher.fetched(), 1)
}

func TestRemoteGet(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logManager := logging.NewMockSlogManager(t)
	cache := watchcache.NewCache(logManager.CreateLogger("watchcache"), watchcache.CacheOptions{Clock: testingclock.NewFakeClock(time.Now())})
	controller := watchcache.NewController(logManager.CreateLogger("controller"), cache, &objectFetcher{}, &countingDialer{}, watchcache.ControllerOptions{})
	client := multicluster.NewClient(logManager.CreateLogger("multicluster"), hub.NewResolver(logManager.CreateLogger("hub"), hub.StaticLookup("hub-1")), controller, &objectFetcher{}, nil, multicluster.Options{})
	defer client.Close()

	req := resource.Request{Model: resource.PodResource, Cluster: "remote-1", Namespace: "default", Name: "api-0"}
	object, err := client.Get(context.Background(), req, multicluster.ReadOptions{})
	require.NoError(t, err)
	assert.Equal("api-0", object.Name())
	assert.Equal("remote-1", object.Cluster)
	assert.Equal("Pod", object.Object.GetKind())

	_, err = client.Get(context.Background(), podsIn("remote-1"), multicluster.ReadOptions{})
	assert.ErrorIs(err, resource.ErrInvalidRequest)
	_, err = client.List(context.Background(), req, multicluster.ReadOptions{})
	assert.ErrorIs(err, resource.ErrInvalidRequest)
}

func newDynamicClient(objects ...runtime.Object) *dynamicfake.FakeDynamicClient {
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(
		runtime.NewScheme(),
		map[schema.GroupVersionResource]string{{Version: "v1", Resource: "pods"}: "PodList"},
		objects...,
	)
}

func localPod(name string, labels map[string]string) *unstructured.Unstructured {
	object := &unstructured.Unstructured{}
	object.SetAPIVersion("v1")
	object.SetKind("Pod")
	object.SetName(name)
	object.SetNamespace("default")
	object.SetLabels(labels)
	return object
}

func TestHubReadsUseLocalClient(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	local := multicluster.NewDynamicLocalClient(newDynamicClient(
		localPod("web-0", map[string]string{"app": "web"}),
		localPod("db-0", map[string]string{"app": "db"}),
	))
	f := newFixture(t, hub.StaticLookup("hub-1"), local, nil)

	req := podsIn("")
	req.Selector = &resource.Selector{MatchLabels: map[string]string{"app": "web"}}
	items, err := f.client.List(context.Background(), req, multicluster.ReadOptions{Populate: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal("web-0", items[0].Name())
	assert.Equal("hub-1", items[0].Cluster)

	entry, ok := f.cache.Get("/multicloud/api/v1/namespaces/default/pods?labelSelector=app%3Dweb")
	require.True(t, ok)
	assert.Len(entry.Result.List, 1)

	object, err := f.client.Get(context.Background(), resource.Request{Model: resource.PodResource, Cluster: "hub-1", Namespace: "default", Name: "db-0"}, multicluster.ReadOptions{})
	require.NoError(t, err)
	assert.Equal("db-0", object.Name())
	assert.Equal("hub-1", object.Cluster)

	assert.Empty(f.fetcher.fetched(), "hub reads never touch the proxy")
}
