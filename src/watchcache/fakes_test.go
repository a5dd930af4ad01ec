package watchcache_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stolostron/console-sub025/src/logging"
	"github.com/stolostron/console-sub025/src/transport"
	"github.com/stolostron/console-sub025/src/watchcache"

	testingclock "k8s.io/utils/clock/testing"
)

const (
	testTTL   = 30 * time.Second
	testGrace = 5 * time.Second
)

func newTestCache(t *testing.T) (*watchcache.Cache, *testingclock.FakeClock) {
	fakeClock := testingclock.NewFakeClock(time.Now())
	cache := watchcache.NewCache(logging.NewMockSlogManager(t).CreateLogger("watchcache"), watchcache.CacheOptions{
		TTL:           testTTL,
		EvictionGrace: testGrace,
		Clock:         fakeClock,
	})
	t.Cleanup(cache.Close)
	return cache, fakeClock
}

type fakeSocket struct {
	id     string
	closes atomic.Int32
}

func (self *fakeSocket) ID() string {
	return self.id
}

func (self *fakeSocket) Close() error {
	self.closes.Add(1)
	return nil
}

func (self *fakeSocket) closed() bool {
	return self.closes.Load() > 0
}

type fakeFetcher struct {
	lock  sync.Mutex
	calls int
	paths []string
	// when set, every Fetch waits for it to be closed
	gate     chan struct{}
	response []byte
	err      error
}

func (self *fakeFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	self.lock.Lock()
	self.calls++
	self.paths = append(self.paths, path)
	gate := self.gate
	response, err := self.response, self.err
	self.lock.Unlock()

	if gate != nil {
		<-gate
	}
	return response, err
}

func (self *fakeFetcher) callCount() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.calls
}

func (self *fakeFetcher) set(response string, err error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.response = []byte(response)
	self.err = err
}

type dialedSocket struct {
	path    string
	socket  *fakeSocket
	onFrame func(frame []byte)
	onClose func(err error)
}

type fakeDialer struct {
	lock    sync.Mutex
	dialed  []*dialedSocket
	failure error
}

func (self *fakeDialer) Dial(ctx context.Context, path string, onFrame func(frame []byte), onClose func(err error)) (transport.Socket, error) {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.failure != nil {
		return nil, self.failure
	}
	dialed := &dialedSocket{
		path:    path,
		socket:  &fakeSocket{id: fmt.Sprintf("socket-%d", len(self.dialed))},
		onFrame: onFrame,
		onClose: onClose,
	}
	self.dialed = append(self.dialed, dialed)
	return dialed.socket, nil
}

func (self *fakeDialer) dialCount() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	return len(self.dialed)
}

func (self *fakeDialer) last() *dialedSocket {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.dialed[len(self.dialed)-1]
}

const podListJSON = `{
	"kind": "PodList",
	"apiVersion": "v1",
	"metadata": {"resourceVersion": "100"},
	"items": [
		{"metadata": {"name": "web-0", "namespace": "default", "uid": "uid-web-0", "resourceVersion": "90"}}
	]
}`

func podFrame(eventType string, name string, resourceVersion string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":%q,"object":{"kind":"Pod","apiVersion":"v1","metadata":{"name":%q,"namespace":"default","uid":"uid-%s","resourceVersion":%q}}}`,
		eventType, name, name, resourceVersion,
	))
}
