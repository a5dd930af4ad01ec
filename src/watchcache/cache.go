package watchcache

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/metrics"
	"github.com/stolostron/console-sub025/src/resource"
	"github.com/stolostron/console-sub025/src/transport"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultEvictionGrace = 5 * time.Second
)

// The last known state of a watch target.
//
// List targets use List, single targets use Object. A nil List means the list
// has not been initialised yet.
type Result struct {
	List      []*resource.Resource
	Object    *resource.Resource
	Loaded    bool
	LoadError error
}

func (self Result) copy() Result {
	if self.List != nil {
		self.List = slices.Clone(self.List)
	}
	return self
}

// Snapshot of a cache entry. Changing it does not change the cache.
type Entry struct {
	Result          Result
	HasSocket       bool
	RefCount        int
	Timestamp       time.Time
	ResourceVersion string
	PendingEviction bool
	Initializing    bool
}

type Callback func(result Result)

type entry struct {
	result          Result
	socket          transport.Socket
	refCount        int
	timestamp       time.Time
	resourceVersion string
	initializing    bool
	eviction        clock.Timer
	evictionToken   uint64
}

type CacheOptions struct {
	// How long an entry without a socket stays valid after its last write.
	TTL time.Duration
	// Added to the TTL before an unreferenced entry is removed.
	EvictionGrace time.Duration
	Clock         clock.WithDelayedExecution
}

// Reference counted store of watch results keyed by request path.
//
// One lock guards entries, subscribers and the initializing flags. Sockets are
// closed and subscribers are called after the lock has been released.
type Cache struct {
	logger *slog.Logger
	ttl    time.Duration
	grace  time.Duration
	clock  clock.WithDelayedExecution

	lock        sync.Mutex
	entries     map[string]*entry
	subscribers map[string]map[string]Callback
	nextToken   uint64
}

func NewCache(logger *slog.Logger, opts CacheOptions) *Cache {
	assert.Assert(logger != nil)

	self := &Cache{}
	self.logger = logger
	self.ttl = opts.TTL
	if self.ttl <= 0 {
		self.ttl = DefaultTTL
	}
	self.grace = opts.EvictionGrace
	if self.grace < 0 {
		self.grace = DefaultEvictionGrace
	}
	self.clock = opts.Clock
	if self.clock == nil {
		self.clock = clock.RealClock{}
	}
	self.entries = map[string]*entry{}
	self.subscribers = map[string]map[string]Callback{}

	return self
}

type notification struct {
	callbacks []Callback
	result    Result
}

func (self notification) send() {
	for _, callback := range self.callbacks {
		callback(self.result)
	}
}

func (self *Cache) notificationLocked(key string, e *entry) notification {
	subscribers := self.subscribers[key]
	if len(subscribers) == 0 {
		return notification{}
	}
	callbacks := make([]Callback, 0, len(subscribers))
	for _, callback := range subscribers {
		callbacks = append(callbacks, callback)
	}
	return notification{callbacks: callbacks, result: e.result.copy()}
}

func (self *Cache) getOrCreateLocked(key string) *entry {
	e, ok := self.entries[key]
	if !ok {
		e = &entry{}
		self.entries[key] = e
		metrics.CacheEntries.Inc()
	}
	return e
}

func (self *Cache) Get(key string) (Entry, bool) {
	self.lock.Lock()
	defer self.lock.Unlock()

	e, ok := self.entries[key]
	if !ok {
		return Entry{}, false
	}

	return Entry{
		Result:          e.result.copy(),
		HasSocket:       e.socket != nil,
		RefCount:        e.refCount,
		Timestamp:       e.timestamp,
		ResourceVersion: e.resourceVersion,
		PendingEviction: e.eviction != nil,
		Initializing:    e.initializing,
	}, true
}

func (self *Cache) Keys() []string {
	self.lock.Lock()
	defer self.lock.Unlock()

	keys := make([]string, 0, len(self.entries))
	for key := range self.entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Replace the result of an entry and refresh its timestamp. An empty
// resourceVersion keeps the one already tracked. Entries with a socket are
// only written by their stream and are left untouched.
func (self *Cache) SetResult(key string, result Result, resourceVersion string) {
	now := self.clock.Now()

	self.lock.Lock()
	e := self.getOrCreateLocked(key)
	if e.socket != nil {
		self.lock.Unlock()
		self.logger.Debug("ignoring result for streamed entry", "key", key, "resourceVersion", resourceVersion)
		return
	}
	e.result = result.copy()
	e.timestamp = now
	if resourceVersion != "" {
		e.resourceVersion = resourceVersion
	}
	self.ensureEvictionLocked(key, e)
	notify := self.notificationLocked(key, e)
	self.lock.Unlock()

	notify.send()
}

// Attach a socket, creating the entry if needed. A socket attached before is closed.
func (self *Cache) SetSocket(key string, socket transport.Socket) {
	assert.Assert(socket != nil)

	self.lock.Lock()
	e := self.getOrCreateLocked(key)
	replaced := e.socket
	e.socket = socket
	self.lock.Unlock()

	if replaced != nil && replaced != socket {
		self.closeSocket(key, replaced)
	}
	if replaced == nil {
		metrics.OpenSockets.Inc()
	}
}

// Detach a socket which ended on its own. Nothing happens when another socket
// has been attached in the meantime.
func (self *Cache) DetachSocket(key string, socketId string) bool {
	self.lock.Lock()
	defer self.lock.Unlock()

	e, ok := self.entries[key]
	if !ok || e.socket == nil || e.socket.ID() != socketId {
		return false
	}
	e.socket = nil
	metrics.OpenSockets.Dec()
	self.ensureEvictionLocked(key, e)
	return true
}

func (self *Cache) IncrementRef(key string) int {
	self.lock.Lock()
	defer self.lock.Unlock()

	e := self.getOrCreateLocked(key)
	self.incrementRefLocked(e)
	return e.refCount
}

func (self *Cache) incrementRefLocked(e *entry) {
	self.cancelEvictionLocked(e)
	e.refCount++
}

// Drop a reference. At zero the socket is closed and the entry is scheduled
// for removal. Dropping below zero is clamped.
func (self *Cache) DecrementRef(key string) int {
	self.lock.Lock()
	e, ok := self.entries[key]
	if !ok {
		self.lock.Unlock()
		return 0
	}
	if e.refCount == 0 {
		self.lock.Unlock()
		self.logger.Debug("reference count is already zero", "key", key)
		return 0
	}

	e.refCount--
	refCount := e.refCount
	var socket transport.Socket
	if refCount == 0 {
		socket = e.socket
		if socket != nil {
			e.socket = nil
			metrics.OpenSockets.Dec()
		}
		self.scheduleEvictionLocked(key, e)
	}
	self.lock.Unlock()

	if socket != nil {
		self.closeSocket(key, socket)
	}
	return refCount
}

// An entry is valid while a socket backs it or its last write is younger than the TTL.
func (self *Cache) IsValid(key string) bool {
	now := self.clock.Now()

	self.lock.Lock()
	defer self.lock.Unlock()

	e, ok := self.entries[key]
	if !ok {
		return false
	}
	return self.isValidLocked(e, now)
}

func (self *Cache) isValidLocked(e *entry, now time.Time) bool {
	if e.socket != nil {
		return true
	}
	if e.timestamp.IsZero() {
		return false
	}
	return now.Sub(e.timestamp) < self.ttl
}

func (self *Cache) RemoveEntry(key string) {
	self.lock.Lock()
	e, ok := self.entries[key]
	if !ok {
		self.lock.Unlock()
		return
	}
	socket := self.removeLocked(key, e)
	self.lock.Unlock()

	if socket != nil {
		self.closeSocket(key, socket)
	}
}

func (self *Cache) removeLocked(key string, e *entry) transport.Socket {
	self.cancelEvictionLocked(e)
	delete(self.entries, key)
	metrics.CacheEntries.Dec()

	socket := e.socket
	if socket != nil {
		e.socket = nil
		metrics.OpenSockets.Dec()
	}
	return socket
}

// Remove every entry and close every socket. Subscribers stay registered.
func (self *Cache) Clear() {
	self.lock.Lock()
	sockets := map[string]transport.Socket{}
	for key, e := range self.entries {
		if socket := self.removeLocked(key, e); socket != nil {
			sockets[key] = socket
		}
	}
	self.lock.Unlock()

	for key, socket := range sockets {
		self.closeSocket(key, socket)
	}
}

// Clear the cache and drop all subscribers.
func (self *Cache) Close() {
	self.Clear()

	self.lock.Lock()
	self.subscribers = map[string]map[string]Callback{}
	self.lock.Unlock()
}

// Register a callback for changes of a key. The returned function unregisters
// it and may be called more than once.
func (self *Cache) Subscribe(key string, callback Callback) func() {
	assert.Assert(callback != nil)

	id := uuid.New().String()

	self.lock.Lock()
	subscribers, ok := self.subscribers[key]
	if !ok {
		subscribers = map[string]Callback{}
		self.subscribers[key] = subscribers
	}
	subscribers[id] = callback
	self.lock.Unlock()

	return func() {
		self.lock.Lock()
		defer self.lock.Unlock()

		subscribers, ok := self.subscribers[key]
		if !ok {
			return
		}
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(self.subscribers, key)
		}
	}
}

func (self *Cache) SubscriberCount(key string) int {
	self.lock.Lock()
	defer self.lock.Unlock()

	return len(self.subscribers[key])
}

// Apply a watch event to the entry of key.
func (self *Cache) Reconcile(key string, event Event, isList bool, cluster string) bool {
	now := self.clock.Now()

	self.lock.Lock()
	e, ok := self.entries[key]
	if !ok {
		self.lock.Unlock()
		metrics.DroppedEvents.WithLabelValues("no_entry").Inc()
		return false
	}

	result, resourceVersion, changed := Apply(self.logger, event, e.result, e.resourceVersion, isList, cluster)
	e.resourceVersion = resourceVersion
	metrics.AppliedEvents.WithLabelValues(string(event.Type)).Inc()
	if !changed {
		self.lock.Unlock()
		return false
	}
	e.result = result
	e.timestamp = now
	notify := self.notificationLocked(key, e)
	self.lock.Unlock()

	notify.send()
	return true
}

// Take a reference for a watch. Returns true when the caller has to
// initialise the entry, false when a valid or initialising entry is reused.
// Failed entries are initialised again unless they are held down.
func (self *Cache) acquire(key string, heldDown bool) bool {
	now := self.clock.Now()

	self.lock.Lock()
	defer self.lock.Unlock()

	e, existed := self.entries[key]
	reuse := existed && (e.initializing || heldDown || (e.result.LoadError == nil && self.isValidLocked(e, now)))
	if !existed {
		e = self.getOrCreateLocked(key)
	}
	self.incrementRefLocked(e)
	if reuse {
		return false
	}
	e.initializing = true
	return true
}

// Attach the socket of a finished initialisation. Returns false when nobody
// references the entry anymore, the caller then closes the socket.
func (self *Cache) finishInit(key string, socket transport.Socket) bool {
	self.lock.Lock()
	defer self.lock.Unlock()

	e, ok := self.entries[key]
	if !ok {
		return false
	}
	e.initializing = false
	if e.refCount == 0 {
		self.ensureEvictionLocked(key, e)
		return false
	}
	if socket != nil {
		e.socket = socket
		metrics.OpenSockets.Inc()
	}
	return true
}

func (self *Cache) failInit(key string) {
	self.lock.Lock()
	defer self.lock.Unlock()

	e, ok := self.entries[key]
	if !ok {
		return
	}
	e.initializing = false
	self.ensureEvictionLocked(key, e)
}

func (self *Cache) cancelEvictionLocked(e *entry) {
	if e.eviction != nil {
		e.eviction.Stop()
		e.eviction = nil
	}
	e.evictionToken = 0
}

func (self *Cache) scheduleEvictionLocked(key string, e *entry) {
	self.cancelEvictionLocked(e)

	self.nextToken++
	token := self.nextToken
	e.evictionToken = token
	e.eviction = self.clock.AfterFunc(self.ttl+self.grace, func() {
		// fake clocks run this while holding their own lock
		go self.evictIfStale(key, token)
	})
}

// Unreferenced entries without a socket or pending eviction would never be
// removed, e.g. after a late snapshot write.
func (self *Cache) ensureEvictionLocked(key string, e *entry) {
	if e.refCount == 0 && e.eviction == nil && e.socket == nil && !e.initializing {
		self.scheduleEvictionLocked(key, e)
	}
}

func (self *Cache) evictIfStale(key string, token uint64) {
	self.lock.Lock()
	e, ok := self.entries[key]
	if !ok || e.evictionToken != token || e.refCount > 0 {
		self.lock.Unlock()
		return
	}
	e.eviction = nil
	e.evictionToken = 0
	if e.initializing {
		// rescheduled once the initialisation is done
		self.lock.Unlock()
		return
	}
	socket := self.removeLocked(key, e)
	self.lock.Unlock()

	metrics.Evictions.Inc()
	self.logger.Debug("evicted cache entry", "key", key)
	if socket != nil {
		self.closeSocket(key, socket)
	}
}

func (self *Cache) closeSocket(key string, socket transport.Socket) {
	err := socket.Close()
	if err != nil {
		self.logger.Debug("failed to close socket", "key", key, "socket", socket.ID(), "error", err)
	}
}
