package watchcache_test

import (
	"testing"

	"github.com/stolostron/console-sub025/src/logging"
	"github.com/stolostron/console-sub025/src/resource"
	"github.com/stolostron/console-sub025/src/watchcache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/watch"
)

func decode(t *testing.T, frame []byte) watchcache.Event {
	event, err := watchcache.DecodeEvent(frame)
	require.NoError(t, err)
	return event
}

func names(result watchcache.Result) []string {
	list := []string{}
	for _, item := range result.List {
		list = append(list, item.Name())
	}
	return list
}

func TestListEventOrdering(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	result := watchcache.Result{Loaded: true, List: []*resource.Resource{}}
	rv := ""
	changed := false
	for _, frame := range [][]byte{podFrame("ADDED", "a", "1"), podFrame("ADDED", "b", "2"), podFrame("DELETED", "a", "3")} {
		result, rv, changed = watchcache.Apply(logger, decode(t, frame), result, rv, true, "hub-1")
		assert.True(changed)
	}

	assert.Equal([]string{"b"}, names(result))
	assert.Equal("3", rv)
}

func TestListModifiedForAbsentItemIsNoop(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	current := watchcache.Result{Loaded: true, List: []*resource.Resource{pod("a")}}
	result, _, changed := watchcache.Apply(logger, decode(t, podFrame("MODIFIED", "ghost", "9")), current, "1", true, "hub-1")
	assert.False(changed)
	assert.Equal([]string{"a"}, names(result))

	result, _, changed = watchcache.Apply(logger, decode(t, podFrame("DELETED", "ghost", "10")), current, "1", true, "hub-1")
	assert.False(changed)
	assert.Equal([]string{"a"}, names(result))
}

func TestListModifiedReplacesInPlace(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	current := watchcache.Result{Loaded: true, List: []*resource.Resource{pod("a"), pod("b"), pod("c")}}
	result, _, changed := watchcache.Apply(logger, decode(t, podFrame("MODIFIED", "b", "7")), current, "1", true, "remote-1")
	assert.True(changed)
	assert.Equal([]string{"a", "b", "c"}, names(result))
	assert.Equal("7", result.List[1].ResourceVersion())
	assert.Equal("remote-1", result.List[1].Cluster)
	assert.Equal("", current.List[1].ResourceVersion(), "the previous list is not written to")
}

func TestListAddedForPresentItemActsAsModified(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	current := watchcache.Result{Loaded: true, List: []*resource.Resource{pod("a")}}
	result, _, changed := watchcache.Apply(logger, decode(t, podFrame("ADDED", "a", "4")), current, "1", true, "hub-1")
	assert.True(changed)
	require.Len(t, result.List, 1)
	assert.Equal("4", result.List[0].ResourceVersion())
}

func TestListEventsBeforeSnapshotAreIgnored(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	for _, eventType := range []string{"ADDED", "MODIFIED", "DELETED"} {
		result, rv, changed := watchcache.Apply(logger, decode(t, podFrame(eventType, "a", "4")), watchcache.Result{}, "1", true, "hub-1")
		assert.False(changed)
		assert.Nil(result.List)
		assert.Equal("1", rv)
	}
}

func TestListItemWithoutUidIsProcessed(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	frame := []byte(`{"type":"ADDED","object":{"metadata":{"name":"anon","namespace":"default"}}}`)
	current := watchcache.Result{Loaded: true, List: []*resource.Resource{}}
	result, _, changed := watchcache.Apply(logger, decode(t, frame), current, "", true, "hub-1")
	assert.True(changed)
	assert.Equal([]string{"anon"}, names(result))

	frame = []byte(`{"type":"DELETED","object":{"metadata":{"name":"anon","namespace":"default"}}}`)
	result, _, changed = watchcache.Apply(logger, decode(t, frame), result, "", true, "hub-1")
	assert.True(changed)
	assert.Empty(result.List)
}

func TestSingleAddedIsIgnoredWhenPresent(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	current := watchcache.Result{Loaded: true, Object: pod("a")}
	result, rv, changed := watchcache.Apply(logger, decode(t, podFrame("ADDED", "a", "5")), current, "1", false, "hub-1")
	assert.False(changed)
	assert.Same(current.Object, result.Object)
	assert.Equal("1", rv)

	result, _, changed = watchcache.Apply(logger, decode(t, podFrame("ADDED", "a", "5")), watchcache.Result{}, "", false, "hub-1")
	assert.True(changed)
	assert.True(result.Loaded)
	assert.Equal("a", result.Object.Name())
	assert.Equal("hub-1", result.Object.Cluster)
}

func TestSingleModifiedAndDeleted(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	current := watchcache.Result{Loaded: true, Object: pod("a")}
	result, rv, changed := watchcache.Apply(logger, decode(t, podFrame("MODIFIED", "a", "6")), current, "1", false, "hub-1")
	assert.True(changed)
	assert.Equal("6", result.Object.ResourceVersion())
	assert.Equal("6", rv)

	result, _, changed = watchcache.Apply(logger, decode(t, podFrame("DELETED", "a", "7")), result, rv, false, "hub-1")
	assert.True(changed)
	assert.Nil(result.Object)
	assert.True(result.Loaded)
}

func TestBookmarkIsolation(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	current := watchcache.Result{Loaded: true, List: []*resource.Resource{pod("x")}}
	frame := []byte(`{"type":"BOOKMARK","object":{"kind":"Pod","apiVersion":"v1","metadata":{"resourceVersion":"2000"}}}`)
	result, rv, changed := watchcache.Apply(logger, decode(t, frame), current, "1000", true, "hub-1")

	assert.False(changed)
	assert.Equal([]string{"x"}, names(result))
	assert.Equal("2000", rv)
}

func TestResourceVersionNeverMovesBackwards(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	frame := []byte(`{"type":"BOOKMARK","object":{"metadata":{"resourceVersion":"900"}}}`)
	_, rv, _ := watchcache.Apply(logger, decode(t, frame), watchcache.Result{}, "1000", true, "hub-1")
	assert.Equal("1000", rv)

	frame = []byte(`{"type":"BOOKMARK","object":{"metadata":{"resourceVersion":"opaque-token"}}}`)
	_, rv, _ = watchcache.Apply(logger, decode(t, frame), watchcache.Result{}, "1000", true, "hub-1")
	assert.Equal("opaque-token", rv)
}

func TestEventsWithoutObjectAreIgnored(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	current := watchcache.Result{Loaded: true, List: []*resource.Resource{pod("a")}}
	for _, frame := range []string{`{"type":"ADDED"}`, `{"type":"DELETED","object":null}`} {
		result, rv, changed := watchcache.Apply(logger, decode(t, []byte(frame)), current, "1", true, "hub-1")
		assert.False(changed)
		assert.Equal([]string{"a"}, names(result))
		assert.Equal("1", rv)
	}
}

func TestErrorAndUnknownEventsAreIgnored(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	logger := logging.NewMockSlogManager(t).CreateLogger("reconciler")

	current := watchcache.Result{Loaded: true, List: []*resource.Resource{pod("a")}}
	errorFrame := []byte(`{"type":"ERROR","object":{"kind":"Status","apiVersion":"v1","status":"Failure","message":"too old resource version","reason":"Expired","code":410}}`)
	event := decode(t, errorFrame)
	assert.Equal(watch.Error, event.Type)

	result, rv, changed := watchcache.Apply(logger, event, current, "1", true, "hub-1")
	assert.False(changed)
	assert.Equal([]string{"a"}, names(result))
	assert.Equal("1", rv)

	result, _, changed = watchcache.Apply(logger, decode(t, podFrame("RENAMED", "a", "3")), current, "1", true, "hub-1")
	assert.False(changed)
	assert.Equal([]string{"a"}, names(result))
}

func TestDecodeEventRejectsMalformedFrames(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	for _, frame := range []string{``, `not json`, `{"object":{}}`, `{"type":"ADDED","object":"text"}`} {
		_, err := watchcache.DecodeEvent([]byte(frame))
		assert.Error(err, frame)
	}
}
