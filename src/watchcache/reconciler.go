package watchcache

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/stolostron/console-sub025/src/resource"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	utiljson "k8s.io/apimachinery/pkg/util/json"
)

// A decoded watch frame. Object is nil when the frame carried none.
type Event struct {
	Type   watch.EventType
	Object *unstructured.Unstructured
}

// Decode a `{"type": ..., "object": ...}` frame.
func DecodeEvent(frame []byte) (Event, error) {
	raw := metav1.WatchEvent{}
	err := utiljson.Unmarshal(frame, &raw)
	if err != nil {
		return Event{}, fmt.Errorf("malformed watch frame: %w", err)
	}
	if raw.Type == "" {
		return Event{}, fmt.Errorf("watch frame without type")
	}

	event := Event{Type: watch.EventType(raw.Type)}
	payload := bytes.TrimSpace(raw.Object.Raw)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return event, nil
	}

	object, err := resource.DecodeObject(payload)
	if err != nil {
		return Event{}, fmt.Errorf("malformed watch frame object: %w", err)
	}
	event.Object = object

	return event, nil
}

// Compute the result after one watch event.
//
// The returned resourceVersion never moves backwards. changed reports whether
// the data changed, which is false for bookmarks and ignored events.
func Apply(logger *slog.Logger, event Event, current Result, currentRV string, isList bool, cluster string) (Result, string, bool) {
	if event.Object == nil {
		return current, currentRV, false
	}

	resourceVersion := newerResourceVersion(currentRV, event.Object.GetResourceVersion())

	switch event.Type {
	case watch.Bookmark:
		return current, resourceVersion, false
	case watch.Error:
		status := event.Object.Object
		logger.Warn("received watch error", "status", status["message"], "reason", status["reason"], "code", status["code"])
		return current, currentRV, false
	case watch.Added, watch.Modified, watch.Deleted:
	default:
		logger.Warn("ignoring watch event of unknown type", "type", event.Type)
		return current, currentRV, false
	}

	item := resource.New(event.Object, cluster)
	if isList {
		return applyToList(logger, event.Type, item, current, currentRV, resourceVersion)
	}
	return applyToObject(event.Type, item, current, currentRV, resourceVersion)
}

func applyToObject(eventType watch.EventType, item *resource.Resource, current Result, currentRV string, resourceVersion string) (Result, string, bool) {
	switch eventType {
	case watch.Added:
		// already part of the snapshot
		if current.Object != nil {
			return current, currentRV, false
		}
		current.Object = item
	case watch.Modified:
		current.Object = item
	case watch.Deleted:
		if current.Object == nil {
			return current, resourceVersion, false
		}
		current.Object = nil
	}
	current.Loaded = true
	return current, resourceVersion, true
}

func applyToList(logger *slog.Logger, eventType watch.EventType, item *resource.Resource, current Result, currentRV string, resourceVersion string) (Result, string, bool) {
	// no snapshot yet, a single item would look like the whole list
	if current.List == nil {
		return current, currentRV, false
	}

	if item.UID() == "" && eventType != watch.Deleted {
		logger.Warn("watch event object has no uid", "type", eventType, "namespace", item.Namespace(), "name", item.Name())
	}

	index := slices.IndexFunc(current.List, func(existing *resource.Resource) bool {
		return existing.Identity() == item.Identity()
	})

	switch eventType {
	case watch.Added:
		if index >= 0 {
			current.List = replaceAt(current.List, index, item)
		} else {
			current.List = append(slices.Clone(current.List), item)
		}
	case watch.Modified:
		if index < 0 {
			return current, resourceVersion, false
		}
		current.List = replaceAt(current.List, index, item)
	case watch.Deleted:
		if index < 0 {
			return current, resourceVersion, false
		}
		current.List = slices.Delete(slices.Clone(current.List), index, index+1)
	}
	return current, resourceVersion, true
}

// Lists handed out to subscribers are never written to.
func replaceAt(list []*resource.Resource, index int, item *resource.Resource) []*resource.Resource {
	result := slices.Clone(list)
	result[index] = item
	return result
}

// Integer versions compare numerically, anything else is taken as is.
func newerResourceVersion(current string, candidate string) string {
	if candidate == "" {
		return current
	}
	if current == "" {
		return candidate
	}
	currentNumber, currentErr := strconv.ParseUint(current, 10, 64)
	candidateNumber, candidateErr := strconv.ParseUint(candidate, 10, 64)
	if currentErr == nil && candidateErr == nil && candidateNumber < currentNumber {
		return current
	}
	return candidate
}
