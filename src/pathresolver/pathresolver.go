package pathresolver

import (
	"net/url"
	"sort"
	"strings"

	"github.com/stolostron/console-sub025/src/resource"
)

const (
	DefaultBackendRoot  = "/multicloud"
	DefaultProxySegment = "managedclusterproxy"
)

// Where the proxy lives. Hub requests go to BackendRoot, managed cluster
// requests to BackendRoot/ProxySegment/<cluster>.
type Options struct {
	BackendRoot  string
	ProxySegment string
}

func DefaultOptions() Options {
	return Options{
		BackendRoot:  DefaultBackendRoot,
		ProxySegment: DefaultProxySegment,
	}
}

func IsHubLocal(cluster string, hubName string) bool {
	return cluster == "" || cluster == hubName
}

func BackendPath(cluster string, hubName string, opts Options) string {
	root := strings.TrimSuffix(opts.BackendRoot, "/")
	if IsHubLocal(cluster, hubName) {
		return root
	}
	return root + "/" + strings.Trim(opts.ProxySegment, "/") + "/" + url.PathEscape(cluster)
}

// REST path of a resource or collection, relative to a backend path.
//
// Empty query values are dropped and keys are sorted, so logically equal
// requests always produce the same string.
func ResourcePath(model resource.ResourceDescriptor, name string, namespace string, query map[string]string) string {
	gv := model.GroupVersion()

	builder := strings.Builder{}
	if gv.Group == "" {
		builder.WriteString("/api/")
		builder.WriteString(gv.Version)
	} else {
		builder.WriteString("/apis/")
		builder.WriteString(gv.Group)
		builder.WriteString("/")
		builder.WriteString(gv.Version)
	}

	if model.Namespaced && namespace != "" {
		builder.WriteString("/namespaces/")
		builder.WriteString(url.PathEscape(namespace))
	}

	builder.WriteString("/")
	builder.WriteString(model.Plural)

	if name != "" {
		builder.WriteString("/")
		builder.WriteString(url.PathEscape(name))
	}

	if encoded := EncodeQuery(query); encoded != "" {
		builder.WriteString("?")
		builder.WriteString(encoded)
	}

	return builder.String()
}

func EncodeQuery(query map[string]string) string {
	values := url.Values{}
	for key, value := range query {
		if key == "" || value == "" {
			continue
		}
		values.Set(key, value)
	}
	// url.Values.Encode sorts by key
	return values.Encode()
}

func selectorQuery(req resource.Request) map[string]string {
	return map[string]string{
		"labelSelector": SelectorString(req.Selector),
		"fieldSelector": req.FieldSelector,
	}
}

// Full backend path of a plain read. It doubles as the cache key.
func RequestPath(req resource.Request, hubName string, opts Options) string {
	return BackendPath(req.Cluster, hubName, opts) + ResourcePath(req.Model, req.Name, req.Namespace, selectorQuery(req))
}

// Cache key for a request against an already resolved backend path.
func CacheKey(req resource.Request, basePath string) string {
	return strings.TrimSuffix(basePath, "/") + ResourcePath(req.Model, req.Name, req.Namespace, selectorQuery(req))
}

// Path of the watch stream for a request against a resolved backend path.
//
// The API only watches collections, a single object is watched through a
// name field selector on its collection.
func WatchPath(req resource.Request, basePath string, resourceVersion string) string {
	fieldSelector := req.FieldSelector
	if !req.IsList() {
		nameSelector := "metadata.name=" + req.Name
		if fieldSelector == "" {
			fieldSelector = nameSelector
		} else {
			fieldSelector = nameSelector + "," + fieldSelector
		}
	}

	query := map[string]string{
		"watch":               "true",
		"allowWatchBookmarks": "true",
		"labelSelector":       SelectorString(req.Selector),
		"fieldSelector":       fieldSelector,
		"resourceVersion":     resourceVersion,
	}

	return strings.TrimSuffix(basePath, "/") + ResourcePath(req.Model, "", req.Namespace, query)
}

// Render a selector the way the API expects it in `labelSelector`.
//
// Label terms come first sorted by key, expression terms keep their order.
func SelectorString(selector *resource.Selector) string {
	if selector == nil {
		return ""
	}

	terms := []string{}

	keys := make([]string, 0, len(selector.MatchLabels))
	for key := range selector.MatchLabels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		terms = append(terms, key+"="+selector.MatchLabels[key])
	}

	for _, requirement := range selector.MatchExpressions {
		term := RequirementString(requirement)
		if term == "" {
			continue
		}
		terms = append(terms, term)
	}

	return strings.Join(terms, ",")
}

func RequirementString(requirement resource.Requirement) string {
	first := ""
	if len(requirement.Values) > 0 {
		first = requirement.Values[0]
	}

	switch requirement.Operator {
	case resource.OpEquals:
		return requirement.Key + "=" + first
	case resource.OpNotEquals:
		return requirement.Key + "!=" + first
	case resource.OpExists:
		return requirement.Key
	case resource.OpDoesNotExist:
		return "!" + requirement.Key
	case resource.OpIn:
		return requirement.Key + " in (" + strings.Join(requirement.Values, ",") + ")"
	case resource.OpNotIn:
		return requirement.Key + " notin (" + strings.Join(requirement.Values, ",") + ")"
	case resource.OpGreaterThan:
		return requirement.Key + " > " + first
	case resource.OpLessThan:
		return requirement.Key + " < " + first
	default:
		return ""
	}
}
