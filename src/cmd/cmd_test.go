package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stolostron/console-sub025/src/config"
	"github.com/stolostron/console-sub025/src/logging"
	"github.com/stolostron/console-sub025/src/resource"
	"github.com/stolostron/console-sub025/src/watchcache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
)

func pod(cluster string, name string, uid string, resourceVersion string) *resource.Resource {
	object := &unstructured.Unstructured{Object: map[string]any{}}
	object.SetAPIVersion("v1")
	object.SetKind("Pod")
	object.SetNamespace("default")
	object.SetName(name)
	object.SetUID(types.UID(uid))
	object.SetResourceVersion(resourceVersion)
	return resource.New(object, cluster)
}

func TestConfigDeclarationsHaveValidDefaults(t *testing.T) {
	t.Parallel()
	configModule := config.NewConfig()
	LoadConfigDeclarations(configModule)

	assert.NoError(t, configModule.Validate())
	assert.Equal(t, watchcache.DefaultTTL, configModule.GetDuration("MCW_CACHE_TTL"))
	assert.True(t, configModule.GetBool("MCW_FLEET_ENABLED"))
	assert.Error(t, configModule.TrySet("MCW_WATCH_TRANSPORT", "carrier-pigeon"))
	assert.Error(t, configModule.TrySet("MCW_FETCH_FAILURE_HOLDDOWN", "-1s"))
	assert.Error(t, configModule.TrySet("MCW_BACKEND_URL", "ftp://example.com"))

	configModule.Set("MCW_BEARER_TOKEN", "secret-token")
	assert.NotContains(t, configModule.AsEnvs(), "secret-token")
}

func TestResourceArgs(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	args := resourceArgs{Resource: "Deployments.apps", Cluster: "remote-1", Namespace: "default", Selector: "app=web,tier in (a,b)"}
	req, err := args.request()
	require.NoError(t, err)
	assert.Equal(resource.DeploymentResource, req.Model)
	assert.Equal("remote-1", req.Cluster)
	assert.True(req.IsList())
	assert.Equal(map[string]string{"app": "web"}, req.Selector.MatchLabels)
	assert.Equal([]resource.Requirement{{Key: "tier", Operator: resource.OpIn, Values: []string{"a", "b"}}}, req.Selector.MatchExpressions)

	args = resourceArgs{Resource: "jobs.batch", Name: "backup", Namespace: "ops", ApiVersion: "batch/v1", Kind: "Job"}
	req, err = args.request()
	require.NoError(t, err)
	assert.Equal("jobs", req.Model.Plural)
	assert.True(req.Model.Namespaced)
	assert.Equal("backup", req.Name)

	_, err = (&resourceArgs{Resource: "widgets"}).request()
	assert.Error(err)
	_, err = (&resourceArgs{Resource: "jobs", ApiVersion: "batch/v1"}).request()
	assert.Error(err)
	_, err = (&resourceArgs{Resource: "namespaces", Namespace: "default"}).request()
	assert.ErrorIs(err, resource.ErrInvalidRequest)
	_, err = (&resourceArgs{Resource: "pods", Selector: "a in"}).request()
	assert.Error(err)
}

func TestRenderTable(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	item := pod("remote-1", "web-0", "u1", "17")
	item.Object.SetCreationTimestamp(metav1.NewTime(now.Add(-90 * time.Minute)))

	rendered := renderTable([]*resource.Resource{item, pod("remote-1", "web-1", "u2", "18")}, now)
	lines := strings.Split(rendered, "\n")

	assert.Contains(t, lines[1], "CLUSTER")
	assert.Contains(t, rendered, "web-0")
	assert.Contains(t, rendered, "90m")
	assert.Contains(t, rendered, "<unknown>")
}

func TestStatus(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	running := pod("c", "web-0", "u1", "1")
	running.Object.Object["status"] = map[string]any{"phase": "Running"}
	assert.Equal("Running", status(running))

	deployment, err := resource.DecodeObject([]byte(`{"kind":"Deployment","apiVersion":"apps/v1","metadata":{"name":"api"},"spec":{"replicas":3},"status":{"readyReplicas":2}}`))
	require.NoError(t, err)
	assert.Equal("2/3 ready", status(resource.New(deployment, "c")))

	namespace, err := resource.DecodeObject([]byte(`{"kind":"Namespace","apiVersion":"v1","metadata":{"name":"default"}}`))
	require.NoError(t, err)
	assert.Empty(status(resource.New(namespace, "c")))
}

func TestRenderYamlCarriesCluster(t *testing.T) {
	t.Parallel()
	rendered, err := renderYaml([]*resource.Resource{pod("remote-1", "web-0", "u1", "17")})
	require.NoError(t, err)
	assert.Contains(t, rendered, "cluster: remote-1")
	assert.Contains(t, rendered, "name: web-0")

	rendered, err = renderJson(pod("hub", "web-0", "u1", "17"))
	require.NoError(t, err)
	assert.Contains(t, rendered, `"cluster": "hub"`)
}

func TestDiffItems(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	previous := []*resource.Resource{pod("c", "a", "u1", "1"), pod("c", "b", "u2", "1"), pod("c", "c", "u3", "1")}
	next := []*resource.Resource{pod("c", "b", "u2", "2"), pod("c", "c", "u3", "1"), pod("c", "d", "u4", "1")}

	changes := diffItems(previous, next)
	require.Len(t, changes, 3)
	assert.Equal("DELETED", changes[0].Type)
	assert.Equal("a", changes[0].Resource.Name())
	assert.Equal("MODIFIED", changes[1].Type)
	assert.Equal("b", changes[1].Resource.Name())
	assert.Equal("ADDED", changes[2].Type)
	assert.Equal("d", changes[2].Resource.Name())

	assert.Empty(diffItems(next, next))
	assert.Contains(renderChanges(changes), "default/d")
}

func TestResultItems(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.Empty(resultItems(watchcache.Result{}))
	assert.Len(resultItems(watchcache.Result{Object: pod("c", "a", "u1", "1")}), 1)
	assert.Len(resultItems(watchcache.Result{List: []*resource.Resource{pod("c", "a", "u1", "1"), pod("c", "b", "u2", "1")}}), 2)
}

func TestResultPrinterSkipsOlderInitialResult(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	out := &bytes.Buffer{}
	printer := &resultPrinter{output: OutputEvents, logger: logging.NewMockSlogManager(t).CreateLogger("cmd"), out: out}

	initial := watchcache.Result{Loaded: true, List: []*resource.Resource{pod("c", "a", "u1", "1")}}
	streamed := watchcache.Result{Loaded: true, List: []*resource.Resource{pod("c", "a", "u1", "1"), pod("c", "b", "u2", "2")}}

	printer.print(streamed)
	printer.printFirst(initial)

	rendered := out.String()
	assert.Equal(2, strings.Count(rendered, "\n"))
	assert.Contains(rendered, "default/b")
	assert.NotContains(rendered, "DELETED")

	out.Reset()
	fresh := &resultPrinter{output: OutputTable, logger: logging.NewMockSlogManager(t).CreateLogger("cmd"), out: out}
	fresh.printFirst(initial)
	assert.Contains(out.String(), " a ")
}
