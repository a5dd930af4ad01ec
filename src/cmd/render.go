package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stolostron/console-sub025/src/resource"
	"github.com/stolostron/console-sub025/src/shell"
	"github.com/stolostron/console-sub025/src/watchcache"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/duration"
	"sigs.k8s.io/yaml"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	OutputTable  = "table"
	OutputYaml   = "yaml"
	OutputJson   = "json"
	OutputEvents = "events"
)

// Items of a result, a single object counts as a list of one.
func resultItems(result watchcache.Result) []*resource.Resource {
	if result.List != nil {
		return result.List
	}
	if result.Object != nil {
		return []*resource.Resource{result.Object}
	}
	return []*resource.Resource{}
}

func renderTable(items []*resource.Resource, now time.Time) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Cluster", "Namespace", "Name", "Status", "ResourceVersion", "Age"})
	for _, item := range items {
		t.AppendRow(table.Row{item.Cluster, item.Namespace(), item.Name(), status(item), item.ResourceVersion(), age(item, now)})
	}
	return t.Render()
}

// Short status of well known kinds, empty for everything else.
func status(item *resource.Resource) string {
	switch item.Object.GetKind() {
	case "Pod":
		pod := corev1.Pod{}
		err := runtime.DefaultUnstructuredConverter.FromUnstructured(item.Object.Object, &pod)
		if err != nil {
			return ""
		}
		return string(pod.Status.Phase)
	case "Deployment":
		deployment := appsv1.Deployment{}
		err := runtime.DefaultUnstructuredConverter.FromUnstructured(item.Object.Object, &deployment)
		if err != nil {
			return ""
		}
		desired := int32(1)
		if deployment.Spec.Replicas != nil {
			desired = *deployment.Spec.Replicas
		}
		return fmt.Sprintf("%d/%d ready", deployment.Status.ReadyReplicas, desired)
	default:
		return ""
	}
}

func age(item *resource.Resource, now time.Time) string {
	created := item.Object.GetCreationTimestamp()
	if created.IsZero() {
		return "<unknown>"
	}
	return duration.HumanDuration(now.Sub(created.Time))
}

func renderYaml(value any) (string, error) {
	data, err := yaml.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to render yaml: %w", err)
	}
	return string(data), nil
}

func renderJson(value any) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render json: %w", err)
	}
	return string(data) + "\n", nil
}

func renderItems(output string, items []*resource.Resource, now time.Time) (string, error) {
	switch output {
	case OutputYaml:
		return renderYaml(items)
	case OutputJson:
		return renderJson(items)
	default:
		return renderTable(items, now) + "\n", nil
	}
}

type change struct {
	Type     string
	Resource *resource.Resource
}

// Changes between two results of the same watch, ordered by identity.
func diffItems(previous []*resource.Resource, next []*resource.Resource) []change {
	before := make(map[string]*resource.Resource, len(previous))
	for _, item := range previous {
		before[item.Identity()] = item
	}

	changes := []change{}
	seen := make(map[string]struct{}, len(next))
	for _, item := range next {
		identity := item.Identity()
		seen[identity] = struct{}{}
		old, ok := before[identity]
		switch {
		case !ok:
			changes = append(changes, change{Type: "ADDED", Resource: item})
		case old.ResourceVersion() != item.ResourceVersion():
			changes = append(changes, change{Type: "MODIFIED", Resource: item})
		}
	}
	for identity, item := range before {
		if _, ok := seen[identity]; !ok {
			changes = append(changes, change{Type: "DELETED", Resource: item})
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Resource.Identity() < changes[j].Resource.Identity()
	})
	return changes
}

func renderChanges(changes []change) string {
	builder := strings.Builder{}
	for _, change := range changes {
		name := change.Resource.Name()
		if namespace := change.Resource.Namespace(); namespace != "" {
			name = namespace + "/" + name
		}
		fmt.Fprintf(&builder, "%-8s %s %s %s\n",
			shell.ColorizeEventType(change.Type),
			shell.Colorize(change.Resource.Cluster, shell.Faint),
			name,
			shell.Colorize(change.Resource.ResourceVersion(), shell.Faint),
		)
	}
	return builder.String()
}
