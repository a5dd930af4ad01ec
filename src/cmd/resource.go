package cmd

import (
	"fmt"
	"strings"

	"github.com/stolostron/console-sub025/src/resource"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var knownResources = map[string]resource.ResourceDescriptor{
	"pods":                                                resource.PodResource,
	"namespaces":                                          resource.NamespaceResource,
	"deployments":                                         resource.DeploymentResource,
	"deployments.apps":                                    resource.DeploymentResource,
	"managedclusters":                                     resource.ManagedClusterResource,
	"managedclusters.cluster.open-cluster-management.io": resource.ManagedClusterResource,
}

type resourceArgs struct {
	Resource      string `arg:"" help:"plural resource name, e.g. pods, deployments.apps or managedclusters"`
	Name          string `arg:"" optional:"" help:"name of a single resource, the whole collection if omitted"`
	Cluster       string `short:"c" help:"target cluster, the hub if omitted"`
	Namespace     string `short:"n" help:"namespace of namespaced resources"`
	Selector      string `short:"l" help:"label selector, e.g. 'app=web,tier in (a,b)'"`
	FieldSelector string `help:"field selector"`
	ApiVersion    string `help:"api version of a resource unknown to this tool, e.g. batch/v1"`
	Kind          string `help:"kind of a resource unknown to this tool"`
	ClusterScoped bool   `help:"the resource given with --api-version is cluster scoped"`
}

func (self *resourceArgs) descriptor() (resource.ResourceDescriptor, error) {
	plural := strings.ToLower(strings.TrimSpace(self.Resource))
	if self.ApiVersion == "" {
		model, ok := knownResources[plural]
		if !ok {
			return resource.ResourceDescriptor{}, fmt.Errorf("unknown resource '%s', use --api-version and --kind", self.Resource)
		}
		return model, nil
	}
	if self.Kind == "" {
		return resource.ResourceDescriptor{}, fmt.Errorf("--kind is required together with --api-version")
	}
	return resource.ResourceDescriptor{
		ApiVersion: self.ApiVersion,
		Kind:       self.Kind,
		Plural:     strings.SplitN(plural, ".", 2)[0],
		Namespaced: !self.ClusterScoped,
	}, nil
}

func (self *resourceArgs) request() (resource.Request, error) {
	model, err := self.descriptor()
	if err != nil {
		return resource.Request{}, err
	}

	req := resource.Request{
		Model:         model,
		Cluster:       strings.TrimSpace(self.Cluster),
		Namespace:     strings.TrimSpace(self.Namespace),
		Name:          strings.TrimSpace(self.Name),
		FieldSelector: strings.TrimSpace(self.FieldSelector),
	}
	if selector := strings.TrimSpace(self.Selector); selector != "" {
		labelSelector, err := metav1.ParseToLabelSelector(selector)
		if err != nil {
			return resource.Request{}, fmt.Errorf("invalid label selector: %w", err)
		}
		req.Selector = resource.SelectorFromLabelSelector(labelSelector)
	}

	return req, req.Validate()
}
