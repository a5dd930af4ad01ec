package multicluster

import (
	"context"
	"fmt"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/pathresolver"
	"github.com/stolostron/console-sub025/src/resource"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
)

// Reads resources of the hub cluster without going through the proxy.
type LocalClient interface {
	Get(ctx context.Context, req resource.Request) (*unstructured.Unstructured, error)
	// Items of the list and the list resourceVersion.
	List(ctx context.Context, req resource.Request) ([]*unstructured.Unstructured, string, error)
}

type dynamicLocalClient struct {
	client dynamic.Interface
}

func NewDynamicLocalClient(client dynamic.Interface) LocalClient {
	assert.Assert(client != nil)
	return &dynamicLocalClient{client: client}
}

func (self *dynamicLocalClient) resourceInterface(req resource.Request) dynamic.ResourceInterface {
	gvr := req.Model.GroupVersion().WithResource(req.Model.Plural)
	if req.Model.Namespaced && req.Namespace != "" {
		return self.client.Resource(gvr).Namespace(req.Namespace)
	}
	return self.client.Resource(gvr)
}

func (self *dynamicLocalClient) Get(ctx context.Context, req resource.Request) (*unstructured.Unstructured, error) {
	object, err := self.resourceInterface(req).Get(ctx, req.Name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s '%s': %w", req.Model.Kind, req.Name, err)
	}
	return object, nil
}

func (self *dynamicLocalClient) List(ctx context.Context, req resource.Request) ([]*unstructured.Unstructured, string, error) {
	list, err := self.resourceInterface(req).List(ctx, metav1.ListOptions{
		LabelSelector: pathresolver.SelectorString(req.Selector),
		FieldSelector: req.FieldSelector,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list %s: %w", req.Model.Plural, err)
	}

	items := make([]*unstructured.Unstructured, 0, len(list.Items))
	for index := range list.Items {
		items = append(items, &list.Items[index])
	}
	return items, list.GetResourceVersion(), nil
}
