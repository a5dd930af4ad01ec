package resource

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// A server object together with the cluster it was read from.
//
// Servers never send the cluster, it is stamped by this layer.
type Resource struct {
	Cluster string
	Object  *unstructured.Unstructured
}

func New(object *unstructured.Unstructured, cluster string) *Resource {
	if object == nil {
		object = &unstructured.Unstructured{Object: map[string]any{}}
	}
	return &Resource{Cluster: cluster, Object: object}
}

func (self *Resource) Name() string {
	return self.Object.GetName()
}

func (self *Resource) Namespace() string {
	return self.Object.GetNamespace()
}

func (self *Resource) UID() string {
	return string(self.Object.GetUID())
}

func (self *Resource) ResourceVersion() string {
	return self.Object.GetResourceVersion()
}

// Identity is the UID, or namespace/name for objects which have none yet.
func (self *Resource) Identity() string {
	if uid := self.UID(); uid != "" {
		return uid
	}
	return self.Namespace() + "/" + self.Name()
}

func (self *Resource) DeepCopy() *Resource {
	if self == nil {
		return nil
	}
	return &Resource{Cluster: self.Cluster, Object: self.Object.DeepCopy()}
}

// The object with the cluster stamp as an additional top level field.
func (self *Resource) MarshalJSON() ([]byte, error) {
	content := make(map[string]any, len(self.Object.Object)+1)
	for key, value := range self.Object.Object {
		content[key] = value
	}
	if self.Cluster != "" {
		content["cluster"] = self.Cluster
	}
	return json.Marshal(content)
}

func (self *Resource) UnmarshalJSON(data []byte) error {
	content := map[string]any{}
	err := utiljson.Unmarshal(data, &content)
	if err != nil {
		return err
	}
	if cluster, ok := content["cluster"].(string); ok {
		self.Cluster = cluster
		delete(content, "cluster")
	}
	self.Object = &unstructured.Unstructured{Object: content}
	return nil
}

// Fill in kind and apiVersion, which list items usually lack, and the cluster.
func Stamp(object *unstructured.Unstructured, model ResourceDescriptor, cluster string) *Resource {
	if object.GetKind() == "" {
		object.SetKind(model.Kind)
	}
	if object.GetAPIVersion() == "" {
		object.SetAPIVersion(model.GroupVersion().String())
	}
	return New(object, cluster)
}

// Decode a single object. Integers stay int64 so unstructured accessors work.
func DecodeObject(data []byte) (*unstructured.Unstructured, error) {
	content := map[string]any{}
	err := utiljson.Unmarshal(data, &content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	return &unstructured.Unstructured{Object: content}, nil
}

// Decode a list response into its items and the list resourceVersion.
func DecodeList(data []byte) ([]*unstructured.Unstructured, string, error) {
	list, err := DecodeObject(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode list: %w", err)
	}

	rawItems, found, err := unstructured.NestedSlice(list.Object, "items")
	if err != nil {
		return nil, "", fmt.Errorf("failed to read list items: %w", err)
	}
	items := []*unstructured.Unstructured{}
	if found {
		for index, rawItem := range rawItems {
			content, ok := rawItem.(map[string]any)
			if !ok {
				return nil, "", fmt.Errorf("list item %d is not an object", index)
			}
			items = append(items, &unstructured.Unstructured{Object: content})
		}
	}

	return items, list.GetResourceVersion(), nil
}

// Stamp every item of a decoded list.
func StampAll(items []*unstructured.Unstructured, model ResourceDescriptor, cluster string) []*Resource {
	result := make([]*Resource, 0, len(items))
	for _, item := range items {
		result = append(result, Stamp(item, model, cluster))
	}
	return result
}
