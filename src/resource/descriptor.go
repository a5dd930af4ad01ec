package resource

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/validation/path"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Describes a kind of resource the way the API discovery does.
//
// ApiVersion may be "apps/v1" or a bare "v1" with ApiGroup set separately.
type ResourceDescriptor struct {
	ApiGroup   string `json:"apiGroup,omitempty"`
	ApiVersion string `json:"apiVersion" validate:"required"`
	Kind       string `json:"kind" validate:"required"`
	Plural     string `json:"plural" validate:"required"`
	Namespaced bool   `json:"namespaced"`
}

func (self ResourceDescriptor) GroupVersion() schema.GroupVersion {
	gv, err := schema.ParseGroupVersion(self.ApiVersion)
	if err != nil {
		return schema.GroupVersion{Group: self.ApiGroup, Version: self.ApiVersion}
	}
	if gv.Group == "" {
		gv.Group = self.ApiGroup
	}
	return gv
}

func (self ResourceDescriptor) String() string {
	return fmt.Sprintf("%s/%s", self.GroupVersion().String(), self.Plural)
}

var (
	PodResource = ResourceDescriptor{
		Kind:       "Pod",
		Plural:     "pods",
		ApiVersion: "v1",
		Namespaced: true,
	}
	NamespaceResource = ResourceDescriptor{
		Kind:       "Namespace",
		Plural:     "namespaces",
		ApiVersion: "v1",
		Namespaced: false,
	}
	DeploymentResource = ResourceDescriptor{
		Kind:       "Deployment",
		Plural:     "deployments",
		ApiVersion: "apps/v1",
		Namespaced: true,
	}
	ManagedClusterResource = ResourceDescriptor{
		Kind:       "ManagedCluster",
		Plural:     "managedclusters",
		ApiVersion: "cluster.open-cluster-management.io/v1",
		Namespaced: false,
	}
)

// A single watch or read target.
//
// An empty Name addresses the whole collection.
type Request struct {
	Model         ResourceDescriptor `validate:"required"`
	Cluster       string             `validate:"omitempty,hostname_rfc1123"`
	Namespace     string             `validate:"omitempty,max=253"`
	Name          string             `validate:"omitempty,max=253"`
	Selector      *Selector
	FieldSelector string
}

func (self Request) IsList() bool {
	return self.Name == ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var ErrInvalidRequest = fmt.Errorf("invalid resource request")

func (self Request) Validate() error {
	err := validate.Struct(self)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if self.Namespace != "" && !self.Model.Namespaced {
		return fmt.Errorf("%w: %s is cluster scoped but namespace '%s' was given", ErrInvalidRequest, self.Model.Kind, self.Namespace)
	}
	for _, segment := range []string{self.Namespace, self.Name} {
		if segment == "" {
			continue
		}
		if problems := path.IsValidPathSegmentName(segment); len(problems) > 0 {
			return fmt.Errorf("%w: '%s' %s", ErrInvalidRequest, segment, strings.Join(problems, ", "))
		}
	}
	return nil
}

const (
	OpEquals       = "Equals"
	OpNotEquals    = "NotEquals"
	OpExists       = "Exists"
	OpDoesNotExist = "DoesNotExist"
	OpIn           = "In"
	OpNotIn        = "NotIn"
	OpGreaterThan  = "GreaterThan"
	OpLessThan     = "LessThan"
)

type Requirement struct {
	Key      string   `json:"key"`
	Operator string   `json:"operator"`
	Values   []string `json:"values,omitempty"`
}

type Selector struct {
	MatchLabels      map[string]string `json:"matchLabels,omitempty"`
	MatchExpressions []Requirement     `json:"matchExpressions,omitempty"`
}

// Convert a kubernetes label selector. Its operators are a subset of ours.
func SelectorFromLabelSelector(selector *metav1.LabelSelector) *Selector {
	if selector == nil {
		return nil
	}
	result := &Selector{MatchLabels: map[string]string{}}
	for key, value := range selector.MatchLabels {
		result.MatchLabels[key] = value
	}
	for _, expression := range selector.MatchExpressions {
		result.MatchExpressions = append(result.MatchExpressions, Requirement{
			Key:      expression.Key,
			Operator: string(expression.Operator),
			Values:   append([]string{}, expression.Values...),
		})
	}
	return result
}
