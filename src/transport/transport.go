package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/stolostron/console-sub025/src/assert"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/runtime/serializer"
	"k8s.io/client-go/rest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reads the initial snapshot of a watch target.
type Fetcher interface {
	// Fetch the raw response body of a GET against a backend path including its query.
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// An open watch stream.
type Socket interface {
	// Close the stream. Closing twice is a no-op.
	Close() error
	// Unique id of this connection, used to tell stale close notifications apart.
	ID() string
}

// Opens watch streams.
//
// onFrame is called from a single goroutine per socket in arrival order. onClose
// is called exactly once when the stream ends, with nil if Close ended it. Neither
// is called from within Dial.
type Dialer interface {
	Dial(ctx context.Context, path string, onFrame func(frame []byte), onClose func(err error)) (Socket, error)
}

const (
	defaultQPS   = 50
	defaultBurst = 100
)

// A REST client which talks to arbitrary backend paths of the proxy.
func NewRESTClient(config *rest.Config) (*rest.RESTClient, error) {
	assert.Assert(config != nil)

	cfg := rest.CopyConfig(config)
	cfg.GroupVersion = &schema.GroupVersion{Version: "v1"}
	cfg.NegotiatedSerializer = serializer.NewCodecFactory(runtime.NewScheme()).WithoutConversion()
	if cfg.RateLimiter == nil && cfg.QPS == 0 {
		cfg.QPS = defaultQPS
		cfg.Burst = defaultBurst
	}

	client, err := rest.RESTClientFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create rest client: %w", err)
	}

	return client, nil
}

// Build a GET for a path which may carry a query string. The rest client
// re-encodes the decoded path, so paths it would send differently are refused.
func newGet(client rest.Interface, path string) (*rest.Request, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path '%s': %w", path, err)
	}
	if u.RawPath != "" {
		return nil, fmt.Errorf("invalid path '%s': escaping of '%s' would not be preserved", path, u.RawPath)
	}

	request := client.Get().AbsPath(u.Path)
	for key, values := range u.Query() {
		for _, value := range values {
			request = request.Param(key, value)
		}
	}

	return request, nil
}

type restFetcher struct {
	client rest.Interface
}

func NewRESTFetcher(client rest.Interface) Fetcher {
	assert.Assert(client != nil)
	return &restFetcher{client: client}
}

func (self *restFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	request, err := newGet(self.client, path)
	if err != nil {
		return nil, err
	}

	data, err := request.DoRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("RESTClient: %w", err)
	}

	return data, nil
}
