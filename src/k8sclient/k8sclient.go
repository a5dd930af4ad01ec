package k8sclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/config"
	"github.com/stolostron/console-sub025/src/secrets"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

const userAgent = "mcwatch"

type ExecutionContext int8

const (
	execution_context_none ExecutionContext = iota
	execution_context_cluster
	execution_context_local
)

type K8sClientProvider interface {
	// Config for the console backend which serves the hub and proxies
	// managed clusters.
	BackendConfig() *rest.Config
	// Config for direct access to the hub cluster. Nil if none was found.
	ClusterConfig() *rest.Config
	// Nil if there is no cluster config.
	DynamicClient() dynamic.Interface
	RunsInCluster() bool
}

type k8sClientProvider struct {
	backendConfig    *rest.Config
	clusterConfig    *rest.Config
	dynamicClient    dynamic.Interface
	executionContext ExecutionContext
	config           config.ConfigModule
}

func NewK8sClientProvider(logger *slog.Logger, configModule config.ConfigModule) (K8sClientProvider, error) {
	assert.Assert(logger != nil)
	assert.Assert(configModule != nil)

	provider := new(k8sClientProvider)
	provider.config = configModule

	clusterConfig, err := provider.detectAndGetKubeConfig(logger)
	if err != nil {
		logger.Info("no hub kubeconfig found, hub reads go through the backend", "error", err)
	} else {
		dynamicClient, err := dynamic.NewForConfig(clusterConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid kubeconfig - cant create `*dynamic.DynamicClient`: %w", err)
		}
		provider.clusterConfig = clusterConfig
		provider.dynamicClient = dynamicClient
	}

	backendConfig, err := provider.backendConfigFrom(clusterConfig)
	if err != nil {
		return nil, err
	}
	provider.backendConfig = backendConfig

	return provider, nil
}

func (self *k8sClientProvider) BackendConfig() *rest.Config {
	return self.backendConfig
}

func (self *k8sClientProvider) ClusterConfig() *rest.Config {
	return self.clusterConfig
}

func (self *k8sClientProvider) DynamicClient() dynamic.Interface {
	return self.dynamicClient
}

type loggingRoundTripper struct {
	rt     http.RoundTripper
	logger *slog.Logger
}

func (l *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	l.logger.Debug("backend request", "method", req.Method, "url", req.URL.String())
	return l.rt.RoundTrip(req)
}

// The backend is reached with the configured URL and token. Without a token
// the credentials of the hub kubeconfig are reused.
func (self *k8sClientProvider) backendConfigFrom(clusterConfig *rest.Config) (*rest.Config, error) {
	backendUrl := self.config.Get("MCW_BACKEND_URL")
	if backendUrl == "" {
		return nil, fmt.Errorf("'MCW_BACKEND_URL' is not set")
	}
	parsed, err := url.Parse(backendUrl)
	if err == nil && (parsed.Scheme == "" || parsed.Host == "") {
		err = fmt.Errorf("missing scheme or host in '%s'", backendUrl)
	}
	if err != nil {
		return nil, fmt.Errorf("'MCW_BACKEND_URL' needs to be a URL: %w", err)
	}

	backendConfig := &rest.Config{}
	if clusterConfig != nil && self.config.Get("MCW_BEARER_TOKEN") == "" {
		backendConfig = rest.AnonymousClientConfig(clusterConfig)
		backendConfig.BearerToken = clusterConfig.BearerToken
		backendConfig.BearerTokenFile = clusterConfig.BearerTokenFile
		secrets.AddSecret(clusterConfig.BearerToken)
	}
	// a path prefix stays part of the host, request paths are absolute below it
	backendConfig.Host = parsed.Scheme + "://" + parsed.Host + strings.TrimSuffix(parsed.Path, "/")
	backendConfig.UserAgent = userAgent
	if token := self.config.Get("MCW_BEARER_TOKEN"); token != "" {
		backendConfig.BearerToken = token
	}
	if self.config.GetBool("MCW_SKIP_TLS_VERIFICATION") {
		backendConfig.Insecure = true
		backendConfig.CAData = nil
		backendConfig.CAFile = ""
	}

	return backendConfig, nil
}

func (self *k8sClientProvider) detectAndGetKubeConfig(logger *slog.Logger) (*rest.Config, error) {
	config, err := rest.InClusterConfig()
	if err == nil {
		config.UserAgent = userAgent
		if self.config.GetBool("MCW_KUBERNETES_DEBUG") {
			config.WrapTransport = func(rt http.RoundTripper) http.RoundTripper {
				return &loggingRoundTripper{rt: rt, logger: logger}
			}
		}
		self.executionContext = execution_context_cluster
		return config, nil
	}
	logger.Debug("failed to get rest.InClusterConfig", "error", err)

	config, err = self.contextConfigLoader(logger)
	if err == nil {
		config.UserAgent = userAgent
		if self.config.GetBool("MCW_KUBERNETES_DEBUG") {
			config.WrapTransport = func(rt http.RoundTripper) http.RoundTripper {
				return &loggingRoundTripper{rt: rt, logger: logger}
			}
		}
		self.executionContext = execution_context_local
		return config, nil
	}
	logger.Debug("failed to get local kubeconfig", "error", err)

	return nil, fmt.Errorf("failed to initialize kubeconfig for k8s client")
}

func (self *k8sClientProvider) contextConfigLoader(logger *slog.Logger) (*rest.Config, error) {
	kubeconfigs, err := getDefaultKubeConfig(logger)
	if err != nil {
		return nil, err
	}

	var config *rest.Config
	for _, kubeconfig := range kubeconfigs {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err == nil {
			return config, nil
		}
	}

	return nil, err
}

func getDefaultKubeConfig(logger *slog.Logger) ([]string, error) {
	var kubeconfig string = os.Getenv("KUBECONFIG")
	var kubeconfigs []string

	if kubeconfig == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
			kubeconfigs = []string{kubeconfig}
		}
	} else {
		kubeconfigs = filepath.SplitList(kubeconfig)
	}
	if len(kubeconfigs) == 0 {
		return []string{}, fmt.Errorf("failed to determine any valid kubeconfig in either $KUBECONFIG or standard paths")
	}

	validConfigs := []string{}
	for _, singleConfig := range kubeconfigs {
		_, err := os.Stat(singleConfig)
		if os.IsNotExist(err) {
			logger.Debug("kubeconfig file does not exist", "kubeConfig", singleConfig, "error", err)
			continue
		}
		if os.IsPermission(err) {
			logger.Debug("no permission to read kubeconfig file", "kubeConfig", singleConfig, "error", err)
			continue
		}
		validConfigs = append(validConfigs, singleConfig)
	}

	if len(validConfigs) == 0 {
		return []string{}, fmt.Errorf("could not read any kubeconfig")
	}

	return validConfigs, nil
}

func (self *k8sClientProvider) RunsInCluster() bool {
	switch self.executionContext {
	case execution_context_cluster:
		return true
	case execution_context_local, execution_context_none:
		return false
	default:
		panic(fmt.Errorf("unreachable: unhandled execution context"))
	}
}
