package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/config"
	"github.com/stolostron/console-sub025/src/hub"
	"github.com/stolostron/console-sub025/src/k8sclient"
	"github.com/stolostron/console-sub025/src/logging"
	"github.com/stolostron/console-sub025/src/multicluster"
	"github.com/stolostron/console-sub025/src/pathresolver"
	"github.com/stolostron/console-sub025/src/shutdown"
	"github.com/stolostron/console-sub025/src/transport"
	"github.com/stolostron/console-sub025/src/watchcache"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"
)

type systems struct {
	clientProvider k8sclient.K8sClientProvider
	resolver       *hub.Resolver
	client         *multicluster.Client
}

// Full initialization of the watch client and everything it depends on.
func InitializeSystems(logManagerModule logging.SlogManager, configModule config.ConfigModule) (systems, error) {
	assert.Assert(logManagerModule != nil)
	assert.Assert(configModule != nil)

	err := configModule.Validate()
	if err != nil {
		return systems{}, err
	}

	clientProvider, err := k8sclient.NewK8sClientProvider(logManagerModule.CreateLogger("client-provider"), configModule)
	if err != nil {
		return systems{}, err
	}
	restClient, err := transport.NewRESTClient(clientProvider.BackendConfig())
	if err != nil {
		return systems{}, err
	}

	paths := pathresolver.Options{
		BackendRoot:  configModule.Get("MCW_BACKEND_ROOT"),
		ProxySegment: configModule.Get("MCW_PROXY_SEGMENT"),
	}

	lookup := hub.HTTPLookup(restClient, paths.BackendRoot+"/hub")
	if hubName := configModule.Get("MCW_HUB_NAME"); hubName != "" {
		lookup = hub.StaticLookup(hubName)
	}
	resolver := hub.NewResolver(logManagerModule.CreateLogger("hub"), lookup)

	var dialer transport.Dialer
	switch configModule.Get("MCW_WATCH_TRANSPORT") {
	case TransportHttp:
		dialer = transport.NewStreamDialer(logManagerModule.CreateLogger("stream-dialer"), restClient)
	default:
		dialer = transport.NewWebsocketDialer(logManagerModule.CreateLogger("websocket-dialer"), clientProvider.BackendConfig())
	}

	fetcher := transport.NewRESTFetcher(restClient)
	cache := watchcache.NewCache(logManagerModule.CreateLogger("watchcache"), watchcache.CacheOptions{
		TTL:           configModule.GetDuration("MCW_CACHE_TTL"),
		EvictionGrace: configModule.GetDuration("MCW_EVICTION_GRACE"),
		Clock:         clock.RealClock{},
	})
	controller := watchcache.NewController(logManagerModule.CreateLogger("controller"), cache, fetcher, dialer, watchcache.ControllerOptions{
		FetchFailureHoldDown: configModule.GetDuration("MCW_FETCH_FAILURE_HOLDDOWN"),
	})

	var local multicluster.LocalClient
	if clientProvider.DynamicClient() != nil {
		local = multicluster.NewDynamicLocalClient(clientProvider.DynamicClient())
	}

	fleetEnabled := configModule.GetBool("MCW_FLEET_ENABLED")
	client := multicluster.NewClient(logManagerModule.CreateLogger("multicluster"), resolver, controller, fetcher, local, multicluster.Options{
		Paths:          paths,
		FleetAvailable: func() bool { return fleetEnabled },
	})
	shutdown.Add(client.Close)

	return systems{
		clientProvider: clientProvider,
		resolver:       resolver,
		client:         client,
	}, nil
}

// Serve prometheus metrics until shutdown. Does nothing without an address.
func startMetricsServer(logManagerModule logging.SlogManager, configModule config.ConfigModule) {
	addr := configModule.Get("MCW_METRICS_ADDR")
	if addr == "" {
		return
	}
	logger := logManagerModule.CreateLogger("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdown.Add(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(ctx)
		if err != nil {
			logger.Error("failed to shut down metrics server", "error", err)
		}
	})

	go func() {
		logger.Info("serving metrics", "addr", addr)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
			shutdown.SendShutdownSignal(true)
		}
	}()
}
