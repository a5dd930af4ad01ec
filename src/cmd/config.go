package cmd

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/config"
	"github.com/stolostron/console-sub025/src/logging"
	"github.com/stolostron/console-sub025/src/pathresolver"
	"github.com/stolostron/console-sub025/src/utils"
	"github.com/stolostron/console-sub025/src/watchcache"
)

const (
	TransportWebsocket = "websocket"
	TransportHttp      = "http"
)

func validateBool(key string) func(value string) error {
	return func(value string) error {
		_, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("'%s' needs to be a boolean: %s", key, err.Error())
		}
		return nil
	}
}

func validateDuration(key string) func(value string) error {
	return func(value string) error {
		_, err := utils.ParseNonNegativeDuration(value)
		if err != nil {
			return fmt.Errorf("'%s' needs to be a non negative duration: %s", key, err.Error())
		}
		return nil
	}
}

func LoadConfigDeclarations(configModule config.ConfigModule) {
	assert.Assert(configModule != nil)

	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_LOG_LEVEL",
		DefaultValue: utils.Pointer("info"),
		Description:  utils.Pointer("one of debug, info, warn, error"),
		Validate: func(value string) error {
			_, err := logging.ParseLogLevel(value)
			return err
		},
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_LOG_FILTER",
		DefaultValue: utils.Pointer(""),
		Description:  utils.Pointer("comma separated list of components for which logs should be enabled - if none are defined all logs are collected"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_LOG_FORMAT",
		DefaultValue: utils.Pointer("pretty"),
		Description:  utils.Pointer("log output format, pretty or json"),
		Validate: func(value string) error {
			if !slices.Contains([]string{"pretty", "json"}, value) {
				return fmt.Errorf("'MCW_LOG_FORMAT' needs to be one of pretty, json but is '%s'", value)
			}
			return nil
		},
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_BACKEND_URL",
		DefaultValue: utils.Pointer("https://localhost:4000"),
		Description:  utils.Pointer("URL of the console backend"),
		Envs:         []string{"BACKEND_URL"},
		Validate: func(value string) error {
			parsed, err := url.Parse(value)
			if err != nil {
				return fmt.Errorf("'MCW_BACKEND_URL' needs to be a URL: %s", err.Error())
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return fmt.Errorf("'MCW_BACKEND_URL' needs an http or https scheme: %s", value)
			}
			return nil
		},
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_BACKEND_ROOT",
		DefaultValue: utils.Pointer(pathresolver.DefaultBackendRoot),
		Description:  utils.Pointer("path prefix of the backend API"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_PROXY_SEGMENT",
		DefaultValue: utils.Pointer(pathresolver.DefaultProxySegment),
		Description:  utils.Pointer("path segment of the managed cluster proxy below the backend root"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_HUB_NAME",
		DefaultValue: utils.Pointer(""),
		Description:  utils.Pointer("name of the hub cluster, looked up from the backend if empty"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_BEARER_TOKEN",
		DefaultValue: utils.Pointer(""),
		Description:  utils.Pointer("token for the backend, the kubeconfig credentials are used if empty"),
		IsSecret:     true,
		Envs:         []string{"TOKEN"},
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_SKIP_TLS_VERIFICATION",
		DefaultValue: utils.Pointer("false"),
		Description:  utils.Pointer("skip TLS verification for the backend"),
		Validate:     validateBool("MCW_SKIP_TLS_VERIFICATION"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_KUBERNETES_DEBUG",
		DefaultValue: utils.Pointer("false"),
		Description:  utils.Pointer("log every request to the hub cluster"),
		Validate:     validateBool("MCW_KUBERNETES_DEBUG"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_CACHE_TTL",
		DefaultValue: utils.Pointer(watchcache.DefaultTTL.String()),
		Description:  utils.Pointer("how long an entry without a watch socket stays valid"),
		Validate:     validateDuration("MCW_CACHE_TTL"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_EVICTION_GRACE",
		DefaultValue: utils.Pointer(watchcache.DefaultEvictionGrace.String()),
		Description:  utils.Pointer("added to the TTL before an unreferenced entry is removed"),
		Validate:     validateDuration("MCW_EVICTION_GRACE"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_FETCH_FAILURE_HOLDDOWN",
		DefaultValue: utils.Pointer("0s"),
		Description:  utils.Pointer("how long a failed snapshot is served before it is fetched again"),
		Validate:     validateDuration("MCW_FETCH_FAILURE_HOLDDOWN"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_WATCH_TRANSPORT",
		DefaultValue: utils.Pointer(TransportWebsocket),
		Description:  utils.Pointer("transport of watch sockets, websocket or http"),
		Validate: func(value string) error {
			if !slices.Contains([]string{TransportWebsocket, TransportHttp}, value) {
				return fmt.Errorf("'MCW_WATCH_TRANSPORT' needs to be one of %s, %s but is '%s'", TransportWebsocket, TransportHttp, value)
			}
			return nil
		},
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_FLEET_ENABLED",
		DefaultValue: utils.Pointer("true"),
		Description:  utils.Pointer("whether managed clusters can be reached, hub only if false"),
		Validate:     validateBool("MCW_FLEET_ENABLED"),
	})
	configModule.Declare(config.ConfigDeclaration{
		Key:          "MCW_METRICS_ADDR",
		DefaultValue: utils.Pointer(""),
		Description:  utils.Pointer("address of the prometheus metrics endpoint, disabled if empty"),
		Validate: func(value string) error {
			if value == "" {
				return nil
			}
			_, _, err := net.SplitHostPort(value)
			if err != nil {
				return fmt.Errorf("'MCW_METRICS_ADDR' needs to be a host:port address: %s", err.Error())
			}
			return nil
		},
	})
}
