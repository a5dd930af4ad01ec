package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/utils"

	gorillaWebsocket "github.com/gorilla/websocket"
	"k8s.io/client-go/rest"
)

const (
	pingInterval     = 15 * time.Second
	writeWait        = 5 * time.Second
	handshakeTimeout = 30 * time.Second
)

// Opens watch streams as websocket connections against the proxy.
type websocketDialer struct {
	logger *slog.Logger
	config *rest.Config
}

func NewWebsocketDialer(logger *slog.Logger, config *rest.Config) Dialer {
	assert.Assert(logger != nil)
	assert.Assert(config != nil)

	return &websocketDialer{logger: logger, config: config}
}

// Turn the http(s) host of the rest config into the ws(s) url of a backend path.
func (self *websocketDialer) websocketUrl(path string) (*url.URL, error) {
	host := self.config.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host '%s': %w", self.config.Host, err)
	}
	target, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path '%s': %w", path, err)
	}

	switch base.Scheme {
	case "http", "ws":
		base.Scheme = "ws"
	default:
		base.Scheme = "wss"
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + target.Path
	base.RawPath = ""
	base.RawQuery = target.RawQuery

	return base, nil
}

func (self *websocketDialer) Dial(ctx context.Context, path string, onFrame func(frame []byte), onClose func(err error)) (Socket, error) {
	assert.Assert(onFrame != nil)
	assert.Assert(onClose != nil)

	connectionUrl, err := self.websocketUrl(path)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := rest.TLSConfigFor(self.config)
	if err != nil {
		return nil, fmt.Errorf("failed to build tls config: %w", err)
	}

	dialer := &gorillaWebsocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  tlsConfig,
	}

	header := http.Header{}
	if self.config.BearerToken != "" {
		header.Set("Authorization", "Bearer "+self.config.BearerToken)
	}

	conn, response, err := dialer.DialContext(ctx, connectionUrl.String(), header)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", connectionUrl.Redacted(), err)
	}

	socket := &websocketSocket{
		id:         utils.NanoIdSmallLowerCase(),
		connection: conn,
		done:       make(chan struct{}),
	}
	logger := self.logger.With("socket", socket.id)
	logger.Info("established websocket connection", "url", connectionUrl.Redacted(), "localAddr", conn.LocalAddr())

	go socket.startReadThread(logger, onFrame, onClose)
	go socket.startPingThread(logger)

	return socket, nil
}

type websocketSocket struct {
	id         string
	connection *gorillaWebsocket.Conn
	done       chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool
}

func (self *websocketSocket) ID() string {
	return self.id
}

func (self *websocketSocket) Close() error {
	var err error
	self.closeOnce.Do(func() {
		self.closed.Store(true)
		close(self.done)
		// control frames may be written concurrently with everything else
		_ = self.connection.WriteControl(
			gorillaWebsocket.CloseMessage,
			gorillaWebsocket.FormatCloseMessage(gorillaWebsocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = self.connection.Close()
	})
	return err
}

// Single reader per connection, frames are handed on in arrival order.
func (self *websocketSocket) startReadThread(logger *slog.Logger, onFrame func(frame []byte), onClose func(err error)) {
	for {
		messageType, data, err := self.connection.ReadMessage()
		if err != nil {
			byCaller := self.closed.Load()
			_ = self.Close()
			if byCaller || gorillaWebsocket.IsCloseError(err, gorillaWebsocket.CloseNormalClosure) {
				logger.Debug("websocket closed")
				onClose(nil)
				return
			}
			logger.Debug("websocket ended", "error", err)
			onClose(err)
			return
		}
		if messageType != gorillaWebsocket.TextMessage && messageType != gorillaWebsocket.BinaryMessage {
			continue
		}
		onFrame(data)
	}
}

func (self *websocketSocket) startPingThread(logger *slog.Logger) {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-self.done:
			return
		case <-pingTicker.C:
			err := self.connection.WriteControl(gorillaWebsocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
