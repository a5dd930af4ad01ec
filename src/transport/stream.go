package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/utils"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/client-go/rest"
)

// Watches over a chunked HTTP response, the way kubectl does.
type streamDialer struct {
	client rest.Interface
	logger *slog.Logger
}

func NewStreamDialer(logger *slog.Logger, client rest.Interface) Dialer {
	assert.Assert(logger != nil)
	assert.Assert(client != nil)

	return &streamDialer{client: client, logger: logger}
}

func (self *streamDialer) Dial(ctx context.Context, path string, onFrame func(frame []byte), onClose func(err error)) (Socket, error) {
	assert.Assert(onFrame != nil)
	assert.Assert(onClose != nil)

	request, err := newGet(self.client, path)
	if err != nil {
		return nil, err
	}

	// the stream outlives the call that opened it
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	body, err := request.Stream(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open watch stream: %w", err)
	}

	socket := &streamSocket{
		id:     utils.NanoIdSmallLowerCase(),
		body:   body,
		cancel: cancel,
	}
	logger := self.logger.With("socket", socket.id)
	logger.Debug("opened watch stream", "path", path)

	go socket.readLoop(logger, onFrame, onClose)

	return socket, nil
}

type streamSocket struct {
	id        string
	body      io.ReadCloser
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool
}

func (self *streamSocket) ID() string {
	return self.id
}

func (self *streamSocket) Close() error {
	var err error
	self.closeOnce.Do(func() {
		self.closed.Store(true)
		self.cancel()
		err = self.body.Close()
	})
	return err
}

func (self *streamSocket) readLoop(logger *slog.Logger, onFrame func(frame []byte), onClose func(err error)) {
	decoder := json.NewDecoder(self.body)
	for {
		frame := jsoniter.RawMessage{}
		err := decoder.Decode(&frame)
		if err != nil {
			byCaller := self.closed.Load()
			_ = self.Close()
			if byCaller {
				logger.Debug("watch stream closed")
				onClose(nil)
				return
			}
			logger.Debug("watch stream ended", "error", err)
			onClose(err)
			return
		}
		onFrame(frame)
	}
}
