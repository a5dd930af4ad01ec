package shutdown

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var DefaultShutdown = New(slog.Default())

func Add(fn func()) {
	DefaultShutdown.Add(fn)
}

func Listen() {
	DefaultShutdown.Listen()
}

func SendShutdownSignal(indicateFailure bool) {
	DefaultShutdown.SendShutdownSignal(indicateFailure)
}

type Shutdown struct {
	logger *slog.Logger
	hooks  []func()
	mutex  *sync.Mutex
}

func New(logger *slog.Logger) *Shutdown {
	return &Shutdown{
		logger: logger,
		hooks:  []func(){},
		mutex:  &sync.Mutex{},
	}
}

func (s *Shutdown) SetLogger(logger *slog.Logger) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.logger = logger
}

func (s *Shutdown) Add(fn func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Shutdown) SendShutdownSignal(indicateFailure bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.logger.Info("sending request to shut down", "failure", indicateFailure)
	sig := syscall.SIGINT
	if indicateFailure {
		sig = syscall.SIGTERM
	}
	err := syscall.Kill(syscall.Getpid(), sig)
	if err != nil {
		panic(fmt.Errorf("failed to send %s signal: %w", sig.String(), err))
	}
}

// Run all hooks concurrently and wait for them.
func (s *Shutdown) RunHooks() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var wg sync.WaitGroup
	for _, fn := range s.hooks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	wg.Wait()
	s.logger.Info("finished shutdown routines")
}

// Block until SIGINT or SIGTERM, run the hooks and exit. SIGTERM exits with 1.
func (s *Shutdown) Listen() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-ch
	s.logger.Info("received request to shut down", "signal", receivedSignal.String())
	s.RunHooks()
	switch receivedSignal {
	case syscall.SIGINT:
		os.Exit(0)
	case syscall.SIGTERM:
		os.Exit(1)
	default:
		os.Exit(255)
	}
}
