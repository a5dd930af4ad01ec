package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/config"
	"github.com/stolostron/console-sub025/src/logging"
	"github.com/stolostron/console-sub025/src/multicluster"
	"github.com/stolostron/console-sub025/src/resource"
	"github.com/stolostron/console-sub025/src/shutdown"
	"github.com/stolostron/console-sub025/src/watchcache"
)

const commandTimeout = 60 * time.Second

type watchArgs struct {
	resourceArgs `embed:""`
	Output       string `short:"o" enum:"table,yaml,json,events" default:"table" help:"output format, events prints one line per change"`
}

type getArgs struct {
	resourceArgs `embed:""`
	Output       string `short:"o" enum:"table,yaml,json" default:"table" help:"output format"`
}

func RunWatch(args *watchArgs, logManagerModule logging.SlogManager, configModule config.ConfigModule, cmdLogger *slog.Logger) error {
	assert.Assert(args != nil)
	assert.Assert(cmdLogger != nil)

	req, err := args.request()
	if err != nil {
		return err
	}
	systems, err := InitializeSystems(logManagerModule, configModule)
	if err != nil {
		return err
	}
	startMetricsServer(logManagerModule, configModule)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	watch, err := systems.client.Watch(ctx, req)
	if err != nil {
		return err
	}
	cmdLogger.Info("watching", "key", watch.Key(), "cluster", watch.Route().Cluster)

	printer := &resultPrinter{output: args.Output, logger: cmdLogger, out: os.Stdout}
	unsubscribe := watch.Subscribe(printer.print)
	shutdown.Add(unsubscribe)
	shutdown.Add(watch.Stop)

	result, err := watch.Wait(ctx)
	if err != nil {
		return err
	}
	if result.LoadError != nil {
		return result.LoadError
	}
	// a frame may have been printed while waiting, that one is newer
	printer.printFirst(result)

	shutdown.Listen()
	return nil
}

// Renders every result of a watch, the events output only prints the
// difference to the previous one.
type resultPrinter struct {
	output   string
	logger   *slog.Logger
	out      io.Writer
	lock     sync.Mutex
	previous []*resource.Resource
	printed  bool
}

func (self *resultPrinter) print(result watchcache.Result) {
	self.lock.Lock()
	defer self.lock.Unlock()

	self.printLocked(result)
}

// Print result unless a result was printed before.
func (self *resultPrinter) printFirst(result watchcache.Result) {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.printed {
		return
	}
	self.printLocked(result)
}

func (self *resultPrinter) printLocked(result watchcache.Result) {
	if !result.Loaded {
		return
	}
	if result.LoadError != nil {
		self.logger.Error("failed to load", "error", result.LoadError)
		return
	}

	items := resultItems(result)
	if self.output == OutputEvents {
		previous := self.previous
		self.previous = items
		if !self.printed {
			self.printed = true
			previous = []*resource.Resource{}
		}
		fmt.Fprint(self.out, renderChanges(diffItems(previous, items)))
		return
	}

	rendered, err := renderItems(self.output, items, time.Now())
	if err != nil {
		self.logger.Error("failed to render result", "error", err)
		return
	}
	self.printed = true
	fmt.Fprint(self.out, rendered)
}

func RunGet(args *getArgs, logManagerModule logging.SlogManager, configModule config.ConfigModule, cmdLogger *slog.Logger) error {
	assert.Assert(args != nil)
	assert.Assert(cmdLogger != nil)

	req, err := args.request()
	if err != nil {
		return err
	}
	systems, err := InitializeSystems(logManagerModule, configModule)
	if err != nil {
		return err
	}
	defer systems.client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var value any
	var items []*resource.Resource
	if req.IsList() {
		items, err = systems.client.List(ctx, req, multicluster.ReadOptions{})
		value = items
	} else {
		var object *resource.Resource
		object, err = systems.client.Get(ctx, req, multicluster.ReadOptions{})
		items = []*resource.Resource{object}
		value = object
	}
	if err != nil {
		return err
	}

	rendered := ""
	switch args.Output {
	case OutputYaml:
		rendered, err = renderYaml(value)
	case OutputJson:
		rendered, err = renderJson(value)
	default:
		rendered = renderTable(items, time.Now()) + "\n"
	}
	if err != nil {
		return err
	}
	fmt.Print(rendered)
	return nil
}

func RunHub(logManagerModule logging.SlogManager, configModule config.ConfigModule, cmdLogger *slog.Logger) error {
	assert.Assert(cmdLogger != nil)

	systems, err := InitializeSystems(logManagerModule, configModule)
	if err != nil {
		return err
	}
	defer systems.client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	hubName, err := systems.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	cmdLogger.Debug("resolved hub", "name", hubName, "inCluster", systems.clientProvider.RunsInCluster())
	fmt.Println(hubName)
	return nil
}
