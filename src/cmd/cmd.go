package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/stolostron/console-sub025/src/assert"
	"github.com/stolostron/console-sub025/src/config"
	"github.com/stolostron/console-sub025/src/logging"
	"github.com/stolostron/console-sub025/src/secrets"
	"github.com/stolostron/console-sub025/src/shutdown"
	"github.com/stolostron/console-sub025/src/version"

	"github.com/alecthomas/kong"
	"github.com/lithammer/dedent"
	"github.com/mattn/go-isatty"
	"k8s.io/klog/v2"
)

var CLI struct {
	// Commands
	Watch   watchArgs `cmd:"" help:"watch a resource or collection and print it on every change"`
	Get     getArgs   `cmd:"" help:"read a resource or collection once"`
	Hub     struct{}  `cmd:"" help:"print the name of the hub cluster"`
	Config  struct{}  `cmd:"" help:"print application config in ENV format"`
	Version struct{}  `cmd:"" help:"print version information" default:"1"`
}

var description = strings.TrimSpace(dedent.Dedent(`
	multi cluster resource watcher

	Reads and watches kubernetes resources on the hub and on managed clusters
	through the console backend. Watches on the same target share a single
	snapshot and a single watch socket.
`))

func Run() error {
	//===============================================================
	//====================== Initialize Config ======================
	//===============================================================
	configModule := config.NewConfig()
	configModule.OnChanged(nil, func(key string, value string, isSecret bool) {
		secrets.UpdateConfigSecrets(configModule.GetAll())
	})
	LoadConfigDeclarations(configModule)
	err := configModule.LoadEnvs()
	if err != nil {
		return err
	}

	//===============================================================
	//====================== Initialize Logger ======================
	//===============================================================
	slogManager := newSlogManager(configModule)
	cmdLogger := slogManager.CreateLogger("cmd")
	klog.SetSlogLogger(slogManager.CreateLogger("klog"))
	shutdown.DefaultShutdown.SetLogger(slogManager.CreateLogger("shutdown"))

	//===============================================================
	//========================= Parse Args ==========================
	//===============================================================
	ctx := kong.Parse(
		&CLI,
		kong.Name("mcwatch"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: false,
			Summary: true,
			Tree:    true,
		}),
	)

	//===============================================================
	//======================= Execute Command =======================
	//===============================================================
	switch {
	case strings.HasPrefix(ctx.Command(), "watch"):
		return RunWatch(&CLI.Watch, slogManager, configModule, cmdLogger)
	case strings.HasPrefix(ctx.Command(), "get"):
		return RunGet(&CLI.Get, slogManager, configModule, cmdLogger)
	case ctx.Command() == "hub":
		return RunHub(slogManager, configModule, cmdLogger)
	case ctx.Command() == "version":
		versionModule := version.NewVersion()
		versionModule.PrintVersionInfo()
		return nil
	case ctx.Command() == "config":
		fmt.Println(configModule.AsEnvs())
		return nil
	default:
		return ctx.PrintUsage(true)
	}
}

func newSlogManager(configModule config.ConfigModule) logging.SlogManager {
	assert.Assert(configModule != nil)

	logLevel, err := logging.ParseLogLevel(configModule.Get("MCW_LOG_LEVEL"))
	assert.Assert(err == nil, "failed to parse log level", err)
	logFilter := []string{}
	for f := range strings.SplitSeq(configModule.Get("MCW_LOG_FILTER"), ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		logFilter = append(logFilter, f)
	}

	var handler slog.Handler
	switch configModule.Get("MCW_LOG_FORMAT") {
	case "json":
		handler = logging.NewJSONHandler(os.Stderr, logLevel, secrets.EraseSecrets)
	default:
		handler = logging.NewPrettyPrintHandler(
			os.Stderr,
			isatty.IsTerminal(os.Stderr.Fd()),
			logLevel,
			logFilter,
			secrets.EraseSecrets,
		)
	}

	return logging.NewSlogManager(logLevel, []slog.Handler{handler})
}
