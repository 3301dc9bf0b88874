package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/maxdap-io/maxdap/backend"
	"github.com/maxdap-io/maxdap/cli/config"
	"github.com/maxdap-io/maxdap/frontend"
	"github.com/maxdap-io/maxdap/log"
	"github.com/maxdap-io/maxdap/metrics"
	"github.com/maxdap-io/maxdap/protocol"
	"github.com/maxdap-io/maxdap/relay"
	"github.com/maxdap-io/maxdap/sink"
)

// Exit codes for serve.
const (
	exitSuccess       = 0
	exitConfigFailure = 1
	exitTargetFailure = 2
	exitSessionError  = 3
)

// Built-in defaults applied when neither flags nor config provide a
// value. The port matches the bundled debugger bootstrap's default.
const (
	defaultTargetHost = "localhost"
	defaultTargetPort = 5678
	defaultLogLevel   = "info"
	markerFileName    = "maxdap-finished.txt"
)

// ServeCommand returns the serve command, the adapter's only execution
// entrypoint. It speaks the debug protocol on stdio until the front-end
// disconnects or the debugged program finishes.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the debug adapter on stdio (launched by the editor)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to maxdap.yaml config file",
			},
			&cli.StringFlag{
				Name:  "target-host",
				Usage: "Default debug endpoint host (attach request may override)",
			},
			&cli.IntFlag{
				Name:  "target-port",
				Usage: "Default debug endpoint port (attach request may override)",
			},
			&cli.StringFlag{
				Name:  "program",
				Usage: "Default program path on the target machine (attach request may override)",
			},
			&cli.StringFlag{
				Name:  "debugger",
				Usage: "Directory holding the bundled debugger package on the target machine",
			},
			&cli.StringFlag{
				Name:  "window-title",
				Usage: "Title substring of the target application's main window",
			},
			&cli.StringFlag{
				Name:  "temp-dir",
				Usage: "Directory for injected code files and the completion marker",
			},
			&cli.StringFlag{
				Name:  "marker",
				Usage: "Completion marker file path (defaults to <temp-dir>/" + markerFileName + ")",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Completion marker polling interval",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
		},
		Action: serveAction,
	}
}

// serveSettings is the merged flag/config/default view serve runs with.
type serveSettings struct {
	targetHost   string
	targetPort   int
	program      string
	debuggerPath string
	windowTitle  string
	tempDir      string
	markerPath   string
	pollInterval time.Duration
	logLevel     string
}

func serveAction(c *cli.Context) error {
	settings, err := resolveSettings(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigFailure)
	}

	level, err := zapcore.ParseLevel(settings.logLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid log level %q", settings.logLevel), exitConfigFailure)
	}

	sessionID := strconv.FormatInt(time.Now().UnixNano(), 36)
	logger := log.NewLogger(sessionID, level)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting adapter", map[string]any{
		"target_host": settings.targetHost,
		"target_port": settings.targetPort,
		"marker":      settings.markerPath,
	})

	collector := metrics.NewCollector(sessionID)
	fe := frontend.NewStdio(logger)
	be := backend.New(logger)

	newSink := func() (sink.Sink, error) {
		return sink.New(sink.Config{
			Locator:      sink.NewLocator(),
			WindowTitle:  settings.windowTitle,
			TempDir:      settings.tempDir,
			MarkerPath:   settings.markerPath,
			PollInterval: settings.pollInterval,
			Logger:       logger,
		})
	}

	session := relay.NewSession(relay.Config{
		Defaults: protocol.AttachConfig{
			Host:    settings.targetHost,
			Port:    settings.targetPort,
			Program: settings.program,
		},
		DebuggerPath: settings.debuggerPath,
		MarkerPath:   settings.markerPath,
	}, fe, be, newSink, logger, collector)

	fe.OnReceive(session.OnFrontendMessage)
	be.OnReceive(session.OnBackendMessage)
	fe.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, disconnecting", map[string]any{
			"signal": sig.String(),
		})
		session.Disconnect()
	}()

	// The front-end hanging up is a disconnect; so is session
	// completion from the inside (marker observed, fatal attach error).
	go func() {
		<-fe.Done()
		session.Disconnect()
	}()

	<-session.Done()

	if err := session.Err(); err != nil {
		if sink.IsTargetNotFound(err) || sink.IsListenerNotFound(err) {
			return cli.Exit(err.Error(), exitTargetFailure)
		}
		return cli.Exit(err.Error(), exitSessionError)
	}
	return cli.Exit("", exitSuccess)
}

// resolveSettings merges CLI flags over config file values over
// built-in defaults.
func resolveSettings(c *cli.Context) (serveSettings, error) {
	var cfg config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return serveSettings{}, err
		}
		cfg = *loaded
	}

	s := serveSettings{
		targetHost:   firstNonEmpty(c.String("target-host"), cfg.Target.Host, defaultTargetHost),
		program:      firstNonEmpty(c.String("program"), cfg.Program),
		debuggerPath: firstNonEmpty(c.String("debugger"), cfg.Debugger),
		windowTitle:  firstNonEmpty(c.String("window-title"), cfg.Sink.WindowTitle, sink.DefaultWindowTitle),
		tempDir:      firstNonEmpty(c.String("temp-dir"), cfg.Sink.TempDir, os.TempDir()),
		logLevel:     firstNonEmpty(c.String("log-level"), cfg.LogLevel, defaultLogLevel),
	}

	s.targetPort = c.Int("target-port")
	if s.targetPort == 0 {
		s.targetPort = cfg.Target.Port
	}
	if s.targetPort == 0 {
		s.targetPort = defaultTargetPort
	}
	if s.targetPort < 1 || s.targetPort > 65535 {
		return serveSettings{}, fmt.Errorf("target port out of range: %d", s.targetPort)
	}

	s.markerPath = firstNonEmpty(c.String("marker"), cfg.Sink.Marker)
	if s.markerPath == "" {
		s.markerPath = filepath.Join(s.tempDir, markerFileName)
	}

	s.pollInterval = c.Duration("poll-interval")
	if s.pollInterval == 0 {
		s.pollInterval = cfg.Sink.PollInterval.Duration
	}
	if s.pollInterval == 0 {
		s.pollInterval = sink.DefaultPollInterval
	}
	if s.pollInterval < 0 {
		return serveSettings{}, fmt.Errorf("negative poll interval: %s", s.pollInterval)
	}

	return s, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
