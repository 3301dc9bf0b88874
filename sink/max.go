package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maxdap-io/maxdap/log"
)

// Window classes of the listener controls, oldest Max versions last.
const (
	primaryListenerClass = "MXS_Scintilla"
	statusPanelClass     = "StatusPanel"
	legacyListenerClass  = "RICHEDIT"
)

// DefaultWindowTitle identifies the target application's main window.
const DefaultWindowTitle = "Autodesk 3ds Max"

// DefaultPollInterval is how often the completion watcher checks for
// the marker file.
const DefaultPollInterval = 100 * time.Millisecond

// Config configures a MaxSink.
type Config struct {
	// Locator finds the target window. Required.
	Locator Locator
	// WindowTitle is the title substring to locate. Defaults to
	// DefaultWindowTitle.
	WindowTitle string
	// TempDir holds the injected code file. Defaults to os.TempDir().
	TempDir string
	// MarkerPath is the completion marker the injected run touches.
	// Defaults to <TempDir>/maxdap-finished.txt.
	MarkerPath string
	// PollInterval is the marker polling cadence. Defaults to
	// DefaultPollInterval.
	PollInterval time.Duration
	// Logger is required.
	Logger *log.Logger
}

// MaxSink drives a running 3ds Max instance.
type MaxSink struct {
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	window Window

	watchOnce sync.Once
	stopOnce  sync.Once
	completed chan struct{}
	stop      chan struct{}
}

// New locates the target application and prepares the sink. A stale
// completion marker from a previous run is removed so it cannot be
// misread as a fresh signal. Fails with TargetNotFoundError when the
// target is not running.
func New(cfg Config) (*MaxSink, error) {
	if cfg.WindowTitle == "" {
		cfg.WindowTitle = DefaultWindowTitle
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.MarkerPath == "" {
		cfg.MarkerPath = filepath.Join(cfg.TempDir, "maxdap-finished.txt")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	window, err := cfg.Locator.Locate(cfg.WindowTitle)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(cfg.MarkerPath); err == nil {
		cfg.Logger.Debug("removed stale completion marker", map[string]any{
			"marker": cfg.MarkerPath,
		})
	}

	return &MaxSink{
		cfg:       cfg,
		logger:    cfg.Logger,
		window:    window,
		completed: make(chan struct{}),
		stop:      make(chan struct{}),
	}, nil
}

// MarkerPath returns the completion marker location the injected run
// must touch.
func (s *MaxSink) MarkerPath() string {
	return s.cfg.MarkerPath
}

// Inject writes code to a temp file and issues the execute command to
// the target's listener. Dispatch is guaranteed; execution is not.
func (s *MaxSink) Inject(code string) error {
	path := filepath.Join(s.cfg.TempDir, "maxdap_run.py")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return &InjectionError{Err: fmt.Errorf("writing code file: %w", err)}
	}

	cmd := fmt.Sprintf(`python.ExecuteFile @"%s";`, path)

	listener, legacy, err := s.listener()
	if err != nil {
		return err
	}
	if legacy {
		// Ancient Max versions predate verbatim strings and need
		// doubled backslashes.
		cmd = strings.ReplaceAll(cmd, "@", "")
		cmd = strings.ReplaceAll(cmd, `\`, `\\`)
	}

	s.logger.Debug("dispatching execute command", map[string]any{
		"command": cmd,
		"legacy":  legacy,
	})

	if err := listener.Exec(cmd); err != nil {
		return &InjectionError{Err: err}
	}
	return nil
}

// listener discovers the listener control: the Scintilla-based mini
// macro recorder first, then the rich-edit recorder of pre-Scintilla
// versions. A stale window handle is re-resolved once before failing.
func (s *MaxSink) listener() (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; ; attempt++ {
		listener, legacy, err := findListener(s.window)
		if err == ErrStale && attempt == 0 {
			// The target was probably restarted; try to find it again.
			window, lerr := s.cfg.Locator.Locate(s.cfg.WindowTitle)
			if lerr != nil {
				return nil, false, lerr
			}
			s.window = window
			continue
		}
		if err == ErrStale || err == ErrNoChild {
			return nil, false, &ListenerNotFoundError{}
		}
		if err != nil {
			return nil, false, err
		}
		return listener, legacy, nil
	}
}

func findListener(window Window) (Window, bool, error) {
	listener, err := window.FindChild(primaryListenerClass)
	if err == nil {
		return listener, false, nil
	}
	if err != ErrNoChild {
		return nil, false, err
	}

	panel, err := window.FindChild(statusPanelClass)
	if err != nil {
		return nil, false, err
	}
	listener, err = panel.FindChild(legacyListenerClass)
	if err != nil {
		return nil, false, err
	}
	return listener, true, nil
}

// Completion starts the marker watcher on first call and returns the
// channel closed when the injected run reports completion.
func (s *MaxSink) Completion() <-chan struct{} {
	s.watchOnce.Do(func() {
		go s.watch()
	})
	return s.completed
}

// Stop terminates the completion watcher. Idempotent.
func (s *MaxSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// watch polls for the marker file, consumes it, and signals completion
// exactly once.
func (s *MaxSink) watch() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := os.Stat(s.cfg.MarkerPath); err != nil {
				continue
			}
			if err := os.Remove(s.cfg.MarkerPath); err != nil {
				s.logger.Warn("could not consume completion marker", map[string]any{
					"marker": s.cfg.MarkerPath,
					"error":  err.Error(),
				})
			}
			s.logger.Info("target finished running injected code", nil)
			close(s.completed)
			return
		}
	}
}
