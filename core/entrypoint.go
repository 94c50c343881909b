package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/encodeous/dvsim/perf"
	"github.com/encodeous/dvsim/state"
	"github.com/encodeous/tint"
	"github.com/goccy/go-yaml"
	slogmulti "github.com/samber/slog-multi"
)

// Options tune how a node is hosted. The zero value runs a node on real UDP sockets.
type Options struct {
	// Listen opens channel transports, ListenUDP when nil
	Listen state.ListenFunc
	// HandleSignals stops the node on SIGINT or SIGTERM
	HandleSignals bool
	// Stderr receives the console log, os.Stderr when nil
	Stderr io.Writer
	// LogHandlers receive every log record in addition to the console and the log file
	LogHandlers []slog.Handler
	// OnReady is called once every module is initialized, before the main loop starts
	OnReady func(s *state.State)
}

func setupDebugging() {
	if state.DBG_debug {
		go func() {
			log.Println(http.ListenAndServe("0.0.0.0:6060", nil))
		}()
	}
}

func ReadNodeConfig(nodePath string) (*state.LocalCfg, error) {
	var nodeCfg state.LocalCfg
	file, err := os.ReadFile(nodePath)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, &nodeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", nodePath, err)
	}
	return &nodeCfg, nil
}

// Bootstrap manages the lifetime of the whole application. A node may be restarted multiple times, but Bootstrap is only called once.
func Bootstrap(nodePath string, role state.Role, logPath string, verbose bool) error {
	setupDebugging()
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	for {
		nodeCfg, err := ReadNodeConfig(nodePath)
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("node config not found, using defaults", "path", nodePath)
			nodeCfg, err = &state.LocalCfg{}, nil
		}
		if err != nil {
			return err
		}
		if role != "" {
			nodeCfg.Role = role
		}
		if logPath != "" {
			nodeCfg.LogPath = logPath
		}
		state.ApplyDefaults(nodeCfg)
		err = state.NodeConfigValidator(nodeCfg)
		if err != nil {
			return err
		}
		restart, err := Start(*nodeCfg, level, Options{HandleSignals: true})
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
		time.Sleep(state.RestartDelay)
	}
}

func newLogger(ncfg state.LocalCfg, logLevel slog.Level, opts Options) (*slog.Logger, func(), error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: ncfg.Id,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))
	handlers = append(handlers, opts.LogHandlers...)

	closer := func() {}
	if ncfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(ncfg.LogPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		closer = func() { _ = f.Close() }
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}).WithAttrs([]slog.Attr{slog.String("node", ncfg.Id)}))
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Start runs a node until it stops. It returns true when the node failed and should be restarted.
// ncfg must have had defaults applied.
func Start(ncfg state.LocalCfg, logLevel slog.Level, opts Options) (bool, error) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(context.Canceled)

	dispatch := make(chan func(env *state.State) error, 128)

	logger, closeLog, err := newLogger(ncfg, logLevel, opts)
	if err != nil {
		return false, err
	}
	defer closeLog()

	addrs, err := ResolveSelf(&ncfg)
	if err != nil {
		return false, err
	}
	if len(addrs) == 0 {
		return false, errors.New("node has no usable IPv4 address")
	}
	self := make([]state.NodeAddr, 0, len(addrs))
	for _, addr := range addrs {
		self = append(self, state.AddrOf(addr))
	}
	slices.Sort(self)
	self = slices.Compact(self)

	listen := opts.Listen
	if listen == nil {
		listen = ListenUDP
	}

	s := state.State{
		Modules: make(map[string]state.NyModule),
		Table:   state.NewRouteTable(),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			LocalCfg:        ncfg,
			Log:             logger,
			Self:            self,
			Domains:         state.NewDomains(addrs),
			Listen:          listen,
		},
	}

	s.Log.Info("init modules", "role", ncfg.Role, "self", self, "link_delay", ncfg.LinkDelay)
	err = initModules(&s)
	if err != nil {
		Stop(&s)
		return false, err
	}
	s.Log.Info("init modules complete")

	if opts.HandleSignals {
		s.Log.Info("Node has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(c)
		go func() {
			select {
			case <-c:
				s.Cancel(errors.New("received shutdown signal"))
			case <-ctx.Done():
				return
			}
		}()
	}

	if opts.OnReady != nil {
		opts.OnReady(&s)
	}

	MainLoop(&s, dispatch)

	if s.Failed.Load() {
		cause := context.Cause(ctx)
		if ncfg.RestartOnFailure {
			s.Log.Warn("node failed, restarting", "cause", cause, "delay", state.RestartDelay)
			return true, nil
		}
		return false, cause
	}
	return false, nil
}

func initModules(s *state.State) error {
	var modules []state.NyModule
	modules = append(modules, &Trace{})
	switch s.Role {
	case state.RoleRelay:
		modules = append(modules, &Relay{})
	case state.RoleLeaf:
		modules = append(modules, &Leaf{}, &IngestApi{})
	default:
		return fmt.Errorf("unknown role %q", s.Role)
	}
	modules = append(modules, &Inspector{})

	for _, module := range modules {
		name := reflect.TypeOf(module).String()
		if err := module.Init(s); err != nil {
			return fmt.Errorf("failed to init %s: %w", name, err)
		}
		s.Modules[name] = module
		s.ModuleOrder = append(s.ModuleOrder, name)
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Failed.Store(true)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
}

// Stop cleans up modules in reverse initialization order
func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for _, moduleName := range slices.Backward(s.ModuleOrder) {
		err := s.Modules[moduleName].Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}
