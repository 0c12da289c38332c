package reporting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum-optimism/infra/op-harness/logging"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
)

// EventSink consumes the event stream of a run
type EventSink interface {
	// Consume processes a single event, in emission order
	Consume(ev *types.Event) error
	// Complete is called once the run-end event has been consumed
	Complete(runID string) error
}

// Options is handed to every sink factory
type Options struct {
	Out              io.Writer // Console output; stdout when nil
	LogDir           string    // Base directory of file sinks
	RunID            string
	Log              log.Logger
	Clock            clock.Clock // Drives periodic sinks; the wall clock when nil
	ProgressInterval time.Duration
	NoColor          bool
}

func (o Options) withDefaults() Options {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Log == nil {
		o.Log = log.New()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// Factory creates a sink
type Factory func(opts Options) (EventSink, error)

// Names of the built-in sinks
const (
	SinkTable    = "table"
	SinkTree     = "tree"
	SinkJSON     = "json"
	SinkFile     = "file"
	SinkProgress = "progress"
)

// Registry maps sink names to their factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry holding the built-in sinks
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.mustRegister(SinkTable, func(opts Options) (EventSink, error) {
		return NewTableSink(opts.Out, "Test Results"), nil
	})
	r.mustRegister(SinkTree, func(opts Options) (EventSink, error) {
		return NewTreeSink(opts.Out, !opts.NoColor), nil
	})
	r.mustRegister(SinkJSON, func(opts Options) (EventSink, error) {
		return NewJSONSink(opts.Out), nil
	})
	r.mustRegister(SinkFile, func(opts Options) (EventSink, error) {
		if opts.LogDir == "" {
			return nil, fmt.Errorf("the %s sink needs a log directory", SinkFile)
		}
		return logging.NewFileLogger(opts.LogDir, opts.RunID)
	})
	r.mustRegister(SinkProgress, func(opts Options) (EventSink, error) {
		return NewProgressSink(opts.Log.New("component", "progress"), opts.Clock, opts.ProgressInterval), nil
	})
	return r
}

// Register adds a named sink. Names are unique.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("sink name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("sink %q is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

func (r *Registry) mustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Names returns the registered sink names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the named sinks in the given order, ignoring repeated names
func (r *Registry) Build(names []string, opts Options) ([]EventSink, error) {
	opts = opts.withDefaults()
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	sinks := make([]EventSink, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown reporter %q (available: %s)", name, strings.Join(r.namesLocked(), ", "))
		}
		sink, err := factory(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create reporter %q: %w", name, err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
