package reporting

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultProgressInterval is used when no interval is configured
const DefaultProgressInterval = 30 * time.Second

// Progress is a point-in-time view of a run
type Progress struct {
	Suite     string
	Completed int
	Total     int
	Failed    int
	Running   []string // Full titles of tests that have started but not finished
}

// Percent returns the share of completed tests, in percent
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) * 100.0 / float64(p.Total)
}

// ProgressSink logs a progress line at a fixed interval while a run is active
type ProgressSink struct {
	logger log.Logger
	clock  clock.Clock
	ticker *clock.Ticker
	stopCh chan struct{}
	stop   sync.Once
	done   chan struct{}
	mu     sync.RWMutex

	suites         []string
	completedTests int
	failedTests    int
	totalTests     int
	runStartTime   time.Time
	suiteStartTime map[string]time.Time
	runningTests   map[string]time.Time
}

// NewProgressSink creates a progress sink and starts its reporter
func NewProgressSink(logger log.Logger, clk clock.Clock, interval time.Duration) *ProgressSink {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	s := &ProgressSink{
		logger:         logger,
		clock:          clk,
		ticker:         clk.Ticker(interval),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
		suiteStartTime: make(map[string]time.Time),
		runningTests:   make(map[string]time.Time),
	}
	go s.progressReporter()
	return s
}

// Consume implements EventSink
func (s *ProgressSink) Consume(ev *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	switch ev.Type {
	case types.EventRunStart:
		s.suites = nil
		s.completedTests = 0
		s.failedTests = 0
		s.totalTests = ev.Stats.Planned
		s.runStartTime = now
		s.runningTests = make(map[string]time.Time)
		s.logger.Info("Starting run", "runID", ev.RunID, "totalTests", s.totalTests)
	case types.EventSuiteStart:
		s.suites = append(s.suites, ev.Suite.FullTitle)
		s.suiteStartTime[ev.Suite.FullTitle] = now
		s.logger.Debug("Starting suite", "suite", ev.Suite.FullTitle, "suiteTests", ev.Suite.Planned)
	case types.EventSuiteEnd:
		if n := len(s.suites); n > 0 {
			s.suites = s.suites[:n-1]
		}
		duration := now.Sub(s.suiteStartTime[ev.Suite.FullTitle]).Truncate(time.Millisecond)
		delete(s.suiteStartTime, ev.Suite.FullTitle)
		s.logger.Debug("Completed suite", "suite", ev.Suite.FullTitle, "duration", duration)
	case types.EventTestStart:
		s.runningTests[ev.Test.FullTitle] = now
	case types.EventTestPass, types.EventTestFail, types.EventTestPending:
		delete(s.runningTests, ev.Test.FullTitle)
		if ev.Suite != nil && ev.Suite.Synthetic {
			break
		}
		s.completedTests++
		if ev.Type == types.EventTestFail {
			s.failedTests++
		}
		s.logger.Debug("Test completed", "test", ev.Test.FullTitle, "status", ev.Test.Status,
			"completed", s.completedTests, "total", s.totalTests)
	case types.EventRunEnd:
		s.logger.Info("Completed run", "completed", s.completedTests, "failed", s.failedTests,
			"total", s.totalTests, "duration", now.Sub(s.runStartTime).Truncate(time.Millisecond))
		s.runningTests = make(map[string]time.Time)
	}
	return nil
}

// Complete stops the reporter
func (s *ProgressSink) Complete(string) error {
	s.stop.Do(func() {
		s.ticker.Stop()
		close(s.stopCh)
	})
	<-s.done
	return nil
}

// Snapshot returns the current progress
func (s *ProgressSink) Snapshot() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := Progress{
		Completed: s.completedTests,
		Total:     s.totalTests,
		Failed:    s.failedTests,
	}
	if n := len(s.suites); n > 0 {
		p.Suite = s.suites[n-1]
	}
	for name := range s.runningTests {
		p.Running = append(p.Running, name)
	}
	sort.Strings(p.Running)
	return p
}

func (s *ProgressSink) progressReporter() {
	defer close(s.done)
	for {
		select {
		case <-s.ticker.C:
			s.reportProgress()
		case <-s.stopCh:
			return
		}
	}
}

func (s *ProgressSink) reportProgress() {
	s.mu.RLock()
	running := formatRunningTests(s.runningTests, s.clock.Now(), 3)
	suite := ""
	if n := len(s.suites); n > 0 {
		suite = s.suites[n-1]
	}
	completed, total, failed := s.completedTests, s.totalTests, s.failedTests
	s.mu.RUnlock()

	p := Progress{Completed: completed, Total: total}
	s.logger.Info("Progress update",
		"suite", suite,
		"completed", completed,
		"failed", failed,
		"total", total,
		"percent", fmt.Sprintf("%.1f%%", p.Percent()),
		"running", running,
	)
}

// formatRunningTests lists the longest running tests first, at most maxShow of them
func formatRunningTests(runningTests map[string]time.Time, now time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}
	running := make([]runningTest, 0, len(runningTests))
	for name, start := range runningTests {
		running = append(running, runningTest{name: name, duration: now.Sub(start)})
	}
	sort.Slice(running, func(i, j int) bool {
		if running[i].duration == running[j].duration {
			return running[i].name < running[j].name
		}
		return running[i].duration > running[j].duration
	})

	var parts []string
	for i, rt := range running {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", rt.name, rt.duration.Truncate(time.Second)))
	}
	if len(running) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(running)-maxShow))
	}
	return strings.Join(parts, ", ")
}
