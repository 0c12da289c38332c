package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-harness/types"
	"github.com/ethereum-optimism/infra/op-harness/ui"
	"github.com/hashicorp/go-multierror"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	EventsFilename     = "events.jsonl"
	SummaryFilename    = "summary.log"
	FailedDirname      = "failed"

	boxWidth = 80
)

// FileLogger writes the event stream of a run to disk:
//
//	<baseDir>/testrun-<runID>/events.jsonl    every event, one JSON object per line
//	<baseDir>/testrun-<runID>/failed/<t>.log  details of each failed test
//	<baseDir>/testrun-<runID>/summary.log     written on Complete
type FileLogger struct {
	baseDir      string
	logDir       string
	failedDir    string
	summaryFile  string
	eventsFile   string
	runID        string
	mu           sync.Mutex
	asyncWriters map[string]*AsyncFile

	results      []*types.TestResult
	hookFailures []*types.ErrorRecord
	uncaught     []*types.ErrorRecord
	stats        *types.RunStats
	failedFiles  map[string]int
}

// NewFileLogger creates the run directory for runID under baseDir
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, FailedDirname)
	for _, dir := range []string{baseDir, logDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		failedDir:    failedDir,
		summaryFile:  filepath.Join(logDir, SummaryFilename),
		eventsFile:   filepath.Join(logDir, EventsFilename),
		runID:        runID,
		asyncWriters: make(map[string]*AsyncFile),
		failedFiles:  make(map[string]int),
	}, nil
}

// Consume appends ev to the events file and keeps what the summary needs
func (l *FileLogger) Consume(ev *types.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	writer, err := l.getAsyncWriter(l.eventsFile)
	if err != nil {
		return err
	}
	if _, err := writer.Write(append(line, '\n')); err != nil {
		return err
	}

	switch ev.Type {
	case types.EventTestPass, types.EventTestPending:
		l.results = append(l.results, ev.Test)
	case types.EventTestFail:
		l.results = append(l.results, ev.Test)
		return l.writeFailedTest(ev)
	case types.EventHookFail:
		if len(ev.Errors) > 0 {
			l.hookFailures = append(l.hookFailures, ev.Errors[0])
		}
	case types.EventRunEnd:
		l.stats = ev.Stats
		l.uncaught = ev.Errors
	}
	return nil
}

// Complete writes the summary and closes every file of the run
func (l *FileLogger) Complete(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	var result *multierror.Error
	summaryFile, err := l.GetSummaryFileForRunID(runID)
	if err == nil {
		var writer *AsyncFile
		writer, err = l.getAsyncWriter(summaryFile)
		if err == nil {
			_, err = writer.WriteString(l.summary())
		}
	}
	result = multierror.Append(result, err)
	result = multierror.Append(result, l.closeAllWriters())
	return result.ErrorOrNil()
}

func (l *FileLogger) writeFailedTest(ev *types.Event) error {
	tr := ev.Test
	name := safeFilename(tr.FullTitle)
	if name == "" {
		name = "test"
	}
	// the same title may fail more than once, e.g. in separate describe blocks with equal titles
	l.failedFiles[name]++
	if n := l.failedFiles[name]; n > 1 {
		name = fmt.Sprintf("%s_%d", name, n)
	}
	path := filepath.Join(l.failedDir, name+".log")

	writer, err := l.getAsyncWriter(path)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(ui.BuildBoxHeader(ui.FirstLine(tr.FullTitle, boxWidth-4), boxWidth))
	b.WriteString(ui.BuildBoxLine(fmt.Sprintf("Status:   %s", tr.Status), boxWidth))
	b.WriteString(ui.BuildBoxLine(fmt.Sprintf("Attempts: %d", tr.Attempts), boxWidth))
	b.WriteString(ui.BuildBoxLine(fmt.Sprintf("Duration: %s", formatDuration(tr.Duration)), boxWidth))
	if ev.Suite != nil && ev.Suite.FullTitle != "" {
		b.WriteString(ui.BuildBoxLine(fmt.Sprintf("Suite:    %s", ev.Suite.FullTitle), boxWidth))
	}
	b.WriteString(ui.BuildBoxFooter(boxWidth))
	for i, rec := range tr.Errors {
		fmt.Fprintf(&b, "\nError %d:\n", i+1)
		writeErrorRecord(&b, rec, "  ")
	}
	_, err = writer.WriteString(b.String())
	return err
}

func (l *FileLogger) summary() string {
	var b strings.Builder
	b.WriteString(ui.BuildBoxHeader("Run "+l.runID, boxWidth))
	if l.stats != nil {
		s := l.stats
		b.WriteString(ui.BuildBoxLine(fmt.Sprintf("Planned: %d  Tests: %d  Suites: %d", s.Planned, s.Tests, s.Suites), boxWidth))
		b.WriteString(ui.BuildBoxLine(fmt.Sprintf("Passed: %d  Failed: %d  Pending: %d  Skipped: %d", s.Passes, s.Failures, s.Pending, s.Skipped), boxWidth))
		b.WriteString(ui.BuildBoxLine(fmt.Sprintf("Hook failures: %d  Uncaught: %d", s.HookFailures, s.Uncaught), boxWidth))
		b.WriteString(ui.BuildBoxLine(fmt.Sprintf("Duration: %s", formatDuration(s.Duration)), boxWidth))
	} else {
		b.WriteString(ui.BuildBoxLine("Run did not finish", boxWidth))
	}
	b.WriteString(ui.BuildBoxFooter(boxWidth))

	b.WriteString("\n")
	for _, tr := range l.results {
		fmt.Fprintf(&b, "%s %s (%s)\n", ui.StatusSymbol(tr.Status), tr.FullTitle, formatDuration(tr.Duration))
	}

	if len(l.hookFailures) > 0 {
		b.WriteString("\nHook failures:\n")
		for _, rec := range l.hookFailures {
			writeErrorRecord(&b, rec, "  ")
		}
	}
	if len(l.uncaught) > 0 {
		b.WriteString("\nUncaught errors outside tests:\n")
		for _, rec := range l.uncaught {
			writeErrorRecord(&b, rec, "  ")
		}
	}
	return b.String()
}

func writeErrorRecord(b *strings.Builder, rec *types.ErrorRecord, indent string) {
	fmt.Fprintf(b, "%s%s: %s\n", indent, rec.Kind, stripansi.Strip(rec.Message))
	if rec.Location != "" {
		fmt.Fprintf(b, "%s  at %s\n", indent, rec.Location)
	}
	if rec.Elapsed > 0 {
		fmt.Fprintf(b, "%s  elapsed %s\n", indent, formatDuration(rec.Elapsed))
	}
	if rec.Stack != "" {
		for _, line := range strings.Split(strings.TrimRight(rec.Stack, "\n"), "\n") {
			fmt.Fprintf(b, "%s    %s\n", indent, line)
		}
	}
	if rec.Cause != nil {
		fmt.Fprintf(b, "%s  caused by:\n", indent)
		writeErrorRecord(b, rec.Cause, indent+"    ")
	}
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

// closeAllWriters closes all async writers, in path order
func (l *FileLogger) closeAllWriters() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	paths := make([]string, 0, len(l.asyncWriters))
	for path := range l.asyncWriters {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var result *multierror.Error
	for _, path := range paths {
		result = multierror.Append(result, l.asyncWriters[path].Close())
	}
	l.asyncWriters = make(map[string]*AsyncFile)
	return result.ErrorOrNil()
}

// GetDirectoryForRunID returns the path for a specific runID
func (l *FileLogger) GetDirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	if runID == l.runID {
		return l.logDir, nil
	}
	return filepath.Join(l.baseDir, RunDirectoryPrefix+runID), nil
}

// GetSummaryFileForRunID returns the summary file for a specific runID
func (l *FileLogger) GetSummaryFileForRunID(runID string) (string, error) {
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, SummaryFilename), nil
}

// GetBaseDir returns the directory of this run
func (l *FileLogger) GetBaseDir() string {
	return l.logDir
}

// GetFailedDir returns the directory containing logs for failed tests
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetSummaryFile returns the path to the summary file
func (l *FileLogger) GetSummaryFile() string {
	return l.summaryFile
}

// GetEventsFile returns the path to the events file
func (l *FileLogger) GetEventsFile() string {
	return l.eventsFile
}

// GetRunID returns the run this logger writes
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	s = stripansi.Strip(s)
	s = strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
		"...", "",
	).Replace(s)
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
