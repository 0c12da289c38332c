package logging

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrFileClosed is returned when writing to a closed AsyncFile
var ErrFileClosed = errors.New("async file is closed")

// AsyncFile is a file whose writes are queued and flushed by a background goroutine,
// so the event loop never blocks on disk I/O
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	errMu   sync.Mutex
	err     error // First write error seen by the background writer
}

// NewAsyncFile creates (or truncates) path and starts its writer
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 128),
	}
	af.wg.Add(1)
	go af.processQueue()
	return af, nil
}

// Write queues a copy of data. It implements io.Writer.
func (af *AsyncFile) Write(data []byte) (int, error) {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return 0, ErrFileClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	af.queue <- buf
	return len(data), nil
}

// WriteString queues s
func (af *AsyncFile) WriteString(s string) (int, error) {
	return af.Write([]byte(s))
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()
	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			af.errMu.Lock()
			if af.err == nil {
				af.err = err
			}
			af.errMu.Unlock()
		}
	}
}

// Close flushes the queue and closes the file. It returns the first write error, if any.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if af.stopped {
		af.mu.Unlock()
		return nil
	}
	af.stopped = true
	close(af.queue)
	af.mu.Unlock()

	af.wg.Wait()
	closeErr := af.file.Close()

	af.errMu.Lock()
	defer af.errMu.Unlock()
	if af.err != nil {
		return fmt.Errorf("failed to write %s: %w", af.file.Name(), af.err)
	}
	return closeErr
}
