package logger

import (
	"io"
	"sync"
	"sync/atomic"
)

// AsyncConfig configures asynchronous log output.
type AsyncConfig struct {
	Enabled    bool
	BufferSize int

	// DropOnFull discards entries instead of blocking when the buffer is full.
	DropOnFull bool
}

// AsyncWriter hands writes to a background goroutine.
type AsyncWriter struct {
	out     io.Writer
	entries chan []byte
	drop    bool
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
}

// NewAsyncWriter starts the background writer.
func NewAsyncWriter(out io.Writer, cfg AsyncConfig) *AsyncWriter {
	size := cfg.BufferSize
	if size <= 0 {
		size = 4096
	}
	w := &AsyncWriter{
		out:     out,
		entries: make(chan []byte, size),
		drop:    cfg.DropOnFull,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Write copies p and queues it. It never returns an error.
func (w *AsyncWriter) Write(p []byte) (int, error) {
	entry := make([]byte, len(p))
	copy(entry, p)
	if w.drop {
		select {
		case w.entries <- entry:
		default:
			w.dropped.Add(1)
		}
		return len(p), nil
	}
	w.entries <- entry
	return len(p), nil
}

// Dropped returns how many entries were discarded.
func (w *AsyncWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Close drains queued entries. Writes after Close panic.
func (w *AsyncWriter) Close() error {
	w.once.Do(func() {
		close(w.entries)
		w.wg.Wait()
	})
	return nil
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for entry := range w.entries {
		_, _ = w.out.Write(entry)
	}
}
