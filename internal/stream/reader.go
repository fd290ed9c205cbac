package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// ErrIdleTimeout reports that the upstream went silent for longer than the
// configured read timeout.
var ErrIdleTimeout = errors.New("upstream read timed out")

// Reader yields the payloads of "data:" lines from a server-sent events
// body. Other SSE fields are ignored.
type Reader struct {
	br      *bufio.Reader
	maxLine int
	logger  *slog.Logger
	done    bool
}

func NewReader(r io.Reader, maxLine int, logger *slog.Logger) *Reader {
	return &Reader{
		br:      bufio.NewReaderSize(r, 64*1024),
		maxLine: maxLine,
		logger:  logger,
	}
}

// Next returns the next non-empty data payload. It returns io.EOF once the
// body ends or a [DONE] marker is read.
func (r *Reader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 {
			continue
		}
		if bytes.Equal(payload, doneMarker) {
			r.done = true
			return nil, io.EOF
		}
		return payload, nil
	}
}

// readLine returns one line without its terminator. Lines longer than
// maxLine are consumed, logged and returned as nil.
func (r *Reader) readLine() ([]byte, error) {
	var (
		line []byte
		size int
	)
	for {
		frag, err := r.br.ReadSlice('\n')
		size += len(frag)
		if len(line) <= r.maxLine+2 {
			line = append(line, frag...)
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && size > 0 {
				break
			}
			return nil, err
		}
		break
	}

	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) > r.maxLine {
		r.logger.Warn("SSE line too long, skipped",
			"bytes", size,
			"max", r.maxLine,
			"start", string(line[:min(len(line), 100)]),
		)
		return nil, nil
	}
	return line, nil
}

// IdleTimeoutReader cancels the upstream request when no bytes arrive for
// the configured duration.
type IdleTimeoutReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func NewIdleTimeoutReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *IdleTimeoutReader {
	ir := &IdleTimeoutReader{
		r:       r,
		timeout: timeout,
	}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.fired.Store(true)
		cancel()
	})
	return ir
}

func (ir *IdleTimeoutReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && !ir.fired.Load() {
		ir.timer.Reset(ir.timeout)
	}
	if err != nil && ir.fired.Load() {
		return n, ErrIdleTimeout
	}
	return n, err
}

func (ir *IdleTimeoutReader) TimedOut() bool {
	return ir.fired.Load()
}

func (ir *IdleTimeoutReader) Stop() {
	ir.timer.Stop()
}
