package ioplane

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// pollInterval bounds how long a Detach may have to wait for the reader
// goroutine to notice the stop request; it is also the read-deadline used
// to make an otherwise-blocking PTY read interruptible.
const pollInterval = 250 * time.Millisecond

// handle is the minimal surface a Reader needs from a ptypool.Handle,
// kept narrow here to avoid an import cycle between ioplane and ptypool.
type handle interface {
	Read(p []byte) (int, error)
	Wait() int
	SetReadDeadline(t time.Time) error
}

// Reader drains one PTY master in a loop and publishes Output and Exit
// Events onto a Bus. There is exactly one Reader per active session.
type Reader struct {
	sessionID int64
	h         handle
	bus       *Bus
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Start spawns the reader goroutine and returns immediately.
func Start(sessionID int64, h handle, bus *Bus, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reader{
		sessionID: sessionID,
		h:         h,
		bus:       bus,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Reader) loop() {
	defer close(r.doneCh)

	buf := make([]byte, 8192)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		_ = r.h.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := r.h.Read(buf)

		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.bus.publish(Event{Kind: OutputEvent, SessionID: r.sessionID, Data: chunk})
		}

		if err == nil {
			continue
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}

		// A genuine read error/EOF means the underlying process ended.
		select {
		case <-r.stopCh:
			return
		default:
		}
		code := r.h.Wait()
		r.bus.publish(Event{Kind: ExitEvent, SessionID: r.sessionID, ExitCode: code})
		r.logger.Info("session reader observed exit", "session_id", r.sessionID, "exit_code", code)
		return
	}
}

// Detach stops the reader without emitting an Exit Event, used when a
// session is destroyed deliberately (the PTY is being returned to the
// pool, not killed). It blocks until the goroutine has fully stopped so
// that no later consumer of the master (e.g. a recycle normalize pass)
// races with an in-flight read.
func (r *Reader) Detach() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// Done returns a channel closed once the reader has stopped, whether by
// natural exit or Detach.
func (r *Reader) Done() <-chan struct{} {
	return r.doneCh
}
