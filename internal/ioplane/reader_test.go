package ioplane

import (
	"io"
	"testing"
	"time"
)

// fakeHandle is a minimal in-memory stand-in for a ptypool.Handle, feeding
// the reader a scripted sequence of reads.
type fakeHandle struct {
	chunks   [][]byte
	idx      int
	exitCode int
	deadline time.Time
}

func (f *fakeHandle) SetReadDeadline(t time.Time) error {
	f.deadline = t
	return nil
}

func (f *fakeHandle) Read(p []byte) (int, error) {
	if f.idx >= len(f.chunks) {
		return 0, io.EOF
	}
	c := f.chunks[f.idx]
	f.idx++
	n := copy(p, c)
	return n, nil
}

func (f *fakeHandle) Wait() int {
	return f.exitCode
}

func TestReaderEmitsOutputThenExitInOrder(t *testing.T) {
	fh := &fakeHandle{
		chunks:   [][]byte{[]byte("hello "), []byte("world")},
		exitCode: 7,
	}
	bus := NewBus(16)
	ch, cancel := bus.Subscribe()
	defer cancel()

	r := Start(42, fh, bus, nil)
	defer r.Detach()

	var got []Event
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out, got %d events", len(got))
		}
	}

	if got[0].Kind != OutputEvent || string(got[0].Data) != "hello " {
		t.Fatalf("event 0 = %+v", got[0])
	}
	if got[1].Kind != OutputEvent || string(got[1].Data) != "world" {
		t.Fatalf("event 1 = %+v", got[1])
	}
	if got[2].Kind != ExitEvent || got[2].ExitCode != 7 {
		t.Fatalf("event 2 = %+v", got[2])
	}
	for _, ev := range got {
		if ev.SessionID != 42 {
			t.Fatalf("session id = %d, want 42", ev.SessionID)
		}
	}
}

// timeoutErr implements net.Error to exercise the reader's deadline-poll
// path, standing in for the real timeout os.File.Read returns once
// SetReadDeadline has been armed and no data has arrived.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// idleHandle never produces data; every Read waits out its deadline and
// returns a timeout, simulating a quiet shell with no output.
type idleHandle struct {
	deadline time.Time
}

func (h *idleHandle) SetReadDeadline(t time.Time) error {
	h.deadline = t
	return nil
}

func (h *idleHandle) Read(p []byte) (int, error) {
	time.Sleep(time.Until(h.deadline))
	return 0, timeoutErr{}
}

func (h *idleHandle) Wait() int { return -1 }

func TestDetachStopsWithoutExitEvent(t *testing.T) {
	ih := &idleHandle{}
	bus := NewBus(4)
	ch, cancel := bus.Subscribe()
	defer cancel()

	r := Start(1, ih, bus, nil)
	r.Detach()

	select {
	case <-r.Done():
	default:
		t.Fatalf("reader should be done after Detach")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after detach: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
