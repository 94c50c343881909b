package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dustin/go-broadcast"
	"github.com/encodeous/dvsim/state"
)

var ErrTraceClosed = errors.New("trace is closed")

// TraceEvent is a router event as seen by trace subscribers
type TraceEvent struct {
	Node  string
	Event RouterEvent
	Desc  string
	Args  []any
}

func (e TraceEvent) String() string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("[%s] %s %s", e.Node, e.Event, e.Desc))
	for i := 0; i+1 < len(e.Args); i += 2 {
		sb.WriteString(fmt.Sprintf(" %v=%v", e.Args[i], e.Args[i+1]))
	}
	return sb.String()
}

// Trace fans router events out to live subscribers, e.g. `dvsim inspect --trace`
type Trace struct {
	broadcast.Broadcaster
	mu      sync.Mutex
	closed  bool
	stopped chan struct{}
}

func (t *Trace) Init(s *state.State) error {
	t.Broadcaster = broadcast.NewBroadcaster(1024)
	t.stopped = make(chan struct{})
	return nil
}

func (t *Trace) Cleanup(s *state.State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.stopped)
	return t.Broadcaster.Close()
}

// Emit never blocks, events are dropped when subscribers fall behind
func (t *Trace) Emit(ev TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.TrySubmit(ev)
}

// Watch calls fn for every event until ctx is done or the node stops
func (t *Trace) Watch(ctx context.Context, fn func(ev TraceEvent)) error {
	ch := make(chan any, 128)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTraceClosed
	}
	t.Register(ch)
	t.mu.Unlock()
	defer t.unregister(ch)

	for {
		select {
		case m := <-ch:
			fn(m.(TraceEvent))
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stopped:
			return ErrTraceClosed
		}
	}
}

func (t *Trace) unregister(ch chan any) {
	// the broadcaster may be blocked on ch until it sees the unregistration
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
			case <-stop:
				return
			}
		}
	}()
	t.mu.Lock()
	if !t.closed {
		t.Unregister(ch)
	}
	t.mu.Unlock()
	close(stop)
}
