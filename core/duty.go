package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/encodeous/dvsim/state"
)

// Duty is a long-running goroutine of a node with an explicit stop handle.
type Duty struct {
	Name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// StartDuty runs fn until it returns or the duty is stopped.
// A duty that returns an error while still wanted fails the node: the node context is cancelled with the error as cause.
func StartDuty(env *state.Env, name string, fn func(ctx context.Context) error) *Duty {
	ctx, cancel := context.WithCancel(env.Context)
	d := &Duty{
		Name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		env.Log.Debug("duty started", "duty", name)
		err := fn(ctx)
		if err != nil && ctx.Err() == nil {
			d.err = err
			env.Log.Error("duty failed", "duty", name, "err", err)
			env.Failed.Store(true)
			env.Cancel(fmt.Errorf("duty %s failed: %w", name, err))
			return
		}
		env.Log.Debug("duty stopped", "duty", name)
	}()
	return d
}

// Stop cancels the duty and waits for it to return
func (d *Duty) Stop() {
	d.cancel()
	<-d.done
}

func (d *Duty) Done() <-chan struct{} {
	return d.done
}

// Err is only valid once Done is closed
func (d *Duty) Err() error {
	return d.err
}

func StopDuties(duties ...*Duty) {
	for _, d := range duties {
		if d != nil {
			d.cancel()
		}
	}
	for _, d := range duties {
		if d != nil {
			<-d.done
		}
	}
}

// ReceiveLoop feeds every datagram of t to handle until ctx is done.
// The loop fails when the channel is closed under it, or after MaxRecvFailures consecutive receive errors.
func ReceiveLoop(ctx context.Context, env *state.Env, t state.Transport, channel string, handle func(dg state.Datagram)) error {
	failures := 0
	for {
		dg, err := t.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("%s channel closed: %w", channel, err)
			}
			failures++
			env.Log.Warn("receive failed", "channel", channel, "err", err, "failures", failures)
			if failures >= state.MaxRecvFailures {
				return fmt.Errorf("%s channel failed %d times in a row: %w", channel, failures, err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(state.RecvRetryDelay):
			}
			continue
		}
		failures = 0
		handle(dg)
	}
}
