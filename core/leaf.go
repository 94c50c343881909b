package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/encodeous/dvsim/perf"
	"github.com/encodeous/dvsim/protocol"
	"github.com/encodeous/dvsim/state"
)

// Leaf answers advertisement solicitations, and sends and receives payloads without ever relaying them.
type Leaf struct {
	*NodeRouter
	duties []*Duty
}

func (l *Leaf) Init(s *state.State) error {
	s.Log.Debug("init leaf")
	advert, payload, err := openChannels(s)
	if err != nil {
		return err
	}
	l.NodeRouter = NewNodeRouter(s.Env, advert, payload, Get[*Trace](s))

	tbl := s.Table
	l.duties = []*Duty{
		StartDuty(s.Env, "respond", func(ctx context.Context) error {
			return ReceiveLoop(ctx, l.Env, l.Advert, "advertisement", func(dg state.Datagram) {
				l.handleSolicitation(tbl, dg)
			})
		}),
		StartDuty(s.Env, "deliver", func(ctx context.Context) error {
			return ReceiveLoop(ctx, l.Env, l.Payload, "payload", func(dg state.Datagram) {
				if l.IsSelf(state.AddrOf(dg.From)) {
					return // our own broadcast
				}
				if state.DBG_log_payloads {
					l.Env.Log.Info("payload received", "from", dg.From, "payload", string(dg.Data))
				}
				HandleLeafPayload(l.NodeRouter, l.IsSelf, dg.Data)
			})
		}),
	}
	return nil
}

func (l *Leaf) Cleanup(s *state.State) error {
	if l.NodeRouter == nil {
		return nil
	}
	StopDuties(l.duties...)
	return errors.Join(l.Advert.Close(), l.Payload.Close())
}

func (l *Leaf) handleSolicitation(tbl *state.RouteTable, dg state.Datagram) {
	if len(dg.Data) == 0 {
		return
	}
	sender := state.AddrOf(dg.From)
	if l.IsSelf(sender) {
		return
	}
	if !AcceptSender(l.NodeRouter, l.Domains, dg.From, "advertisement") {
		return
	}
	if !protocol.IsAdvertisement(dg.Data) {
		l.Log(MalformedAdvertisement, "skipped message without advertisement prefix", "from", sender)
		return
	}
	perf.AdvertsReceived.Add(1)
	HandleSolicitation(tbl, l.NodeRouter, l.Self, sender)
}

// SendPayload broadcasts payload on the payload channel of every domain the leaf is attached to.
func (l *Leaf) SendPayload(payload []byte) error {
	if _, err := protocol.PayloadDestination(payload); err != nil {
		return err
	}
	targets := l.Domains.Targets()
	if len(targets) == 0 {
		return fmt.Errorf("leaf %s is not attached to any broadcast domain", l.Id)
	}
	var errs []error
	for _, target := range targets {
		if err := l.Payload.Send(target, payload); err != nil {
			errs = append(errs, fmt.Errorf("broadcast to %s: %w", target, err))
		}
	}
	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		l.Env.Log.Warn("partial payload broadcast", "err", err)
	}
	perf.PayloadsIngested.Add(1)
	return nil
}
