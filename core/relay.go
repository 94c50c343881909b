package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/encodeous/dvsim/perf"
	"github.com/encodeous/dvsim/state"
)

// Relay advertises its table, merges neighbour advertisements and forwards payloads.
// The three duties share nothing but the route table.
type Relay struct {
	*NodeRouter
	duties []*Duty
}

func (r *Relay) Init(s *state.State) error {
	s.Log.Debug("init relay")
	advert, payload, err := openChannels(s)
	if err != nil {
		return err
	}
	r.NodeRouter = NewNodeRouter(s.Env, advert, payload, Get[*Trace](s))
	s.Table.SeedSelf(s.Self)

	tbl := s.Table
	r.duties = []*Duty{
		StartDuty(s.Env, "advertise", func(ctx context.Context) error {
			return r.advertise(ctx, tbl)
		}),
		StartDuty(s.Env, "ingest", func(ctx context.Context) error {
			return ReceiveLoop(ctx, r.Env, r.Advert, "advertisement", func(dg state.Datagram) {
				if !AcceptSender(r.NodeRouter, r.Domains, dg.From, "advertisement") {
					return
				}
				perf.AdvertsReceived.Add(1)
				_, skipped := HandleAdvertisementMessage(tbl, r.NodeRouter, r.IsSelf, state.AddrOf(dg.From), dg.Data, r.LinkDelay)
				perf.AdvertEntriesSkipped.Add(float64(skipped))
			})
		}),
		StartDuty(s.Env, "forward", func(ctx context.Context) error {
			return ReceiveLoop(ctx, r.Env, r.Payload, "payload", func(dg state.Datagram) {
				if state.DBG_log_payloads {
					r.Env.Log.Info("payload received", "from", dg.From, "payload", string(dg.Data))
				}
				HandlePayload(tbl, r.NodeRouter, r.IsSelf, dg.Data)
			})
		}),
	}

	s.Log.Debug("schedule relay tasks")
	s.Env.RepeatTask(r.gc, state.GcDelay)
	if state.DBG_log_route_table {
		s.Env.RepeatTask(dumpTable, s.AdvertiseInterval.Duration())
	}
	return nil
}

func (r *Relay) Cleanup(s *state.State) error {
	if r.NodeRouter == nil {
		return nil
	}
	StopDuties(r.duties...)
	return errors.Join(r.Advert.Close(), r.Payload.Close())
}

func (r *Relay) advertise(ctx context.Context, tbl *state.RouteTable) error {
	ticker := time.NewTicker(r.AdvertiseInterval.Duration())
	defer ticker.Stop()
	for {
		Advertise(tbl, r.NodeRouter, r.Self)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Relay) gc(s *state.State) error {
	r.NoRouteDedup.DeleteExpired()
	return nil
}

func dumpTable(s *state.State) error {
	sb := strings.Builder{}
	RenderTable(&sb, s.Table.Snapshot())
	s.Log.Info("route table\n" + sb.String())
	return nil
}

// openChannels listens on the advertisement and payload ports of the node
func openChannels(s *state.State) (advert, payload state.Transport, err error) {
	advert, err = s.Listen(s.Context, s.AdvertisePort, state.AdvertisementBufferSize)
	if err != nil {
		return nil, nil, err
	}
	payload, err = s.Listen(s.Context, s.PayloadPort, state.PayloadBufferSize)
	if err != nil {
		_ = advert.Close()
		return nil, nil, err
	}
	return advert, payload, nil
}
