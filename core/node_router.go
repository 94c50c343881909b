package core

import (
	"fmt"

	"github.com/encodeous/dvsim/perf"
	"github.com/encodeous/dvsim/protocol"
	"github.com/encodeous/dvsim/state"
	"github.com/jellydator/ttlcache/v3"
)

// NodeRouter performs router operations over the channels of a node
type NodeRouter struct {
	*state.Env
	Advert  state.Transport
	Payload state.Transport
	// NoRouteDedup remembers recently reported unroutable destinations
	NoRouteDedup *ttlcache.Cache[string, struct{}]
	Trace        *Trace
}

func NewNodeRouter(env *state.Env, advert, payload state.Transport, trace *Trace) *NodeRouter {
	return &NodeRouter{
		Env:     env,
		Advert:  advert,
		Payload: payload,
		Trace:   trace,
		NoRouteDedup: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](state.NoRouteDedupTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
}

func (r *NodeRouter) BroadcastAdvertisement(adv protocol.Advertisement) {
	data := protocol.Encode(adv)
	for _, target := range r.Domains.Targets() {
		if err := r.Advert.Send(target, data); err != nil {
			r.Env.Log.Warn("failed to broadcast advertisement", "target", target, "err", err)
			continue
		}
		perf.AdvertsSent.Add(1)
	}
	if state.DBG_log_router {
		r.Env.Log.Debug("advertised", "routes", len(adv.Routes), "domains", len(r.Domains.Targets()))
	}
}

func (r *NodeRouter) SendAdvertisement(to state.NodeAddr, adv protocol.Advertisement) {
	addr, err := to.Addr()
	if err != nil {
		r.Env.Log.Warn("cannot answer solicitation", "to", to, "err", err)
		return
	}
	if err := r.Advert.Send(addr, protocol.Encode(adv)); err != nil {
		r.Env.Log.Warn("failed to send advertisement", "to", to, "err", err)
		return
	}
	perf.AdvertsSent.Add(1)
}

func (r *NodeRouter) RelayPayload(nh state.NodeAddr, payload []byte) {
	addr, err := nh.Addr()
	if err != nil {
		r.Env.Log.Warn("invalid next hop", "nh", nh, "err", err)
		perf.PayloadsDropped.Add(1)
		return
	}
	if err := r.Payload.Send(addr, payload); err != nil {
		r.Env.Log.Warn("failed to relay payload", "nh", nh, "err", err)
		perf.PayloadsDropped.Add(1)
		return
	}
	perf.PayloadsForwarded.Add(1)
}

func (r *NodeRouter) DeliverPayload(dst state.NodeAddr, payload []byte) {
	perf.PayloadsDelivered.Add(1)
	r.Env.Log.Info("payload delivered", "dst", dst, "payload", string(payload))
}

// Log is the Router log sink. It shadows the embedded logger, use r.Env.Log for plain logging.
func (r *NodeRouter) Log(event RouterEvent, desc string, args ...any) {
	if r.Trace != nil {
		r.Trace.Emit(TraceEvent{Node: r.Id, Event: event, Desc: desc, Args: args})
	}
	switch event {
	case RouteAdded, RouteImproved:
		perf.RoutesImproved.Add(1)
	case MalformedAdvertisement:
		perf.AdvertsMalformed.Add(1)
	case MalformedPayload:
		perf.PayloadsDropped.Add(1)
	case NoRoute:
		perf.PayloadsDropped.Add(1)
		key := fmt.Sprint(args...)
		if r.NoRouteDedup.Has(key) {
			r.Env.Log.Debug(fmt.Sprintf("%s %s", event.String(), desc), args...)
			return
		}
		r.NoRouteDedup.Set(key, struct{}{}, ttlcache.DefaultTTL)
	}
	if event.IsWarning() {
		r.Env.Log.Warn(fmt.Sprintf("%s %s", event.String(), desc), args...)
		return
	}
	if state.DBG_log_router {
		r.Env.Log.Info(fmt.Sprintf("%s %s", event.String(), desc), args...)
		return
	}
	r.Env.Log.Debug(fmt.Sprintf("%s %s", event.String(), desc), args...)
}
