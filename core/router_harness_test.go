package core

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"testing"

	"github.com/encodeous/dvsim/protocol"
	"github.com/encodeous/dvsim/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

type RouterHarness struct {
	actions []HarnessEvent
}

func (h *RouterHarness) BroadcastAdvertisement(adv protocol.Advertisement) {
	h.actions = append(h.actions, MakeEvent("BROADCAST_ADVERTISEMENT", string(protocol.Encode(adv))))
}

func (h *RouterHarness) SendAdvertisement(to state.NodeAddr, adv protocol.Advertisement) {
	h.actions = append(h.actions, MakeEvent("SEND_ADVERTISEMENT", to, string(protocol.Encode(adv))))
}

func (h *RouterHarness) RelayPayload(nh state.NodeAddr, payload []byte) {
	h.actions = append(h.actions, MakeEvent("RELAY", nh, string(payload)))
}

func (h *RouterHarness) DeliverPayload(dst state.NodeAddr, payload []byte) {
	h.actions = append(h.actions, MakeEvent("DELIVER", dst, string(payload)))
}

func (h *RouterHarness) Log(event RouterEvent, desc string, args ...any) {
	x := make([]any, 0)
	x = append(x, event)
	x = append(x, desc)
	x = append(x, args...)
	h.actions = append(h.actions, MakeEvent("LOG", x...))
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

// GetActions returns and clears every recorded action except log lines
func (h *RouterHarness) GetActions() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if action.Message != "LOG" {
			x = append(x, action)
		}
	}

	h.actions = make([]HarnessEvent, 0)
	return x
}

// GetLogs returns and clears every recorded log line
func (h *RouterHarness) GetLogs() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if action.Message == "LOG" {
			x = append(x, action)
		}
	}
	h.actions = make([]HarnessEvent, 0)
	return x
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message == msg {
			if len(event.Args) >= len(args) {
				match := true
				for i, arg := range args {
					if !cmp.Equal(event.Args[i], arg, cmpopts.EquateComparable(netip.Addr{})) {
						match = false
						break
					}
				}
				if match {
					return true
				}
			}
		}
	}
	return false
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

func selfOf(addrs ...state.NodeAddr) func(state.NodeAddr) bool {
	return func(a state.NodeAddr) bool {
		return slices.Contains(addrs, a)
	}
}

func (h *RouterHarness) Merge(tbl *state.RouteTable, self []state.NodeAddr, sender state.NodeAddr, msg string, linkDelay uint32) int {
	n, _ := HandleAdvertisementMessage(tbl, h, selfOf(self...), sender, []byte(msg), linkDelay)
	return n
}
