package state

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
)

type NyModule interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access outside of the RouteTable must be done only on the main Goroutine
type State struct {
	*Env
	Modules map[string]NyModule
	// ModuleOrder lists Modules in initialization order
	ModuleOrder []string
	// Table is shared by every duty of the node, it does its own locking
	Table *RouteTable
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	LocalCfg
	Context context.Context
	Cancel  context.CancelCauseFunc
	Log     *slog.Logger
	// Self holds the addresses of this node, in a stable order
	Self    []NodeAddr
	Domains *Domains
	// Listen opens the transport of a channel
	Listen   ListenFunc
	Started  atomic.Bool
	Stopping atomic.Bool
	// Failed is set when a duty stopped the node because of an unrecoverable error
	Failed atomic.Bool
}

func (e *Env) IsSelf(addr NodeAddr) bool {
	return slices.Contains(e.Self, addr)
}
