package state

import "time"

const (
	INF = ^(uint32)(0)

	// AdvertisementPrefix marks a routing advertisement, and, from a leaf's point of view, a solicitation.
	AdvertisementPrefix = "ROUTING_TABLE;"
	// PayloadDestinationKey is the payload field the forwarder routes on.
	PayloadDestinationKey = "destination"
)

var (
	DefaultAdvertisePort = uint16(5000)
	DefaultPayloadPort   = uint16(6000)
	DefaultApiPort       = uint16(8080)

	AdvertiseInterval = time.Second * 5

	// link delay is drawn from [MinLinkDelay, MaxLinkDelay) when not configured
	MinLinkDelay = uint32(100)
	MaxLinkDelay = uint32(1000)

	AdvertisementBufferSize = 10240
	PayloadBufferSize       = 1024

	// consecutive receive failures after which a receive loop gives up on its channel
	MaxRecvFailures = 5
	RecvRetryDelay  = time.Millisecond * 200

	NoRouteDedupTTL = time.Second * 10
	GcDelay         = time.Second * 1

	RestartDelay = time.Second * 3
)

var (
	NodeConfigPath     = "node.yaml"
	TopologyConfigPath = "topology.yaml"
)
