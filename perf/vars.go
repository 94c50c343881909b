package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency      = metric.NewHistogram("1m1s")
	AdvertsSent          = metric.NewCounter("10s1s")
	AdvertsReceived      = metric.NewCounter("10s1s")
	AdvertsMalformed     = metric.NewCounter("10s1s")
	AdvertEntriesSkipped = metric.NewCounter("10s1s")
	RoutesImproved       = metric.NewCounter("10s1s")
	PayloadsForwarded    = metric.NewCounter("10s1s")
	PayloadsDropped      = metric.NewCounter("10s1s")
	PayloadsDelivered    = metric.NewCounter("10s1s")
	PayloadsIngested     = metric.NewCounter("10s1s")
)

// Handler serves the exposed metrics page
func Handler() http.Handler {
	return metric.Handler(metric.Exposed)
}

func init() {
	expvar.Publish("dvsim:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("dvsim:AdvertsSent/s", AdvertsSent)
	expvar.Publish("dvsim:AdvertsReceived/s", AdvertsReceived)
	expvar.Publish("dvsim:AdvertsMalformed/s", AdvertsMalformed)
	expvar.Publish("dvsim:AdvertEntriesSkipped/s", AdvertEntriesSkipped)
	expvar.Publish("dvsim:RoutesImproved/s", RoutesImproved)
	expvar.Publish("dvsim:PayloadsForwarded/s", PayloadsForwarded)
	expvar.Publish("dvsim:PayloadsDropped/s", PayloadsDropped)
	expvar.Publish("dvsim:PayloadsDelivered/s", PayloadsDelivered)
	expvar.Publish("dvsim:PayloadsIngested/s", PayloadsIngested)
}
