// Package metrics holds the prometheus instrumentation for the client core.
// Every collector lives on an explicitly constructed Set so tests can run
// isolated registries; a nil *Set disables instrumentation entirely.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Set struct {
	BridgeInvokes      *prometheus.CounterVec
	BridgeInvokeErrors *prometheus.CounterVec
	StreamEvents       prometheus.Counter
	StreamReconnects   prometheus.Counter
	RPCCalls           *prometheus.CounterVec
	RPCFailures        *prometheus.CounterVec
	EventsDispatched   *prometheus.CounterVec
	HandlerPanics      prometheus.Counter
	ResourceRefreshes  *prometheus.CounterVec
}

func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		BridgeInvokes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aim_client_bridge_invokes_total",
			Help: "Bridge invocations issued, by command.",
		}, []string{"command"}),
		BridgeInvokeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aim_client_bridge_invoke_errors_total",
			Help: "Bridge invocations that failed below the protocol layer, by command.",
		}, []string{"command"}),
		StreamEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aim_client_stream_events_total",
			Help: "Daemon events received over the native event channel.",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aim_client_stream_reconnects_total",
			Help: "Reconnect attempts on the daemon event stream.",
		}),
		RPCCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aim_client_rpc_calls_total",
			Help: "JSON-RPC calls issued, by method.",
		}, []string{"method"}),
		RPCFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aim_client_rpc_failures_total",
			Help: "JSON-RPC calls that failed, by method and failure kind.",
		}, []string{"method", "kind"}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aim_client_events_dispatched_total",
			Help: "Handler invocations per topic.",
		}, []string{"topic"}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aim_client_handler_panics_total",
			Help: "Event handlers that panicked during dispatch.",
		}),
		ResourceRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aim_client_resource_refreshes_total",
			Help: "Derived resource refresh fetches, by resource method.",
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(
			s.BridgeInvokes,
			s.BridgeInvokeErrors,
			s.StreamEvents,
			s.StreamReconnects,
			s.RPCCalls,
			s.RPCFailures,
			s.EventsDispatched,
			s.HandlerPanics,
			s.ResourceRefreshes,
		)
	}
	return s
}

func (s *Set) CountInvoke(command string) {
	if s != nil {
		s.BridgeInvokes.WithLabelValues(command).Inc()
	}
}

func (s *Set) CountInvokeError(command string) {
	if s != nil {
		s.BridgeInvokeErrors.WithLabelValues(command).Inc()
	}
}

func (s *Set) CountStreamEvent() {
	if s != nil {
		s.StreamEvents.Inc()
	}
}

func (s *Set) CountStreamReconnect() {
	if s != nil {
		s.StreamReconnects.Inc()
	}
}

func (s *Set) CountRPCCall(method string) {
	if s != nil {
		s.RPCCalls.WithLabelValues(method).Inc()
	}
}

func (s *Set) CountRPCFailure(method, kind string) {
	if s != nil {
		s.RPCFailures.WithLabelValues(method, kind).Inc()
	}
}

func (s *Set) CountDispatch(topic string) {
	if s != nil {
		s.EventsDispatched.WithLabelValues(topic).Inc()
	}
}

func (s *Set) CountHandlerPanic() {
	if s != nil {
		s.HandlerPanics.Inc()
	}
}

func (s *Set) CountResourceRefresh(method string) {
	if s != nil {
		s.ResourceRefreshes.WithLabelValues(method).Inc()
	}
}
