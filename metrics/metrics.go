package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	// Tightly coupled to the prometheus collector type for now; the otel
	// prometheus adapter also satisfies this interface.
	prometheus.Collector
}

// Metrics is the set of kernel observers.
type Metrics struct {
	MessagesCount  Observer
	CommandsCount  Observer
	CommandLatency Observer
	EventsCount    Observer
	RoleChanges    Observer
	VoiceStarts    Observer
	VoiceEnds      Observer
	DBPingLatency  Observer
}

func (m Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesCount,
		m.CommandsCount,
		m.CommandLatency,
		m.EventsCount,
		m.RoleChanges,
		m.VoiceStarts,
		m.VoiceEnds,
		m.DBPingLatency,
	}
}
