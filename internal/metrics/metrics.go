// Package metrics exposes the ambient observability surface used across
// mtrack-parser: Prometheus counters and gauges tracking event volume,
// indexer hit/miss rates, and resolver outcomes. None of this exists in
// the original C++ (which only ever printed progress to stdout every
// 1000 records); it's the idiomatic Go substitute a production tool in
// this corpus would carry, grounded on prometheus/client_golang as the
// retrieval pack's mdzesseis-log_capturer_go already uses it for
// service metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RecordsTotal counts every wire record the parser has decoded, by
	// kind, whether or not it produced an output event.
	RecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mtrack",
		Subsystem: "parser",
		Name:      "records_total",
		Help:      "Wire records decoded, labeled by record kind.",
	}, []string{"kind"})

	// EventsTotal counts events written to the output stream.
	EventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mtrack",
		Subsystem: "parser",
		Name:      "events_total",
		Help:      "Events written to the output artifact.",
	})

	// MalformedRecordsTotal counts records dropped for decode errors.
	MalformedRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mtrack",
		Subsystem: "parser",
		Name:      "malformed_records_total",
		Help:      "Records that failed to decode and were dropped.",
	})

	// StacksIndexed is a gauge of the number of distinct stacks seen.
	StacksIndexed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mtrack",
		Subsystem: "parser",
		Name:      "stacks_indexed",
		Help:      "Distinct call stacks deduplicated so far.",
	})

	// StringsIndexed is a gauge of the number of distinct strings seen.
	StringsIndexed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mtrack",
		Subsystem: "parser",
		Name:      "strings_indexed",
		Help:      "Distinct strings (paths, symbol names) interned so far.",
	})

	// ResolvedAddressesTotal counts resolver outcomes by whether a
	// function name was found.
	ResolvedAddressesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mtrack",
		Subsystem: "resolver",
		Name:      "resolved_addresses_total",
		Help:      "Addresses resolved, labeled by outcome (hit/miss).",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(RecordsTotal, EventsTotal, MalformedRecordsTotal, StacksIndexed, StringsIndexed, ResolvedAddressesTotal)
}
