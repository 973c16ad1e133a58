package metrics

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string, float64)       {}
func (Nop) SetGauge(string, map[string]string, float64)         {}
func (Nop) ObserveHistogram(string, map[string]string, float64) {}

// Metric names recorded by the scatter client.
const (
	Calls              = "sgrouter_calls_total"
	SubRequests        = "sgrouter_sub_requests_total"
	UnresolvedKeys     = "sgrouter_unresolved_keys_total"
	FailedKeys         = "sgrouter_failed_keys_total"
	SubRequestDuration = "sgrouter_sub_request_duration_seconds"
	InFlightCalls      = "sgrouter_in_flight_calls"
)

// StoredEntities is the number of entities a host node holds.
const StoredEntities = "sgrouter_stored_entities"
