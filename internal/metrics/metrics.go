// Package metrics wraps github.com/armon/go-metrics for the authority:
// ops ingested, rebase duration, global-ack lag, connected replicas per
// library. Only rebase duration (the rebase pass) and connected replicas
// (cmd/authority) are recorded by callers; OpsIngested and GlobalAckLag
// have no caller.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	gometrics "github.com/armon/go-metrics"
)

var sink = gometrics.NewInmemSink(10*time.Second, time.Minute)

// DisplayMetrics renders the current in-memory metrics snapshot as JSON,
// suitable for mounting directly as an http.HandlerFunc on a debug route.
func DisplayMetrics(w http.ResponseWriter, r *http.Request) {
	data, err := sink.DisplayMetrics(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func init() {
	cfg := gometrics.DefaultConfig("collabtext")
	cfg.EnableHostname = false
	gometrics.NewGlobal(cfg, sink)
}

// OpsIngested records the count of operations accepted by InsertAll for a
// library.
func OpsIngested(library string, n int) {
	gometrics.IncrCounterWithLabels([]string{"ops_ingested"}, float32(n), []gometrics.Label{{Name: "library", Value: library}})
}

// RebaseDuration records the wall time of one rebase pass.
func RebaseDuration(library string, start time.Time) {
	gometrics.MeasureSinceWithLabels([]string{"rebase_duration"}, start, []gometrics.Label{{Name: "library", Value: library}})
}

// GlobalAckLag records, in operations, how far behind the global ack
// horizon is from the most recent op accepted — a proxy for replica
// staleness.
func GlobalAckLag(library string, lag int) {
	gometrics.SetGaugeWithLabels([]string{"global_ack_lag"}, float32(lag), []gometrics.Label{{Name: "library", Value: library}})
}

// ConnectedReplicas records the number of live connections for a library.
func ConnectedReplicas(library string, n int) {
	gometrics.SetGaugeWithLabels([]string{"connected_replicas"}, float32(n), []gometrics.Label{{Name: "library", Value: library}})
}

// Snapshot exposes the in-memory metrics snapshot, e.g. for a /debug/metrics
// handler.
func Snapshot() gometrics.MetricSink {
	return sink
}
