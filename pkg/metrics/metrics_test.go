package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fathomline/regatta/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a metrics manager on a private registry", t, func() {
		reg := prometheus.NewRegistry()
		m := metrics.NewManager(
			metrics.WithPrometheusRegistry(reg),
			metrics.WithNamespace("regatta_test"),
			metrics.WithSubsystem("pipeline"),
		)
		So(m, ShouldNotBeNil)

		Convey("Then all metric families should be registered", func() {
			families, err := reg.Gather()
			So(err, ShouldBeNil)
			// Counters with zero observations are not gathered, but gauges and
			// histograms are. At minimum the gauges must be present.
			names := make(map[string]bool, len(families))
			for _, f := range families {
				names[f.GetName()] = true
			}
			So(names["regatta_test_pipeline_queue_size"], ShouldBeTrue)
			So(names["regatta_test_pipeline_worker_count"], ShouldBeTrue)
			So(names["regatta_test_pipeline_store_apply_latency_milliseconds"], ShouldBeTrue)
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("Then helper functions should not panic", func() {
			So(func() {
				metrics.RecordCandidateProcessed()
				metrics.RecordDecision("matched")
				metrics.RecordDecision("created")
				metrics.RecordDecision("ambiguous")
				metrics.RecordDecision("rejected")
				metrics.RecordDecision("unknown") // ignored
				metrics.RecordEventInserted()
				metrics.RecordEventCoalesced()
				metrics.RecordApplyLatency(4.2)
				metrics.RecordStoreError("apply_timeout")
				metrics.UpdateQueueSize(5, 100)
				metrics.UpdateQueueCapacity(100)
				metrics.UpdateWorkerCount(4)
				metrics.RecordNormalizeLatency(0.3)
				metrics.RecordScoringLatency(0.8)
				metrics.RecordRunCompleted(12.5)
				metrics.RecordRunAborted()
			}, ShouldNotPanic)
		})

		Convey("Then the shared registry should be reachable", func() {
			So(metrics.GetRegistry(), ShouldNotBeNil)
		})
	})
}
