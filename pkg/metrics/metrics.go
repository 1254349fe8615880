// Package metrics exposes Prometheus counters for recognition outcomes
// and attendance events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Recognitions counts recognition sessions by resulting tier.
	Recognitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facetrack_recognitions_total",
			Help: "Recognition sessions by confidence tier.",
		},
		[]string{"tier"},
	)

	// Events counts appended attendance events by transition type.
	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facetrack_attendance_events_total",
			Help: "Appended attendance events by transition type.",
		},
		[]string{"type"},
	)

	// Enrollments counts successful enrollments and re-enrollments.
	Enrollments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "facetrack_enrollments_total",
			Help: "Successful enrollments including re-enrollments.",
		},
	)

	// RecognitionDuration observes end-to-end session latency.
	RecognitionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "facetrack_recognition_duration_seconds",
			Help:    "End-to-end recognition session duration.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(Recognitions, Events, Enrollments, RecognitionDuration)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
