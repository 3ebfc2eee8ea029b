// Package backend implements HistoryBackend, which owns the history
// partitions and performs every read and write of them on a single owner
// loop. Mutations accumulate in a long-running transaction of each
// partition, which is committed on a debounced timer, or immediately for
// user-initiated deletions.
//
// Service is the front of the backend for other goroutines. Each of its
// query operations posts the work to the owner loop, and forwards the
// result to a cancelable request on the caller's own loop.
package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_backend_commits_total",
		Help: "Cumulative number of commits of the long-running transactions.",
	})
	forcedCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_backend_forced_commits_total",
		Help: "Cumulative number of commits forced by user-initiated deletions.",
	})
	visitsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_backend_visits_added_total",
		Help: "Cumulative number of visits recorded in the main partition.",
	})
	dbTaskYieldsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_backend_db_task_yields_total",
		Help: "Cumulative number of times a DB task yielded to be continued.",
	})
	canceledRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_backend_canceled_requests_total",
		Help: "Cumulative number of requests canceled before the backend ran them.",
	})
)
