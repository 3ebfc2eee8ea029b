// Package expire implements the retention policy of browsing history. Visits
// older than the archive threshold are moved from the main partition to the
// archived one, or deleted outright when they aren't worth keeping. URLs left
// without visits are removed unless they're bookmarked, and favicons left
// without URLs are collected.
//
// Backend also drives the periodic sweep, which archives a small batch of old
// visits at a time on the owner loop and reschedules itself for as long as
// the backend runs.
package expire

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	visitsArchivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_expire_visits_archived_total",
		Help: "Cumulative number of visits moved to the archived partition.",
	})
	visitsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_expire_visits_deleted_total",
		Help: "Cumulative number of visits deleted by expiration.",
	})
	urlsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_expire_urls_deleted_total",
		Help: "Cumulative number of URL rows deleted from the main partition.",
	})
	sweepIterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronicle_expire_sweep_iterations_total",
		Help: "Cumulative number of periodic archival sweep iterations.",
	})
)
