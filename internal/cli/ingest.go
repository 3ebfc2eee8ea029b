package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/backend"
	"github.com/runnerr0/chronicle/internal/history"
)

var ingestRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chronicle_ingest_records_total",
	Help: "Number of NDJSON records read by ingest, by outcome.",
}, []string{"outcome"})

// maxRecordSize bounds a single NDJSON line, which may carry page text.
const maxRecordSize = 8 << 20

// ingestRecord is one line of ingest input.
type ingestRecord struct {
	URL            string    `json:"url"`
	Referrer       string    `json:"referrer,omitempty"`
	Transition     string    `json:"transition,omitempty"`
	ClientRedirect bool      `json:"client_redirect,omitempty"`
	Redirects      []string  `json:"redirects,omitempty"`
	Time           time.Time `json:"time,omitempty"`
	Title          string    `json:"title,omitempty"`
	Contents       string    `json:"contents,omitempty"`
	Scope          int64     `json:"scope,omitempty"`
	PageID         int32     `json:"page_id,omitempty"`
}

// pageInfo converts the record. A zero Time is |now|.
func (r ingestRecord) pageInfo(now time.Time) (history.PageInfo, error) {
	if r.URL == "" {
		return history.PageInfo{}, fmt.Errorf("missing url")
	}
	transition := history.Link
	if r.Transition != "" {
		var ok bool
		if transition, ok = history.ParseCoreTransition(r.Transition); !ok {
			return history.PageInfo{}, fmt.Errorf("unknown transition %q", r.Transition)
		}
	}
	if r.ClientRedirect {
		transition |= history.ClientRedirect
	}
	at := r.Time
	if at.IsZero() {
		at = now
	}
	return history.PageInfo{
		URL:        r.URL,
		Referrer:   r.Referrer,
		Transition: transition,
		Redirects:  r.Redirects,
		Time:       at,
		IDScope:    r.Scope,
		PageID:     r.PageID,
	}, nil
}

// ingestSummary reports the outcome of an ingest.
type ingestSummary struct {
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
}

// Execute implements the go-flags Commander interface for IngestCommand.
func (c *IngestCommand) Execute(args []string) error {
	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := s.cfg.Metrics.Addr
	if c.MetricsAddr != "" {
		addr = c.MetricsAddr
	}
	if addr != "" {
		srv := serveMetrics(addr)
		defer srv.Close()
	}

	input := c.input
	if input == nil {
		input = os.Stdin
	}
	return c.executeWithSession(ctx, s, input)
}

// serveMetrics serves the default registry on |addr| until closed.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(log.Fields{"addr": addr, "err": err}).Error("metrics server failed")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")
	return srv
}

// executeWithSession runs the session's loop on its own goroutine, feeding
// it records of |input| through a backend.Service until |input| is drained
// or |ctx| is done. The backend is then shut down on its loop.
func (c *IngestCommand) executeWithSession(ctx context.Context, s *session, input io.Reader) error {
	svc := backend.NewService(s.backend, s.loop)

	runCtx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		s.loop.Run(runCtx)
		close(loopDone)
	}()

	summary, readErr := c.readRecords(ctx, svc, s, input)

	closed := make(chan struct{})
	svc.Shutdown(nil, func() { close(closed) })
	<-closed
	cancel()
	<-loopDone

	if readErr != nil {
		return errors.WithMessagef(readErr, "ingest stopped after %d records", summary.Accepted)
	}

	log.WithFields(log.Fields{
		"accepted": summary.Accepted,
		"skipped":  summary.Skipped,
	}).Info("ingest finished")

	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(summary)
	}
	fmt.Printf("Accepted %d visits (%d skipped)\n", summary.Accepted, summary.Skipped)
	return nil
}

func (c *IngestCommand) readRecords(ctx context.Context, svc *backend.Service, s *session, input io.Reader) (ingestSummary, error) {
	var summary ingestSummary
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)

	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var rec ingestRecord
		var info history.PageInfo
		err := json.Unmarshal(scanner.Bytes(), &rec)
		if err == nil {
			info, err = rec.pageInfo(s.now())
		}
		if err != nil {
			log.WithFields(log.Fields{"line": line, "err": err}).Warn("skipping ingest record")
			ingestRecordsTotal.WithLabelValues("skipped").Inc()
			summary.Skipped++
			continue
		}

		svc.AddPage(info)
		if rec.Title != "" {
			svc.SetPageTitle(rec.URL, rec.Title)
		}
		if rec.Contents != "" {
			svc.SetPageContents(rec.URL, rec.Contents)
		}
		ingestRecordsTotal.WithLabelValues("accepted").Inc()
		summary.Accepted++
	}
	return summary, scanner.Err()
}
