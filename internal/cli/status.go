package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/runnerr0/chronicle/internal/backend"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string          `json:"version"`
	Directory         string          `json:"directory"`
	Partitions        []partitionJSON `json:"partitions"`
	URLs              int64           `json:"urls"`
	Visits            int64           `json:"visits"`
	ArchivedURLs      int64           `json:"archived_urls"`
	ArchivedVisits    int64           `json:"archived_visits"`
	FavIcons          int64           `json:"favicons"`
	Bookmarks         int             `json:"bookmarks"`
	FirstRecordedTime string          `json:"first_recorded_time"`
	ArchiveDays       int             `json:"archive_days"`
	Sweeping          bool            `json:"sweeping"`
}

type partitionJSON struct {
	Name      string `json:"name"`
	Open      bool   `json:"open"`
	SizeBytes int64  `json:"size_bytes"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	return c.executeWithSession(s)
}

// executeWithSession runs status against a provided session (for testing).
func (c *StatusCommand) executeWithSession(s *session) error {
	b := s.backend
	out := statusJSON{
		Version:           c.version,
		Directory:         s.opts.Dir,
		Bookmarks:         len(s.bookmarks.GetBookmarks()),
		FirstRecordedTime: b.FirstRecordedTime().UTC().Format(time.RFC3339),
		ArchiveDays:       s.cfg.Retention.ArchiveDays,
		Sweeping:          b.Expirer().Sweeping(),
	}

	var err error
	if out.URLs, err = b.HistoryDB().CountURLs(); err != nil {
		return fmt.Errorf("count urls: %w", err)
	}
	if out.Visits, err = b.HistoryDB().CountVisits(); err != nil {
		return fmt.Errorf("count visits: %w", err)
	}
	if a := b.ArchivedDB(); a != nil {
		if out.ArchivedURLs, err = a.CountURLs(); err != nil {
			return fmt.Errorf("count archived urls: %w", err)
		}
		if out.ArchivedVisits, err = a.CountVisits(); err != nil {
			return fmt.Errorf("count archived visits: %w", err)
		}
	}
	if t := b.ThumbnailDB(); t != nil {
		if out.FavIcons, err = t.CountFavIcons(); err != nil {
			return fmt.Errorf("count favicons: %w", err)
		}
	}
	out.Partitions = partitionStatus(s.opts, b)

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	c.printStatusHuman(out)
	return nil
}

func partitionStatus(opts backend.Options, b *backend.HistoryBackend) []partitionJSON {
	size := func(file string) int64 {
		if opts.Dir == backend.InMemory {
			return 0
		}
		path := filepath.Join(opts.Dir, file)
		return fileSize(path) + fileSize(path+"-wal")
	}
	return []partitionJSON{
		{Name: "history", Open: b.HistoryDB() != nil, SizeBytes: size(opts.HistoryFile)},
		{Name: "archived", Open: b.ArchivedDB() != nil, SizeBytes: size(opts.ArchivedFile)},
		{Name: "thumbnails", Open: b.ThumbnailDB() != nil, SizeBytes: size(opts.ThumbnailFile)},
		{Name: "text", Open: b.TextIndex() != nil, SizeBytes: size(opts.TextFile)},
	}
}

func (c *StatusCommand) printStatusHuman(out statusJSON) {
	fmt.Println("Chronicle Status")
	fmt.Println("================")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Directory:     %s\n", out.Directory)
	fmt.Printf("URLs:          %s (%s archived)\n", formatNumber(out.URLs), formatNumber(out.ArchivedURLs))
	fmt.Printf("Visits:        %s (%s archived)\n", formatNumber(out.Visits), formatNumber(out.ArchivedVisits))
	fmt.Printf("Favicons:      %s\n", formatNumber(out.FavIcons))
	fmt.Printf("Bookmarks:     %d\n", out.Bookmarks)
	fmt.Printf("Since:         %s\n", out.FirstRecordedTime)
	fmt.Printf("Archive after: %s\n", formatDurationHuman(time.Duration(out.ArchiveDays)*24*time.Hour))

	fmt.Println()
	fmt.Println("Partitions:")
	for _, p := range out.Partitions {
		state := "unavailable"
		if p.Open {
			state = "open"
		}
		fmt.Printf("  %-12s %-12s %s\n", p.Name, state, formatBytes(p.SizeBytes))
	}

	fmt.Println()
	if out.Sweeping {
		fmt.Println("Archival:      running")
	} else {
		fmt.Println("Archival:      stopped")
	}
}
