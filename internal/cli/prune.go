package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/chronicle/internal/config"
)

type pruneJSON struct {
	Cutoff   string `json:"cutoff"`
	DryRun   bool   `json:"dry_run"`
	Archived int    `json:"visits_archived"`
	Deleted  int    `json:"visits_deleted"`
	URLs     int    `json:"urls_deleted"`
}

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	return c.executeWithSession(s)
}

// executeWithSession archives old history of a provided session (for testing).
func (c *PruneCommand) executeWithSession(s *session) error {
	threshold := config.Days(s.cfg.Retention.ArchiveDays)
	if c.OlderThan != "" {
		d, err := parseDuration(c.OlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value %q: %w", c.OlderThan, err)
		}
		threshold = d
	}
	cutoff := s.now().Add(-threshold)

	if s.backend.ArchivedDB() == nil {
		return fmt.Errorf("archived history is unavailable, nothing can be pruned")
	}

	out := pruneJSON{Cutoff: cutoff.UTC().Format(time.RFC3339), DryRun: c.DryRun}
	if c.DryRun {
		archive, remove, err := s.backend.Expirer().CountOldHistory(cutoff)
		if err != nil {
			return fmt.Errorf("count old history: %w", err)
		}
		out.Archived, out.Deleted = archive, remove
	} else {
		r := s.backend.ArchiveHistoryBefore(cutoff)
		s.settle()
		out.Archived, out.Deleted, out.URLs = r.VisitsArchived, r.VisitsDeleted, r.URLsDeleted
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if c.DryRun {
		fmt.Printf("Would prune visits older than %s (%s):\n", formatDurationHuman(threshold), out.Cutoff)
		fmt.Printf("  Archive: %d visits\n", out.Archived)
		fmt.Printf("  Delete:  %d visits\n", out.Deleted)
		return nil
	}
	fmt.Printf("Pruned visits older than %s (%s):\n", formatDurationHuman(threshold), out.Cutoff)
	fmt.Printf("  Archived: %d visits\n", out.Archived)
	fmt.Printf("  Deleted:  %d visits, %d URLs\n", out.Deleted, out.URLs)
	return nil
}
