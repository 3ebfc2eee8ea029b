package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Execute implements the go-flags Commander interface for ExpireCommand.
func (c *ExpireCommand) Execute(args []string) error {
	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	return c.executeWithSession(s)
}

// executeWithSession expires a range of a provided session (for testing).
func (c *ExpireCommand) executeWithSession(s *session) error {
	if c.Since == "" && c.Until == "" {
		// Unbounded expiration is a purge, which has its own safety prompt.
		return fmt.Errorf("expire requires --since or --until (use purge --all to delete everything)")
	}

	now := s.now()
	begin, err := parseTimeArg(c.Since, now)
	if err != nil {
		return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
	}
	end, err := parseTimeArg(c.Until, now)
	if err != nil {
		return fmt.Errorf("invalid --until value %q: %w", c.Until, err)
	}
	if begin.IsZero() {
		// The beginning of time, without tripping the purge of two zero bounds.
		begin = time.Unix(0, 0)
	}
	if !end.IsZero() && !begin.Before(end) {
		return fmt.Errorf("empty range: %s is not before %s", begin.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	r := s.backend.ExpireHistoryBetween(begin, end)
	s.settle()

	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"visits_deleted": r.VisitsDeleted,
			"urls_deleted":   r.URLsDeleted,
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}

	fmt.Printf("Expired %d visits and %d URLs.\n", r.VisitsDeleted, r.URLsDeleted)
	return nil
}
