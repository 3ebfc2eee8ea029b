package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}
	if err := c.confirm(); err != nil {
		return err
	}

	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	return c.executeWithSession(s)
}

// confirm prompts for confirmation unless --force.
func (c *PurgeCommand) confirm() error {
	if c.Force {
		return nil
	}
	var input io.Reader = os.Stdin
	if c.input != nil {
		input = c.input
	}

	fmt.Println("⚠ WARNING: This will permanently delete ALL history.")
	fmt.Println("  - All visits, archived visits, and segments")
	fmt.Println("  - All favicons and thumbnails not used by bookmarks")
	fmt.Println("  - The full-text index")
	fmt.Println()
	fmt.Println("Bookmarked URLs are kept, without their visits. This action cannot be undone.")
	fmt.Println()
	fmt.Print(`Type "PURGE" to confirm: `)

	scanner := bufio.NewScanner(input)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	if strings.TrimSpace(scanner.Text()) != "PURGE" {
		return fmt.Errorf("aborted: confirmation text did not match")
	}
	return nil
}

// executeWithSession deletes all history of a provided session (for testing).
func (c *PurgeCommand) executeWithSession(s *session) error {
	s.backend.DeleteAllHistory()
	s.settle()

	kept, err := s.backend.HistoryDB().CountURLs()
	if err != nil {
		return fmt.Errorf("count urls: %w", err)
	}

	// Output
	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"purged":          true,
			"bookmarked_kept": kept,
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}

	fmt.Printf("Purged all history. %d bookmarked URLs kept.\n", kept)
	return nil
}
