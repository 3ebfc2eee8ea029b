package cli

import (
	"encoding/json"
	"fmt"
	"os"
)

// Execute implements the go-flags Commander interface for DeleteCommand.
func (c *DeleteCommand) Execute(args []string) error {
	if len(c.URLs) == 0 {
		return fmt.Errorf("--url is required for delete command")
	}

	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	return c.executeWithSession(s)
}

// executeWithSession deletes URLs of a provided session (for testing).
func (c *DeleteCommand) executeWithSession(s *session) error {
	var deleted, missing []string
	for _, u := range c.URLs {
		if !s.backend.QueryURL(u, false).Success {
			missing = append(missing, u)
			continue
		}
		s.backend.DeleteURL(u)
		deleted = append(deleted, u)
	}
	s.settle()

	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"deleted": append([]string{}, deleted...),
			"missing": append([]string{}, missing...),
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}

	for _, u := range deleted {
		fmt.Printf("Deleted %s\n", u)
	}
	for _, u := range missing {
		fmt.Printf("Not found: %s\n", u)
	}
	return nil
}
