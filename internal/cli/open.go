package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/chronicle/internal/backend"
	"github.com/runnerr0/chronicle/internal/history"
)

// Execute implements the go-flags Commander interface for OpenCommand.
func (c *OpenCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for open command")
	}

	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	return c.executeWithSession(s)
}

// openDetails collects what is stored about a URL.
type openDetails struct {
	result     backend.QueryURLResult
	redirects  history.RedirectList
	hostVisits backend.VisitCountResult
	favicon    history.FavIconResult
}

// executeWithSession prints the stored data of a URL (used by tests).
func (c *OpenCommand) executeWithSession(s *session) error {
	d := openDetails{result: s.backend.QueryURL(c.URL, true)}
	if !d.result.Success {
		return fmt.Errorf("URL not found: %s", c.URL)
	}
	d.redirects, _ = s.backend.QueryRedirectsFrom(c.URL)
	d.hostVisits = s.backend.GetVisitCountToHost(c.URL)
	d.favicon = s.backend.GetFavIconForURL(c.URL)

	if (c.globals != nil && c.globals.JSON) || c.Format == "json" {
		return c.outputJSON(d)
	}
	switch c.Format {
	case "", "md":
		c.outputMarkdown(d)
		return nil
	default:
		return fmt.Errorf("unknown format %q (use md or json)", c.Format)
	}
}

func (c *OpenCommand) outputMarkdown(d openDetails) {
	row := d.result.Row

	title := row.Title
	if title == "" {
		title = row.URL
	}
	fmt.Printf("# %s\n\n", title)
	fmt.Printf("- **URL:** %s\n", row.URL)
	fmt.Printf("- **Visits:** %d (%d typed)\n", row.VisitCount, row.TypedCount)
	if !row.LastVisit.IsZero() {
		fmt.Printf("- **Last visit:** %s\n", row.LastVisit.Local().Format("2006-01-02 15:04"))
	}
	if row.Hidden {
		fmt.Println("- **Hidden:** yes")
	}
	if d.result.Archived {
		fmt.Println("- **Archived:** yes")
	}
	if d.hostVisits.Success {
		fmt.Printf("- **Visits to host:** %d\n", d.hostVisits.Count)
	}
	if d.favicon.KnowFavIcon {
		fmt.Printf("- **Favicon:** %s\n", d.favicon.IconURL)
	}
	if len(d.redirects) != 0 {
		fmt.Println()
		fmt.Println("## Redirects")
		fmt.Println()
		for _, u := range d.redirects {
			fmt.Printf("- %s\n", u)
		}
	}
	if len(d.result.Visits) != 0 {
		fmt.Println()
		fmt.Println("## Visits")
		fmt.Println()
		for _, v := range d.result.Visits {
			fmt.Printf("- %s %s\n", v.VisitTime.Local().Format("2006-01-02 15:04:05"), v.Transition)
		}
	}
}

type openVisitJSON struct {
	Time       string `json:"time"`
	Transition string `json:"transition"`
	Referrer   int64  `json:"referring_visit,omitempty"`
}

type openJSON struct {
	URL           string          `json:"url"`
	Title         string          `json:"title"`
	VisitCount    int             `json:"visit_count"`
	TypedCount    int             `json:"typed_count"`
	LastVisit     string          `json:"last_visit,omitempty"`
	Hidden        bool            `json:"hidden"`
	Archived      bool            `json:"archived"`
	HostVisits    int             `json:"host_visits"`
	FavIconURL    string          `json:"favicon_url,omitempty"`
	FavIconStale  bool            `json:"favicon_expired,omitempty"`
	RedirectsFrom []string        `json:"redirects"`
	Visits        []openVisitJSON `json:"visits"`
}

func (c *OpenCommand) outputJSON(d openDetails) error {
	row := d.result.Row
	out := openJSON{
		URL:           row.URL,
		Title:         row.Title,
		VisitCount:    row.VisitCount,
		TypedCount:    row.TypedCount,
		Hidden:        row.Hidden,
		Archived:      d.result.Archived,
		HostVisits:    d.hostVisits.Count,
		RedirectsFrom: append([]string{}, d.redirects...),
		Visits:        make([]openVisitJSON, 0, len(d.result.Visits)),
	}
	if !row.LastVisit.IsZero() {
		out.LastVisit = row.LastVisit.UTC().Format(time.RFC3339)
	}
	if d.favicon.KnowFavIcon {
		out.FavIconURL = d.favicon.IconURL
		out.FavIconStale = d.favicon.Expired
	}
	for _, v := range d.result.Visits {
		out.Visits = append(out.Visits, openVisitJSON{
			Time:       v.VisitTime.UTC().Format(time.RFC3339Nano),
			Transition: v.Transition.String(),
			Referrer:   int64(v.ReferringVisit),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
