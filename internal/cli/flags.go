package cli

import "io"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand shows partition health, row counts and retention settings.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// SearchCommand queries visible history, by full text or by time only.
type SearchCommand struct {
	Since  string `long:"since" description:"Only visits newer than duration (e.g., 7d, 24h, 2w)"`
	Until  string `long:"until" description:"Only visits older than duration"`
	Unique bool   `long:"unique" description:"Report each URL once, at its most recent visit"`
	Limit  int    `long:"limit" description:"Maximum results" default:"10"`

	globals *GlobalFlags
	version string
}

// OpenCommand prints the stored row, visits and redirects of a URL.
type OpenCommand struct {
	URL    string `long:"url" description:"URL to look up (required)"`
	Format string `long:"format" description:"Output format: md | json" default:"md"`

	globals *GlobalFlags
	version string
}

// AddCommand records a single visit to a URL.
type AddCommand struct {
	URL        string `long:"url" description:"URL to record (required)"`
	Title      string `long:"title" description:"Page title"`
	BodyFile   string `long:"body-file" description:"Path to file containing page text"`
	Body       string `long:"body" description:"Inline page text"`
	Transition string `long:"transition" description:"Page transition" default:"typed"`

	globals *GlobalFlags
	version string
}

// IngestCommand records page visits read as NDJSON from stdin.
type IngestCommand struct {
	MetricsAddr string `long:"metrics-addr" description:"Override metrics listen address"`

	globals *GlobalFlags
	version string
	input   io.Reader // nil means os.Stdin
}

// PruneCommand archives (or, where not worth archiving, deletes) old visits.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override archive threshold (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without pruning"`

	globals *GlobalFlags
	version string
}

// PurgeCommand deletes ALL history with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	input   io.Reader // nil means os.Stdin
}

// ExpireCommand deletes the visits of a time range.
type ExpireCommand struct {
	Since string `long:"since" description:"Range begin: a duration ago (e.g., 2h) or an RFC 3339 time"`
	Until string `long:"until" description:"Range end: a duration ago or an RFC 3339 time"`

	globals *GlobalFlags
	version string
}

// DeleteCommand deletes URLs and everything recorded about them.
type DeleteCommand struct {
	URLs []string `long:"url" description:"URL to delete (repeatable)"`

	globals *GlobalFlags
	version string
}

// BookmarkCommand pins a URL against expiration, or unpins it.
type BookmarkCommand struct {
	URL    string `long:"url" description:"URL to bookmark (required)"`
	Title  string `long:"title" description:"Bookmark title"`
	Remove bool   `long:"remove" description:"Remove the bookmark instead"`

	globals *GlobalFlags
	version string
}
