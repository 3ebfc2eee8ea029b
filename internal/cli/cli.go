package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status   *StatusCommand
	Search   *SearchCommand
	Open     *OpenCommand
	Add      *AddCommand
	Ingest   *IngestCommand
	Prune    *PruneCommand
	Purge    *PurgeCommand
	Expire   *ExpireCommand
	Delete   *DeleteCommand
	Bookmark *BookmarkCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "chronicle"
	parser.LongDescription = "Local browsing history: recording, search, archival and expiration."

	cmds := &commands{
		Status:   &StatusCommand{globals: &globals, version: version},
		Search:   &SearchCommand{globals: &globals, version: version},
		Open:     &OpenCommand{globals: &globals, version: version},
		Add:      &AddCommand{globals: &globals, version: version},
		Ingest:   &IngestCommand{globals: &globals, version: version},
		Prune:    &PruneCommand{globals: &globals, version: version},
		Purge:    &PurgeCommand{globals: &globals, version: version},
		Expire:   &ExpireCommand{globals: &globals, version: version},
		Delete:   &DeleteCommand{globals: &globals, version: version},
		Bookmark: &BookmarkCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show history statistics", "Show partition health, row counts, and retention settings.", cmds.Status)
	parser.AddCommand("search", "Search history", "Search visible history by keyword, or list recent visits when no keyword is given.", cmds.Search)
	parser.AddCommand("open", "Print what is stored for a URL", "Print the stored row, visits, and redirects of a URL.", cmds.Open)
	parser.AddCommand("add", "Record a visit", "Record a single visit to a URL, with optional title and page text.", cmds.Add)
	parser.AddCommand("ingest", "Record visits from stdin", "Record page visits read as newline-delimited JSON from stdin.", cmds.Ingest)
	parser.AddCommand("prune", "Archive old history", "Archive visits older than the archive threshold.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL history", "Delete ALL history. Bookmarked URLs are kept without visits. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("expire", "Delete history in a time range", "Delete the visits of a time range, and URLs left without visits.", cmds.Expire)
	parser.AddCommand("delete", "Delete URLs", "Delete URLs with their visits, favicons, and indexed text.", cmds.Delete)
	parser.AddCommand("bookmark", "Pin or unpin a URL", "Bookmark a URL so expiration never deletes it, or remove the bookmark.", cmds.Bookmark)

	return parser, &globals, cmds
}

// Run is the main entry point for the Chronicle CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("chronicle %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
