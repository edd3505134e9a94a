package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Record  *RecordCommand
	Serve   *ServeCommand
	Stats   *StatsCommand
	Keys    *KeysCommand
	Events  *EventsCommand
	Add     *AddCommand
	Migrate *MigrateCommand
	Prune   *PruneCommand
	Purge   *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "metmac"
	parser.LongDescription = "Local keystroke counter: buffers captured key events, stores them, and serves a dashboard."

	cmds := &commands{
		Record:  &RecordCommand{globals: &globals, version: version},
		Serve:   &ServeCommand{globals: &globals, version: version},
		Stats:   &StatsCommand{globals: &globals, version: version},
		Keys:    &KeysCommand{globals: &globals, version: version},
		Events:  &EventsCommand{globals: &globals, version: version},
		Add:     &AddCommand{globals: &globals, version: version},
		Migrate: &MigrateCommand{globals: &globals, version: version},
		Prune:   &PruneCommand{globals: &globals, version: version},
		Purge:   &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("record", "Record key events from JSON lines", "Read key events as JSON lines from stdin or a file, buffer them, and write them to the store in batches.", cmds.Record)
	parser.AddCommand("serve", "Run the dashboard server", "Serve the dashboard page and its JSON API.", cmds.Serve)
	parser.AddCommand("stats", "Show today's stats", "Show today's key count, first and last key times, top keys, and storage summary.", cmds.Stats)
	parser.AddCommand("keys", "Show all-time key counts", "Show how often each key has been pressed, most frequent first.", cmds.Keys)
	parser.AddCommand("events", "Dump stored events", "Print stored events as JSON lines in insertion order.", cmds.Events)
	parser.AddCommand("add", "Manually record a key event", "Validate and store a single key event.", cmds.Add)
	parser.AddCommand("migrate", "Apply schema migrations", "Apply pending schema migrations and report what ran.", cmds.Migrate)
	parser.AddCommand("prune", "Delete old events", "Delete events older than the retention period.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL recorded events", "Delete ALL recorded events. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the metmac CLI using os.Args.
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
			fmt.Printf("metmac %s\n", version)
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
