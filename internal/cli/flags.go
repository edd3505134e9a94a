package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable debug logging"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// RecordCommand: consume captured key events and persist them in batches.
type RecordCommand struct {
	Input string `long:"input" description:"JSON lines input: a file path, or - for stdin (default from config)"`
	Serve bool   `long:"serve" description:"Also run the dashboard server while recording"`

	globals *GlobalFlags
	version string
}

// ServeCommand: run the dashboard HTTP server.
type ServeCommand struct {
	Port int `long:"port" description:"Override dashboard port"`

	globals *GlobalFlags
	version string
}

// StatsCommand: print today's stats and storage summary.
type StatsCommand struct {
	globals *GlobalFlags
	version string
}

// KeysCommand: print all-time counts per key.
type KeysCommand struct {
	Limit int `long:"limit" description:"Maximum keys to show (0 for all)" default:"0"`

	globals *GlobalFlags
	version string
}

// EventsCommand: dump stored events as JSON lines.
type EventsCommand struct {
	Limit int `long:"limit" description:"Only the most recent N events (0 for all)" default:"0"`

	globals *GlobalFlags
	version string
}

// AddCommand: manually record one key event.
type AddCommand struct {
	Key    string `long:"key" description:"Key name (required)"`
	Window string `long:"window" description:"Window title"`
	TS     int64  `long:"ts" description:"Timestamp in milliseconds since the epoch (default now)"`

	globals *GlobalFlags
	version string
}

// MigrateCommand: apply pending schema migrations.
type MigrateCommand struct {
	Status bool `long:"status" description:"Only list pending migrations"`

	globals *GlobalFlags
	version string
}

// PruneCommand: delete events older than a retention period.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Retention period (e.g., 30d, 12h, 2w)" default:"30d"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
}

// PurgeCommand: delete ALL recorded events with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
}
