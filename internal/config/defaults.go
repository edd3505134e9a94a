package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Buffer: BufferConfig{
			FlushThreshold:       30,
			FlushIntervalSeconds: 3,
			MaxPending:           10000,
			OverflowPolicy:       OverflowDropOldest,
		},
		Storage: StorageConfig{
			Path:          "~/.metmac",
			Driver:        DriverSQLite,
			SQLiteFile:    "data.db",
			BoltFile:      "data.bolt",
			MaxOpenConns:  5,
			BusyTimeoutMS: 5000,
		},
		Capture: CaptureConfig{
			Input:           "-",
			WindowCommand:   []string{},
			WindowTimeoutMS: 200,
			DenylistWindows: DefaultDenylistWindows(),
			DenylistRegex:   []string{`(?i)password`, `(?i)\bsudo\b`},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3004,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Tracing: TracingConfig{
			Stdout: false,
		},
	}
}
