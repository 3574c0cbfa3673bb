package errors

import "sort"

// Template defines a registered error type.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Configuration (E100-E199)

	"E100": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Detail:     "No sigsync.yaml was found in the working directory or at the given path.",
		Suggestion: "Run without --config to use defaults, or create sigsync.yaml.",
	},
	"E101": {
		Category:   CategoryConfig,
		Message:    "Config file could not be parsed",
		Suggestion: "Check indentation and quoting in sigsync.yaml.",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "One or more configuration values are out of range or inconsistent.",
	},
	"E103": {
		Category:   CategoryConfig,
		Message:    "Invalid environment override",
		Detail:     "A SIGSYNC_* environment variable could not be parsed.",
		Suggestion: "Durations use Go syntax such as 30s or 1m; booleans are true or false.",
	},
	"E104": {
		Category:   CategoryConfig,
		Message:    "Env file could not be loaded",
		Suggestion: "Check the path passed to --env-file.",
	},
	"E105": {
		Category: CategoryConfig,
		Message:  "Derived expression is invalid",
		Detail:   "A derived signal expression failed to compile against the configured signals.",
	},

	// Transport (E200-E299)

	"E200": {
		Category:   CategoryTransport,
		Message:    "Connection failed",
		Detail:     "The WebSocket endpoint could not be reached.",
		Suggestion: "Check that `sigsync serve` is running and the URL ends in the sync path (default /sync).",
	},
	"E201": {
		Category:   CategoryTransport,
		Message:    "Redis unavailable",
		Suggestion: "Check transport.redis.addr and that the Redis server is reachable.",
	},
	"E202": {
		Category:   CategoryTransport,
		Message:    "Server failed",
		Suggestion: "Check that the listen address is free.",
	},
	"E203": {
		Category: CategoryTransport,
		Message:  "Unknown transport kind",
		Detail:   "transport.kind must be websocket, redis or pipe.",
	},

	// Script (E300-E399)

	"E300": {
		Category:   CategoryScript,
		Message:    "Script could not be read",
		Suggestion: "Check the script path.",
	},
	"E301": {
		Category: CategoryScript,
		Message:  "Script failed",
		Detail:   "The script threw an exception or was interrupted.",
	},
}

// Lookup returns the template for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}

// Codes returns every registered code, sorted.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
