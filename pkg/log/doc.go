/*
Package log provides structured logging for the Synnefo core using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("quotaholder")             │          │
	│  │  - WithHolder("user:42")                    │          │
	│  │  - WithClient("pithos")                     │          │
	│  │  - WithSerial(1038)                         │          │
	│  │  - WithNode(918231)                         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "coordinator",              │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "commission accepted"         │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-10-13T10:30:00Z INF commission accepted component=coordinator │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithHolder: Add holding's holder string
  - WithClient: Add commission's issuing client
  - WithSerial: Add commission serial number
  - WithNode: Add node tree node ID

# Usage

Initializing the Logger:

	import "github.com/synnefo-io/core/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("quotaholder leader elected")
	log.Debug("checking holding usage")
	log.Warn("reconciliation found a dangling commission")
	log.Error("failed to apply raft log entry")
	log.Fatal("cannot start without bolt store") // exits process

Structured Logging:

	log.Logger.Info().
		Str("client", "pithos").
		Int64("serial", 1038).
		Msg("commission issued")

Component Loggers:

	coordLog := log.WithComponent("coordinator")
	coordLog.Info().Msg("starting reconciliation sweep")

	holdLog := log.WithComponent("quotaholder").
		With().Str("holder", "user:42").Logger()
	holdLog.Info().Msg("holding updated")

Context Logger Helpers:

	clientLog := log.WithClient("pithos")
	clientLog.Info().Msg("client connected")

	serialLog := log.WithSerial(1038)
	serialLog.Info().Msg("commission resolved")

# Integration Points

This package integrates with:

  - pkg/quota: Logs holding changes and Raft events
  - pkg/coordinator: Logs commission issue/resolve decisions
  - pkg/facade: Logs object and container mutations
  - pkg/reconciler: Logs dangling-commission reconciliation
  - internal/blockstore: Logs block store errors

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"quotaholder","time":"2024-10-13T10:30:00Z","message":"raft leader elected"}
	{"level":"info","component":"coordinator","serial":1038,"time":"2024-10-13T10:30:01Z","message":"commission accepted"}
	{"level":"error","component":"facade","node_id":918231,"error":"node not found","time":"2024-10-13T10:30:02Z","message":"update_object_hashmap failed"}

Console Format (Development):

	2024-10-13T10:30:00Z INF raft leader elected component=quotaholder
	2024-10-13T10:30:01Z INF commission accepted component=coordinator serial=1038
	2024-10-13T10:30:02Z ERR update_object_hashmap failed error="node not found" component=facade node_id=918231

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers down into request handling
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int64, .Err)
  - Enables log aggregation and querying

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Consistent error format across the codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces

Don't:
  - Log holder tokens or credentials
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int64)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
