// Package loghub is the per-process ring buffer and append-only log file:
// line-oriented capture, fan-out to live subscribers, historical range
// query, and regex grep with context and time filtering (spec §4.2).
package loghub

import "time"

// Level distinguishes which stream a captured line came from, or marks a
// synthetic header/footer line written by the Supervisor.
type Level string

const (
	LevelStdout Level = "STDOUT"
	LevelStderr Level = "STDERR"
	LevelSystem Level = "SYSTEM"
)

// Entry is one LogEntry (spec §3): {line_number, timestamp, level, content}.
type Entry struct {
	LineNumber int
	Timestamp  time.Time
	Level      Level
	Content    string
}
