// Package ansiutil strips ANSI escape sequences from captured log content.
// Log files retain escape sequences as written by the child (spec §6); this
// helper exists for the consumers that require clean text.
package ansiutil

import "regexp"

var escapeSeq = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// Strip removes ANSI CSI escape sequences from s, leaving other bytes intact.
func Strip(s string) string {
	return escapeSeq.ReplaceAllString(s, "")
}
