// Package validate enforces the name/project filesystem-safety rules a
// ProcessRecord's identity must satisfy before it is ever used to build a
// path or a registry key.
package validate

import (
	"strings"
	"unicode"

	"github.com/mcprocd/mcprocd/internal/mcperrors"
)

const (
	maxNameLen    = 100
	maxProjectLen = 255
)

var forbiddenChars = []rune{':', '*', '?', '"', '<', '>', '|'}

var reservedDeviceNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// Name validates a process name against the rules in spec §6.
func Name(s string) error {
	return common("name", s, maxNameLen)
}

// Project validates a project label against the rules in spec §6, plus the
// reserved-device-name restriction that applies only to projects.
func Project(s string) error {
	if err := common("project", s, maxProjectLen); err != nil {
		return err
	}
	if reservedDeviceNames[strings.ToLower(s)] {
		return mcperrors.New(mcperrors.InvalidArgument, "project must not be a reserved device name: "+s)
	}
	return nil
}

func common(field, s string, maxLen int) error {
	if s == "" {
		return mcperrors.New(mcperrors.InvalidArgument, field+" must not be empty")
	}
	if len(s) > maxLen {
		return mcperrors.New(mcperrors.InvalidArgument, field+" exceeds maximum length")
	}
	if s == "." || s == ".." {
		return mcperrors.New(mcperrors.InvalidArgument, field+" must not be \".\" or \"..\"")
	}
	if strings.TrimSpace(s) != s {
		return mcperrors.New(mcperrors.InvalidArgument, field+" must not have leading or trailing whitespace")
	}
	if strings.ContainsAny(s, "/\\") {
		return mcperrors.New(mcperrors.InvalidArgument, field+" must not contain a path separator")
	}
	for _, c := range forbiddenChars {
		if strings.ContainsRune(s, c) {
			return mcperrors.New(mcperrors.InvalidArgument, field+" must not contain the character "+string(c))
		}
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return mcperrors.New(mcperrors.InvalidArgument, field+" must not contain control characters")
		}
	}
	return nil
}
