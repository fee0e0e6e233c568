package coord

import (
	"encoding/hex"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/sha3"
)

// PrimaryTool returns the executable a command line invokes, skipping a
// leading sudo and any directory prefix.
func PrimaryTool(command string) string {
	fields := strings.Fields(command)
	for len(fields) > 0 && fields[0] == "sudo" {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(filepath.Base(fields[0]))
}

// NormalizeCommand trims and collapses whitespace so trivially different
// spellings of the same command collide.
func NormalizeCommand(command string) string {
	return strings.Join(strings.Fields(command), " ")
}

// Fingerprint derives the task id for running command against target.
// The form is target:tool:<hash prefix>, readable in logs and collision
// resistant across unrelated commands.
func Fingerprint(target, command string) string {
	tool := PrimaryTool(command)
	if tool == "" {
		tool = "none"
	}

	h := sha3.New256()
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeCommand(command)))

	return target + ":" + tool + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}
