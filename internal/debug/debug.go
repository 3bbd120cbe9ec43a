// Package debug provides env-gated diagnostic logging for mailworks.
// Output goes to stderr and is off unless MW_DEBUG is set or verbose mode
// is enabled at startup.
package debug

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("MW_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
)

// Enabled reports whether diagnostic output is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output).
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled.
func IsQuiet() bool {
	return quietMode
}

// Logf writes a diagnostic line to stderr when debugging is enabled.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		logMutex.Lock()
		defer logMutex.Unlock()
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Timestamp returns the current UTC time formatted for log lines.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Printf writes to stdout when debugging is enabled.
func Printf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Printf(format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled.
// Use this for normal informational output that should be suppressed in
// quiet mode.
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled.
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Println(args...)
	}
}
