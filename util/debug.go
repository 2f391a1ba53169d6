// Package util holds small helpers shared by the cleaner packages.
package util

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	debugLock    sync.Mutex
	lastMessage  = time.Now()
	longestName  int
	nextColor    int
	debugPalette = []string{
		"34", // Blue
		"33", // Yellow
		"32", // Green
		"31", // Red
		"35", // Magenta
		"36", // Cyan
	}
)

var debugPattern = func() *regexp.Regexp {
	debug := os.Getenv("DEBUG")
	if debug == "" {
		return nil
	}
	// Credits: github.com/tj/go-debug
	debug = regexp.QuoteMeta(debug)
	debug = strings.Replace(debug, "\\*", ".*?", -1)
	debug = strings.Replace(debug, ",", "|", -1)
	return regexp.MustCompile("^(" + debug + ")$")
}()

func debugDisabled(string, ...interface{}) {}

// Debug returns a debug(format, args...) function that prints to stderr if
// the DEBUG environment variable matches name. Patterns like DEBUG='cleaner*'
// or DEBUG='*' are supported.
//
// This is for development debugging only, anything worth recording in
// production belongs on a Monitor.
func Debug(name string) func(string, ...interface{}) {
	if debugPattern == nil || !debugPattern.MatchString(name) {
		return debugDisabled
	}

	debugLock.Lock()
	defer debugLock.Unlock()

	color := debugPalette[nextColor%len(debugPalette)]
	nextColor++
	if longestName < len(name) {
		longestName = len(name)
	}

	return func(format string, args ...interface{}) {
		debugLock.Lock()
		now := time.Now()
		delay := now.Sub(lastMessage)
		lastMessage = now
		padded := name + strings.Repeat(" ", longestName-len(name))
		debugLock.Unlock()

		s := fmt.Sprintf(" %s \033[%sm\033[1m%s\033[0m | ", humanizeNano(delay.Nanoseconds()), color, padded)
		s += fmt.Sprintf(format, args...)
		fmt.Fprintln(os.Stderr, s)
	}
}

// Humanize nanoseconds to a string.
// Credits: github.com/tj/go-debug
func humanizeNano(n int64) string {
	suffix := "ns"
	switch {
	case n > 1000000000:
		n /= 1000000000
		suffix = "s"
	case n > 1000000:
		n /= 1000000
		suffix = "ms"
	case n > 1000:
		n /= 1000
		suffix = "us"
	}
	return fmt.Sprintf("%-6s", strconv.Itoa(int(n))+suffix)
}
