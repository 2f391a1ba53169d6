// Package monitoring collects logs, metrics and error reports from the
// cleaner packages.
package monitoring

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// A Monitor is responsible for collecting logs, metrics and error messages.
//
// Monitors are cheap to copy with WithTag/WithTags/WithPrefix, so components
// generally derive a child monitor for each sub-component they own.
type Monitor interface {
	// Measure records values for the named distribution
	Measure(name string, value ...float64)
	// Count increments the named counter
	Count(name string, value float64)
	// Time measures and records the execution time of fn in milliseconds
	Time(name string, fn func())

	// CapturePanic recovers from a panic in fn, reports it and returns an
	// incidentID, which is empty if fn returned normally.
	CapturePanic(fn func()) (incidentID string)

	// Report error/warning and write to log, returns incidentID which can be
	// surfaced to callers or correlated in logs, if relevant.
	ReportError(err error, message ...interface{}) string
	ReportWarning(err error, message ...interface{}) string

	// Write log messages to system log
	Debug(...interface{})
	Debugf(string, ...interface{})
	Info(...interface{})
	Infof(string, ...interface{})
	Warn(...interface{})
	Warnf(string, ...interface{})
	Error(...interface{})
	Errorf(string, ...interface{})

	// Create child monitor with given tags (tags don't apply to metrics)
	WithTags(tags map[string]string) Monitor
	WithTag(key, value string) Monitor
	// Create child monitor with given prefix (prefix applies to everything)
	WithPrefix(prefix string) Monitor
}

// parseLogLevel panics on log-levels not supported by logrus, as such
// configurations are a deployment error there is no point limping past.
func parseLogLevel(logLevel string) logrus.Level {
	switch strings.ToLower(logLevel) {
	case logrus.DebugLevel.String():
		return logrus.DebugLevel
	case logrus.InfoLevel.String():
		return logrus.InfoLevel
	case logrus.WarnLevel.String():
		return logrus.WarnLevel
	case logrus.ErrorLevel.String():
		return logrus.ErrorLevel
	case logrus.FatalLevel.String():
		return logrus.FatalLevel
	case logrus.PanicLevel.String():
		return logrus.PanicLevel
	default:
		panic(fmt.Sprintf("Unsupported log-level: %s", logLevel))
	}
}

func tagsToFields(tags map[string]string) logrus.Fields {
	fields := make(logrus.Fields, len(tags))
	for k, v := range tags {
		fields[k] = v
	}
	return fields
}
