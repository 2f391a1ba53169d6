package monitoring

import (
	"fmt"
	godebug "runtime/debug"
	"time"

	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Collector is a prometheus.Collector holding the metrics recorded through a
// Monitor. All monitors derived from the same NewMonitor call share one
// Collector, so a process registers it exactly once.
type Collector struct {
	measures  *prometheus.SummaryVec
	counters  *prometheus.CounterVec
	incidents *prometheus.CounterVec
}

// NewCollector returns a Collector for monitors under the given namespace.
// The namespace must be a valid prometheus metric-name fragment.
func NewCollector(namespace string) *Collector {
	return &Collector{
		measures: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Namespace:  namespace,
				Name:       "measures",
				Help:       "Distributions recorded with Monitor.Measure and Monitor.Time.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			}, []string{"name"},
		),
		counters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "counters_total",
				Help:      "Counters incremented with Monitor.Count.",
			}, []string{"name"},
		),
		incidents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incidents_total",
				Help:      "Incidents recorded with ReportError, ReportWarning and CapturePanic.",
			}, []string{"level"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.measures.Describe(ch)
	c.counters.Describe(ch)
	c.incidents.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.measures.Collect(ch)
	c.counters.Collect(ch)
	c.incidents.Collect(ch)
}

type metricsMonitor struct {
	*logrus.Entry
	collector *Collector
	tags      map[string]string
	prefix    string
}

// NewMonitor creates a monitor that logs through logrus and records metrics
// in a prometheus Collector registered with registerer. If registerer is nil
// the prometheus default registerer is used.
//
// project names the metric namespace and must be a valid prometheus
// metric-name fragment.
func NewMonitor(project string, registerer prometheus.Registerer, logLevel string, tags map[string]string) Monitor {
	logger := logrus.New()
	logger.Level = parseLogLevel(logLevel)

	collector := NewCollector(project)
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(collector)

	return &metricsMonitor{
		Entry:     logrus.NewEntry(logger).WithFields(tagsToFields(tags)),
		collector: collector,
	}
}

// metricName joins the monitor prefix and name for use as a label value.
func (m *metricsMonitor) metricName(name string) string {
	if m.prefix == "" {
		return name
	}
	return m.prefix + "." + name
}

func (m *metricsMonitor) Measure(name string, value ...float64) {
	observer := m.collector.measures.WithLabelValues(m.metricName(name))
	for _, v := range value {
		observer.Observe(v)
	}
}

func (m *metricsMonitor) Count(name string, value float64) {
	m.collector.counters.WithLabelValues(m.metricName(name)).Add(value)
}

func (m *metricsMonitor) Time(name string, fn func()) {
	start := time.Now()
	fn()
	m.Measure(name, time.Since(start).Seconds()*1000)
}

func (m *metricsMonitor) CapturePanic(fn func()) (incidentID string) {
	defer func() {
		if crash := recover(); crash != nil {
			message := fmt.Sprint(crash)
			incidentID = uuid.NewRandom().String()
			trace := godebug.Stack()
			m.collector.incidents.WithLabelValues("panic").Inc()
			m.Entry.WithField("incidentId", incidentID).WithField("panic", crash).Error(
				"Recovered from panic: ", message, "\nAt:\n", string(trace),
			)
		}
	}()
	fn()
	return
}

func (m *metricsMonitor) ReportError(err error, message ...interface{}) string {
	incidentID := uuid.NewRandom().String()
	m.collector.incidents.WithLabelValues("error").Inc()
	m.Entry.WithField("incidentId", incidentID).WithError(err).Error(message...)
	return incidentID
}

func (m *metricsMonitor) ReportWarning(err error, message ...interface{}) string {
	incidentID := uuid.NewRandom().String()
	m.collector.incidents.WithLabelValues("warning").Inc()
	m.Entry.WithField("incidentId", incidentID).WithError(err).Warn(message...)
	return incidentID
}

func (m *metricsMonitor) WithTags(tags map[string]string) Monitor {
	// Merge tags from monitor and tags
	allTags := make(map[string]string, len(m.tags)+len(tags))
	for k, v := range m.tags {
		allTags[k] = v
	}
	for k, v := range tags {
		allTags[k] = v
	}
	// Construct fields for logrus (just satisfying the type system)
	fields := make(map[string]interface{}, len(allTags)+1)
	for k, v := range allTags {
		fields[k] = v
	}
	fields["prefix"] = m.prefix // don't allow overwrite "prefix"
	return &metricsMonitor{
		Entry:     m.Entry.WithFields(fields),
		collector: m.collector,
		tags:      allTags,
		prefix:    m.prefix,
	}
}

func (m *metricsMonitor) WithTag(key, value string) Monitor {
	return m.WithTags(map[string]string{key: value})
}

func (m *metricsMonitor) WithPrefix(prefix string) Monitor {
	completePrefix := prefix
	if m.prefix != "" {
		completePrefix = m.prefix + "." + prefix
	}
	return &metricsMonitor{
		Entry:     m.Entry.WithField("prefix", completePrefix),
		collector: m.collector,
		tags:      m.tags,
		prefix:    completePrefix,
	}
}
