package poller

import (
	"fmt"
	"time"

	schematypes "github.com/taskcluster/go-schematypes"
	yaml "gopkg.in/yaml.v2"

	"github.com/Novaly-Studios/Cleaner/finalize"
)

// Config holds the tunable poller settings a deployment declares in YAML.
// Zero values are filled with the package defaults when loaded.
type Config struct {
	IntervalSeconds float64 `json:"intervalSeconds"`
	BudgetFraction  float64 `json:"budgetFraction"`
	MinimumBudget   int     `json:"minimumBudget"`
}

// ConfigSchema returns the schema for Config.
func ConfigSchema() schematypes.Object {
	return schematypes.Object{
		Title:       "Poller Configuration",
		Description: "Schedule and per-tick budget for the finalization poller.",
		Properties: schematypes.Properties{
			"intervalSeconds": schematypes.Number{
				Title:       "Poll interval in seconds",
				Description: "Time between ticks. Finalizers fire at most this long plus one full scan cycle after collection.",
				Minimum: 0.001,
				Maximum: 24 * 60 * 60,
			},
			"budgetFraction": schematypes.Number{
				Title:       "Per-tick budget fraction",
				Description: "Share of currently tracked entries visited per tick. At 0.25 the whole tracker is scanned within four ticks.",
				Minimum: 0.001,
				Maximum: 1,
			},
			"minimumBudget": schematypes.Integer{
				Title:       "Per-tick budget floor",
				Description: "Entries visited per tick regardless of budgetFraction, so small trackers are polled promptly.",
				Minimum: 1,
				Maximum: 1000000,
			},
		},
	}
}

// ConfigFromYAML parses and validates a YAML config document, filling absent
// properties with defaults.
func ConfigFromYAML(data []byte) (Config, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("poller: failed to parse YAML config, error: %s", err)
	}
	// yaml.Unmarshal generates map[interface{}]interface{} where the schema
	// validation needs map[string]interface{}
	raw = convertSimpleJSONTypes(raw)

	c, ok := raw.(map[string]interface{})
	if raw == nil {
		c = make(map[string]interface{})
	} else if !ok {
		return Config{}, fmt.Errorf("poller: expected top-level config value to be an object")
	}
	if _, present := c["intervalSeconds"]; !present {
		c["intervalSeconds"] = DefaultInterval.Seconds()
	}
	if _, present := c["budgetFraction"]; !present {
		c["budgetFraction"] = DefaultBudgetFraction
	}
	if _, present := c["minimumBudget"]; !present {
		c["minimumBudget"] = float64(DefaultMinimumBudget)
	}

	var config Config
	if err := schematypes.MustMap(ConfigSchema(), c, &config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Options expands the config into poller Options for tracker.
func (c Config) Options(tracker *finalize.Tracker) Options {
	return Options{
		Tracker:        tracker,
		Interval:       time.Duration(c.IntervalSeconds * float64(time.Second)),
		BudgetFraction: c.BudgetFraction,
		MinimumBudget:  c.MinimumBudget,
	}
}

// convertSimpleJSONTypes rewrites the composite types yaml.Unmarshal creates
// into their JSON-compatible equivalents.
func convertSimpleJSONTypes(val interface{}) interface{} {
	switch val := val.(type) {
	case []interface{}:
		r := make([]interface{}, len(val))
		for i, v := range val {
			r[i] = convertSimpleJSONTypes(v)
		}
		return r
	case map[interface{}]interface{}:
		r := make(map[string]interface{})
		for k, v := range val {
			s, ok := k.(string)
			if !ok {
				s = fmt.Sprintf("%v", k)
			}
			r[s] = convertSimpleJSONTypes(v)
		}
		return r
	case int:
		return float64(val)
	default:
		return val
	}
}
