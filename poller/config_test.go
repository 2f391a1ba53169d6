package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Novaly-Studios/Cleaner/finalize"
	"github.com/Novaly-Studios/Cleaner/monitoring"
)

func TestConfigFromYAMLDefaults(t *testing.T) {
	config, err := ConfigFromYAML([]byte(""))
	require.NoError(t, err)
	require.Equal(t, DefaultInterval.Seconds(), config.IntervalSeconds)
	require.Equal(t, DefaultBudgetFraction, config.BudgetFraction)
	require.Equal(t, DefaultMinimumBudget, config.MinimumBudget)
}

func TestConfigFromYAML(t *testing.T) {
	config, err := ConfigFromYAML([]byte(`
intervalSeconds: 2.5
budgetFraction: 0.5
minimumBudget: 16
`))
	require.NoError(t, err)
	require.Equal(t, 2.5, config.IntervalSeconds)
	require.Equal(t, 0.5, config.BudgetFraction)
	require.Equal(t, 16, config.MinimumBudget)
}

func TestConfigFromYAMLPartial(t *testing.T) {
	config, err := ConfigFromYAML([]byte("intervalSeconds: 1\n"))
	require.NoError(t, err)
	require.Equal(t, 1.0, config.IntervalSeconds)
	require.Equal(t, DefaultBudgetFraction, config.BudgetFraction)
	require.Equal(t, DefaultMinimumBudget, config.MinimumBudget)
}

func TestConfigFromYAMLRejectsBadValues(t *testing.T) {
	_, err := ConfigFromYAML([]byte("budgetFraction: 2\n"))
	require.Error(t, err, "Expected a fraction above 1 to violate the schema")

	_, err = ConfigFromYAML([]byte("minimumBudget: 0\n"))
	require.Error(t, err)

	_, err = ConfigFromYAML([]byte("unknownSetting: true\n"))
	require.Error(t, err, "Expected additional properties to violate the schema")

	_, err = ConfigFromYAML([]byte("- a\n- list\n"))
	require.Error(t, err)

	_, err = ConfigFromYAML([]byte("intervalSeconds: [not, a, number]\n"))
	require.Error(t, err)
}

func TestConfigOptions(t *testing.T) {
	tracker := finalize.NewTracker(monitoring.NewMockMonitor(true))
	config, err := ConfigFromYAML([]byte("intervalSeconds: 0.25\n"))
	require.NoError(t, err)

	options := config.Options(tracker)
	require.Equal(t, tracker, options.Tracker)
	require.Equal(t, 250*time.Millisecond, options.Interval)

	p, err := New(options)
	require.NoError(t, err)
	p.Stop()
}
