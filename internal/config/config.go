// Package config parses the DFO's recognized option set (spec.md 6) from a
// YAML file or DFO_-prefixed environment variables, using viper the way the
// rest of the retrieval pack's CLI tools do.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/eljelink/dfo/internal/registry"
)

// DataflowApplication is one entry of the dataflow_applications config
// list. Capacity is a shorthand for BusyThreshold == FreeThreshold and is
// used only when both BusyThreshold and FreeThreshold are zero; if either
// threshold is set, the two thresholds are used as given and Capacity is
// ignored.
type DataflowApplication struct {
	DecisionConnection string `mapstructure:"decision_connection"`
	Capacity            int   `mapstructure:"capacity"`
	BusyThreshold       int   `mapstructure:"busy_threshold"`
	FreeThreshold       int   `mapstructure:"free_threshold"`
}

// Config is the fully parsed and validated recognized option set.
type Config struct {
	DataflowApplications []DataflowApplication `mapstructure:"dataflow_applications"`
	GeneralQueueTimeoutMS int                  `mapstructure:"general_queue_timeout_ms"`
	TokenConnection       string               `mapstructure:"token_connection"`
	TDSendRetries         int                  `mapstructure:"td_send_retries"`
}

// GeneralQueueTimeout returns the configured timeout as a time.Duration.
func (c Config) GeneralQueueTimeout() time.Duration {
	return time.Duration(c.GeneralQueueTimeoutMS) * time.Millisecond
}

// AppSpecs converts the raw config entries into registry.AppSpec, resolving
// the capacity shorthand.
func (c Config) AppSpecs() []registry.AppSpec {
	specs := make([]registry.AppSpec, 0, len(c.DataflowApplications))
	for _, app := range c.DataflowApplications {
		busy, free := app.BusyThreshold, app.FreeThreshold
		if busy == 0 && free == 0 {
			busy, free = app.Capacity, app.Capacity
		}
		specs = append(specs, registry.AppSpec{
			ConnectionName: app.DecisionConnection,
			BusyThreshold:  busy,
			FreeThreshold:  free,
		})
	}
	return specs
}

// Validate enforces busy_threshold >= free_threshold for every entry and
// that td_send_retries >= 1, so a misconfigured file fails at load time
// rather than the first time a WorkerLoad is constructed.
func (c Config) Validate() error {
	if c.TDSendRetries < 1 {
		return fmt.Errorf("dfo: td_send_retries must be >= 1, got %d", c.TDSendRetries)
	}
	for _, spec := range c.AppSpecs() {
		if spec.BusyThreshold < spec.FreeThreshold {
			return fmt.Errorf("dfo: dataflow application %q has busy_threshold %d < free_threshold %d",
				spec.ConnectionName, spec.BusyThreshold, spec.FreeThreshold)
		}
		if spec.ConnectionName == "" {
			return fmt.Errorf("dfo: dataflow application entry missing decision_connection")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general_queue_timeout_ms", 100)
	v.SetDefault("td_send_retries", 1)
}

// Load reads configuration from path (YAML) if non-empty, overlaying
// DFO_-prefixed environment variables, and returns a validated Config.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DFO")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("dfo: reading config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("dfo: parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
