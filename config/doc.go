// Package config loads the runtime's process-wide knobs: deduplication window and
// capacity, stream backpressure, retry policy defaults, event-sourcing behavior, the
// persistence backend selection, and telemetry export settings.
//
// Loading follows defaults -> YAML file -> environment variables, in that priority
// order, the same as the rest of the collaborator stack:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("gagent.yaml").
//	    WithEnvPrefix("GAGENT").
//	    Load()
package config
