// Package config handles loading and validating Gray Logic Comm configuration.
//
// This package manages:
//   - Loading configuration from YAML or TOML files (chosen by extension)
//   - Overriding with environment variables
//   - Validation of required fields and link definitions
//   - Default value handling and per-link inheritance of comm defaults
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/comm.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	specs := cfg.Comm.LinkSpecs()
//
// The file is re-read on SIGHUP; only the comm.links section takes effect
// without a restart.
package config
