// Package config handles loading and validating control bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The device section is only the startup value. The relay keeps its own
// runtime copy which can be changed through the API without a restart.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Host, cfg.Device.Port)
package config
