// Package config provides configuration management for SABA devices.
//
// This package handles loading and validation of device configuration from
// JSON, YAML or TOML files and SABA_* environment variables.
//
// # Core Components
//
// Config: device identity, broker transport, control loop intervals, job
// queue sizing, HTTP gateway, logging and validation switches.
//
// Loader: merges defaults, file layers and environment overrides. Layers are
// deep-merged so a later file only needs the keys it changes.
//
// Provisioning: the {endpoint_host, endpoint_port, device_id} view a device
// needs before it can connect.
//
// SafeConfig: thread-safe wrapper using RWMutex and deep cloning.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/device.yaml")
//	loader.AddLayer("configs/site.toml") // Overrides device.yaml
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Overrides
//
// Environment variables win over every file layer:
//
//	SABA_DEVICE_ID=dev-A1B2C3
//	SABA_TRANSPORT=nats
//	SABA_ENDPOINT_HOST=broker.local
//	SABA_ENDPOINT_PORT=4222
//	SABA_STATUS_INTERVAL=15s
//
// # Durations
//
// Duration fields accept Go duration strings ("30s", "5m") and "14d" style day
// counts. Bare numbers are milliseconds.
//
// # Device Identity
//
// When device.id is empty the runtime calls ResolveDeviceID, which derives
// "dev-XXXXXX" from the last three bytes of the first hardware address and
// falls back to the hostname.
package config
