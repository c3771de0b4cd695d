// Package config loads and validates devlink configuration.
//
// A configuration file is JSON, or YAML when its extension is .yaml or .yml.
// Files are layered over Defaults, checked against an embedded JSON schema,
// and then adjusted by DEVLINK_* environment variables:
//
//	loader := config.NewLoader()
//	loader.AddLayer("devlink.yaml")
//	loader.AddLayer("site-overrides.json")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Each entry under "connections" describes one managed connection:
//
//	connections:
//	  projector:
//	    type: tcp
//	    dest: 10.0.0.5:4352
//	    receive_delimiters: "\r"
//	    request_timeout: 5s
//
// Durations are Go duration strings ("500ms", "2m", "1d") or a number of
// milliseconds. ConnectionConfig.Options turns an entry into engine options.
//
// Recognised environment overrides are DEVLINK_LOG_LEVEL, DEVLINK_LOG_FORMAT,
// DEVLINK_NATS_URLS (comma separated), DEVLINK_NATS_USERNAME,
// DEVLINK_NATS_PASSWORD, DEVLINK_NATS_TOKEN, DEVLINK_BRIDGE_PREFIX,
// DEVLINK_METRICS_PORT and DEVLINK_GATEWAY_PORT.
package config
