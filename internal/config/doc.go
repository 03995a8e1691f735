// Package config loads the activation daemon configuration.
//
// Sources, lowest precedence first:
//
//  1. Defaults from Default
//  2. A YAML file named by NOTIFLOGGER_CONFIG_FILE, or config.yaml /
//     configs/config.yaml when present
//  3. Environment variables prefixed NOTIFLOGGER_, optionally loaded
//     from a .env file first
//
// Nested sections map to underscored names:
//
//	NOTIFLOGGER_SERVER_PORT=8787
//	NOTIFLOGGER_ACTIVATION_STORE_BACKEND=redis
//	NOTIFLOGGER_ACTIVATION_STORE_REDIS_ADDR=localhost:6379
//	NOTIFLOGGER_ACTIVATION_DEVICE_SOURCE=file
//	NOTIFLOGGER_ACTIVATION_DEVICE_FILE=/etc/machine-id
//
// Relative paths in the Activation section resolve against
// Paths.DataDir.
package config
