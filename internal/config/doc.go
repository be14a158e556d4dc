// Package config loads devicegate settings.
//
// Sources are applied in increasing order of precedence:
//
//  1. Built-in defaults (Default).
//  2. An optional YAML file (--config or MACHINEID_CONFIG). The file is checked
//     against an embedded CUE schema first, so misspelled keys and malformed
//     durations are rejected instead of silently ignored.
//  3. MACHINEID_* environment variables, read with envconfig.
//  4. Command-line flags, applied by the cli package.
//
// Validate runs last, after flags, and enforces the rules every run needs:
// an org_ prefixed organization key, a URL base, positive timeouts.
//
// Environment variables:
//
//	MACHINEID_ORG_KEY          organization key (required)
//	MACHINEID_DEVICE_ID        device identifier override
//	MACHINEID_BASE_URL         licensing service URL
//	MACHINEID_TIMEOUT          per-call timeout, e.g. 10s
//	MACHINEID_VALIDATE_DELAY   pause between register and validate
//	MACHINEID_JOURNAL          SQLite journal path
//	MACHINEID_PUSHGATEWAY      Prometheus Pushgateway URL
//	MACHINEID_TRACE            print trace spans to stderr
//	MACHINEID_TASK_MODEL       chat model for the downstream task
//	MACHINEID_TASK_BASE_URL    OpenAI-compatible endpoint for the task
//	MACHINEID_CONFIG           YAML config file
package config
