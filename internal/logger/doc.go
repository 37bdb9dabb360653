// Package logger provides component-scoped structured logging for the relay.
//
// Usage:
//
//	log := logger.WithComponent(logger.ComponentRelay)
//	log.Info("transfer started", map[string]interface{}{
//		"transfer_id": id,
//		"resolution":  "720p",
//	})
//
// Components are enabled individually; a message from a disabled component is
// dropped regardless of level. Configuration is normally built from the "log"
// section of the service configuration (see LogConfig) or from YTRELAY_LOG_*
// environment variables.
package logger
