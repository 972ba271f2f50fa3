// Package logger provides structured logging for noticemux built on zerolog.
//
// It supports JSON and console output, level configuration and
// component-scoped loggers carrying structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("mux")
//	log.Info("port attached", logger.Fields("port_id", id))
package logger
