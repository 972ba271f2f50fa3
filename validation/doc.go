// Package validation provides input validation for noticemux.
//
// Struct tag validation (go-playground/validator) is used for inbound
// init options; the programmatic Validator collects errors for config
// sections.
//
// # Struct Tag Validation
//
//	type InitOptions struct {
//	    SSEURL string `json:"sseUrl" validate:"required"`
//	}
//	err := validation.Validate(opts)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Required("gateway.host", cfg.Host).Range("gateway.port", cfg.Port, 0, 65535)
//	err := v.Validate()
package validation
