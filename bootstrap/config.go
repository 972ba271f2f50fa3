package bootstrap

import "github.com/kbukum/noticemux/config"

// Config is the constraint for daemon configuration types. Structs that
// embed config.ServiceConfig get GetServiceConfig by promotion.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
