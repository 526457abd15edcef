package gateway

import (
	"github.com/anuaedu/cobranca/internal/config"
	"github.com/anuaedu/cobranca/internal/gateway/asaas"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(NewDefaultRegistry),
)

func NewDefaultRegistry(cfg config.Config) *Registry {
	return NewRegistry(
		asaas.NewFactory(cfg.GatewayBaseURL),
	)
}
