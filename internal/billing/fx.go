// Package billing wires the reconciliation core into the fx graph.
package billing

import (
	"github.com/anuaedu/cobranca/internal/billing/charge"
	"github.com/anuaedu/cobranca/internal/billing/generator"
	"github.com/anuaedu/cobranca/internal/billing/reconciler"
	"github.com/anuaedu/cobranca/internal/gateway"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(
		reconciler.New,
		generator.New,
		charge.New,
		func(registry *gateway.Registry) charge.ClientProvider { return registry },
	),
)
