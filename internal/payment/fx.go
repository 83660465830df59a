package payment

import (
	"github.com/asterhq/tally/internal/config"
	"github.com/asterhq/tally/internal/payment/client"
	paymentdomain "github.com/asterhq/tally/internal/payment/domain"
	"github.com/asterhq/tally/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(ProvideProcessor),
	fx.Provide(ProvideVerifier),
)

func ProvideProcessor(cfg config.Config) paymentdomain.Processor {
	return client.New(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey)
}

func ProvideVerifier(cfg config.Config) (*webhook.Verifier, error) {
	return webhook.NewVerifier(cfg.WebhookSecret)
}
