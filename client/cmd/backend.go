package cmd

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	azrelay "github.com/julienstroheker/hexagent/internal/azure/relay"
	"github.com/julienstroheker/hexagent/internal/config"
	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/relay"
)

// newBackend builds the relay backend selected by the configured mode
func newBackend(c *config.Config, log *logging.Logger) (relay.Backend, error) {
	switch c.Mode {
	case config.ModeLocal:
		return relay.NewMemoryBackend(), nil

	case config.ModeRemote:
		return relay.NewWebSocketBackend(&relay.WebSocketOptions{
			Insecure: insecureFlag,
			Logger:   log.Named("relay"),
		}), nil

	case config.ModeAzure:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default credential: %w", err)
		}
		manager, err := azrelay.NewManager(&azrelay.ManagerOptions{
			SubscriptionID:    c.Azure.SubscriptionID,
			ResourceGroupName: c.Azure.ResourceGroup,
			NamespaceName:     c.Azure.Namespace,
			Credential:        cred,
		})
		if err != nil {
			return nil, err
		}

		var tokens azrelay.TokenProvider = azrelay.NewCredentialTokenProvider(cred)
		if c.Azure.KeyName != "" && c.Azure.Key != "" {
			tokens = &azrelay.SASTokenProvider{
				Namespace: c.Azure.Namespace,
				KeyName:   c.Azure.KeyName,
				Key:       c.Azure.Key,
			}
		}
		return relay.NewAzureBackend(&relay.AzureOptions{
			Namespace: c.Azure.Namespace,
			Manager:   manager,
			Tokens:    tokens,
			Logger:    log.Named("relay"),
		})

	default:
		return nil, fmt.Errorf("unsupported mode %q", c.Mode)
	}
}
