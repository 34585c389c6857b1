package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// ServiceBusScope is the Azure AD scope for Relay data-plane access
const ServiceBusScope = "https://servicebus.azure.net/.default"

// TokenProvider returns the credential presented on a hybrid connection control channel
type TokenProvider interface {
	Token(ctx context.Context, hybridConnectionName string) (string, error)
}

// ManagedIdentityTokenProvider provides Azure AD tokens using Managed Identity
// It caches tokens and refreshes them proactively before expiry
type ManagedIdentityTokenProvider struct {
	credential azcore.TokenCredential
	scope      string
	mu         sync.RWMutex
	token      *azcore.AccessToken
}

// NewManagedIdentityTokenProvider creates a token provider backed by DefaultAzureCredential
func NewManagedIdentityTokenProvider() (*ManagedIdentityTokenProvider, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}
	return NewCredentialTokenProvider(credential), nil
}

// NewCredentialTokenProvider creates a token provider backed by the given credential
func NewCredentialTokenProvider(credential azcore.TokenCredential) *ManagedIdentityTokenProvider {
	return &ManagedIdentityTokenProvider{
		credential: credential,
		scope:      ServiceBusScope,
	}
}

// Token implements TokenProvider. AAD tokens are namespace-wide so the name is unused.
func (p *ManagedIdentityTokenProvider) Token(ctx context.Context, _ string) (string, error) {
	return p.GetToken(ctx)
}

// GetToken returns a valid Azure AD access token, using cache when possible
func (p *ManagedIdentityTokenProvider) GetToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.token != nil && time.Until(p.token.ExpiresOn) > 5*time.Minute {
		token := p.token.Token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if p.token != nil && time.Until(p.token.ExpiresOn) > 5*time.Minute {
		return p.token.Token, nil
	}

	tokenResponse, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{p.scope},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	p.token = &tokenResponse
	return tokenResponse.Token, nil
}
