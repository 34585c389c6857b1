package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

type fakeCredential struct {
	token  string
	expiry time.Duration
	err    error
	calls  atomic.Int32
	scopes []string
}

func (c *fakeCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.calls.Add(1)
	c.scopes = opts.Scopes
	if c.err != nil {
		return azcore.AccessToken{}, c.err
	}
	expiry := c.expiry
	if expiry == 0 {
		expiry = time.Hour
	}
	return azcore.AccessToken{Token: c.token, ExpiresOn: time.Now().Add(expiry)}, nil
}

func TestCredentialTokenProvider_Caches(t *testing.T) {
	cred := &fakeCredential{token: "aad-token"}
	provider := NewCredentialTokenProvider(cred)

	for i := 0; i < 3; i++ {
		token, err := provider.Token(context.Background(), "hc-any")
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if token != "aad-token" {
			t.Errorf("Token() = %q, want aad-token", token)
		}
	}

	if got := cred.calls.Load(); got != 1 {
		t.Errorf("credential called %d times, want 1", got)
	}
	if len(cred.scopes) != 1 || cred.scopes[0] != ServiceBusScope {
		t.Errorf("scopes = %v, want [%s]", cred.scopes, ServiceBusScope)
	}
}

func TestCredentialTokenProvider_RefreshesNearExpiry(t *testing.T) {
	cred := &fakeCredential{token: "short", expiry: time.Minute}
	provider := NewCredentialTokenProvider(cred)

	if _, err := provider.GetToken(context.Background()); err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if _, err := provider.GetToken(context.Background()); err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}

	if got := cred.calls.Load(); got != 2 {
		t.Errorf("credential called %d times, want 2", got)
	}
}

func TestCredentialTokenProvider_Error(t *testing.T) {
	provider := NewCredentialTokenProvider(&fakeCredential{err: errors.New("no identity")})

	if _, err := provider.GetToken(context.Background()); err == nil {
		t.Error("expected an error from a failing credential")
	}
}
