package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultSASExpiry is the lifetime of listener tokens minted by SASTokenProvider
const DefaultSASExpiry = 24 * time.Hour

// GenerateSASToken generates a Shared Access Signature token for Azure Relay
func GenerateSASToken(uri, keyName, key string, expiry time.Duration) (string, error) {
	uri = strings.TrimSuffix(uri, "/")

	expiryTimestamp := time.Now().Add(expiry).Unix()

	// String to sign: <url>\n<expiry>
	stringToSign := fmt.Sprintf("%s\n%d", url.QueryEscape(uri), expiryTimestamp)

	decodedKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("failed to decode key: %w", err)
	}

	h := hmac.New(sha256.New, decodedKey)
	h.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	// SharedAccessSignature sr=<url>&sig=<signature>&se=<expiry>&skn=<keyname>
	token := fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d&skn=%s",
		url.QueryEscape(uri),
		url.QueryEscape(signature),
		expiryTimestamp,
		url.QueryEscape(keyName),
	)

	return token, nil
}

// ResourceURI returns the https URI of a hybrid connection
func ResourceURI(relayNamespace, hybridConnectionName string) string {
	return fmt.Sprintf("https://%s.servicebus.windows.net/%s", relayNamespace, hybridConnectionName)
}

// GenerateListenerSASToken generates a SAS token with Listen rights for a Hybrid Connection
func GenerateListenerSASToken(
	relayNamespace, hybridConnectionName, keyName, key string, expiry time.Duration,
) (string, error) {
	return GenerateSASToken(ResourceURI(relayNamespace, hybridConnectionName), keyName, key, expiry)
}

// SASTokenProvider mints listener tokens from a namespace shared access key
type SASTokenProvider struct {
	Namespace string
	KeyName   string
	Key       string
	Expiry    time.Duration
}

// Token implements TokenProvider
func (p *SASTokenProvider) Token(ctx context.Context, hybridConnectionName string) (string, error) {
	expiry := p.Expiry
	if expiry <= 0 {
		expiry = DefaultSASExpiry
	}
	return GenerateListenerSASToken(p.Namespace, hybridConnectionName, p.KeyName, p.Key, expiry)
}
