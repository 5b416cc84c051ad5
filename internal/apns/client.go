// Package apns submits live-activity pushes to Apple's provider API using
// provider-token (ES256 JWT) authentication.
package apns

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/matchpulse/matchpulse/internal/config"
	"github.com/matchpulse/matchpulse/internal/push"
)

const (
	productionHost = "https://api.push.apple.com"
	sandboxHost    = "https://api.sandbox.push.apple.com"

	// Apple rejects provider tokens older than an hour; refresh ahead of
	// that.
	tokenLifetime = 50 * time.Minute
)

// Client implements push.Transport against the APNs provider API.
type Client struct {
	httpClient *http.Client
	host       string
	topic      string
	keyID      string
	teamID     string
	key        *ecdsa.PrivateKey
	logger     zerolog.Logger

	mu            sync.Mutex
	providerToken string
	tokenIssuedAt time.Time
}

// NewClient loads the signing key and creates a transport client.
func NewClient(cfg config.APNSConfig, logger zerolog.Logger) (*Client, error) {
	keyData, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNS key: %w", err)
	}

	key, err := jwt.ParseECPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNS key: %w", err)
	}

	host := productionHost
	if cfg.UseSandbox {
		host = sandboxHost
	}

	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		host:       host,
		topic:      cfg.Topic + ".push-type.liveactivity",
		keyID:      cfg.KeyID,
		teamID:     cfg.TeamID,
		key:        key,
		logger:     logger.With().Str("component", "apns").Logger(),
	}, nil
}

// Send submits one notification. Token-invalidating rejections come back
// wrapped in push.ErrInvalidCredential; everything else is transient.
func (c *Client) Send(ctx context.Context, n push.Notification) error {
	token, err := c.currentProviderToken()
	if err != nil {
		return fmt.Errorf("failed to sign provider token: %w", err)
	}

	body, err := json.Marshal(buildPayload(n))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", c.host, n.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("authorization", "bearer "+token)
	req.Header.Set("apns-topic", c.topic)
	req.Header.Set("apns-push-type", "liveactivity")
	req.Header.Set("apns-priority", strconv.Itoa(n.Priority))
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("apns request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var apnsErr struct {
		Reason string `json:"reason"`
	}
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &apnsErr)

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Str("reason", apnsErr.Reason).
		Str("event", string(n.Event)).
		Msg("APNS rejection")

	if credentialDead(apnsErr.Reason) {
		return fmt.Errorf("%w: %s", push.ErrInvalidCredential, apnsErr.Reason)
	}
	return fmt.Errorf("apns returned %d: %s", resp.StatusCode, apnsErr.Reason)
}

// credentialDead reports whether an APNs rejection reason means the device
// token is permanently unusable.
func credentialDead(reason string) bool {
	switch reason {
	case "BadDeviceToken", "Unregistered", "ExpiredToken", "DeviceTokenNotForTopic":
		return true
	}
	return false
}

// buildPayload renders the notification into the APNs aps dictionary.
func buildPayload(n push.Notification) map[string]interface{} {
	aps := map[string]interface{}{
		"timestamp":     n.Timestamp,
		"event":         string(n.Event),
		"content-state": n.ContentState,
	}

	if n.Event == push.EventStart && n.Attributes != nil {
		aps["attributes-type"] = "MatchupActivityAttributes"
		aps["attributes"] = n.Attributes
	}
	if n.Alert != nil {
		alert := map[string]interface{}{
			"title": n.Alert.Title,
			"body":  n.Alert.Body,
		}
		if n.Alert.Sound != "" {
			alert["sound"] = n.Alert.Sound
		}
		aps["alert"] = alert
	}
	if n.DismissalDate > 0 {
		aps["dismissal-date"] = n.DismissalDate
	}

	return map[string]interface{}{"aps": aps}
}

// currentProviderToken returns a signed provider token, reusing the cached
// one until it nears Apple's age limit.
func (c *Client) currentProviderToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.providerToken != "" && now.Sub(c.tokenIssuedAt) < tokenLifetime {
		return c.providerToken, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": c.teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = c.keyID

	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", err
	}

	c.providerToken = signed
	c.tokenIssuedAt = now
	return signed, nil
}
