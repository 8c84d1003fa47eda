// Package registration talks to the remote push bridge service: it obtains
// and rotates the device identifier, registers and removes channels remotely,
// and applies the retry policy for transient failures.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// HTTPConnection is the live push.Connection speaking the bridge HTTP
// interface. All registration state is scoped by the sender (application)
// identifier issued when the application enrolled with the bridge service.
type HTTPConnection struct {
	baseURL    string
	senderID   string
	bridgeType push.BridgeType
	client     *http.Client
	logger     *slog.Logger
}

// NewHTTPConnection builds a connection against e.g.
// "https://updates.push.example.com". The bridge type is fixed per
// installation and becomes part of every registration path. A nil httpClient
// gets a default with a 30s timeout.
func NewHTTPConnection(baseURL, senderID string, bridgeType push.BridgeType, httpClient *http.Client, logger *slog.Logger) *HTTPConnection {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPConnection{
		baseURL:    baseURL,
		senderID:   senderID,
		bridgeType: bridgeType,
		client:     httpClient,
		logger:     logger.With("component", "BridgeConnection"),
	}
}

type registerRequest struct {
	Token string  `json:"token"`
	Key   *string `json:"key,omitempty"`
}

type registerResponse struct {
	UAID      string `json:"uaid"`
	Secret    string `json:"secret"`
	ChannelID string `json:"channelID"`
	Endpoint  string `json:"endpoint"`
}

type subscribeResponse struct {
	ChannelID string `json:"channelID"`
	Endpoint  string `json:"endpoint"`
}

type channelListResponse struct {
	UAID       string   `json:"uaid"`
	ChannelIDs []string `json:"channelIDs"`
}

func (c *HTTPConnection) RegisterDevice(ctx context.Context, bridgeType push.BridgeType, bridgeToken string) (*push.RegisterResponse, error) {
	if bridgeToken == "" {
		return nil, push.ErrMissingBridgeToken
	}
	var out registerResponse
	err := c.do(ctx, http.MethodPost, c.registrationPath(bridgeType), "", registerRequest{Token: bridgeToken}, &out, false)
	if err != nil {
		return nil, err
	}
	if out.UAID == "" || out.Secret == "" {
		return nil, &push.CommunicationError{Op: "register_device", Err: errors.New("bridge response missing uaid or secret")}
	}
	c.logger.Info("Device registered with bridge", "uaid", out.UAID)
	return &push.RegisterResponse{
		UAID:      out.UAID,
		AuthToken: out.Secret,
		ChannelID: out.ChannelID,
		Endpoint:  out.Endpoint,
	}, nil
}

func (c *HTTPConnection) UpdateToken(ctx context.Context, uaid, authToken, newBridgeToken string) error {
	if newBridgeToken == "" {
		return push.ErrMissingBridgeToken
	}
	path := fmt.Sprintf("%s/%s", c.registrationPathCurrent(), url.PathEscape(uaid))
	return c.do(ctx, http.MethodPut, path, authToken, registerRequest{Token: newBridgeToken}, nil, true)
}

func (c *HTTPConnection) SubscribeChannel(ctx context.Context, uaid, authToken, channelID string, appServerKey *string) (string, error) {
	path := fmt.Sprintf("%s/%s/subscription", c.registrationPathCurrent(), url.PathEscape(uaid))
	body := map[string]any{"channelID": channelID}
	if appServerKey != nil {
		body["key"] = *appServerKey
	}
	var out subscribeResponse
	if err := c.do(ctx, http.MethodPost, path, authToken, body, &out, true); err != nil {
		return "", err
	}
	if out.Endpoint == "" {
		return "", &push.CommunicationError{Op: "subscribe_channel", Err: errors.New("bridge response missing endpoint")}
	}
	return out.Endpoint, nil
}

func (c *HTTPConnection) UnsubscribeChannel(ctx context.Context, uaid, authToken, channelID string) error {
	path := fmt.Sprintf("%s/%s/subscription/%s", c.registrationPathCurrent(), url.PathEscape(uaid), url.PathEscape(channelID))
	return c.do(ctx, http.MethodDelete, path, authToken, nil, nil, true)
}

func (c *HTTPConnection) UnregisterDevice(ctx context.Context, uaid, authToken string) error {
	path := fmt.Sprintf("%s/%s", c.registrationPathCurrent(), url.PathEscape(uaid))
	return c.do(ctx, http.MethodDelete, path, authToken, nil, nil, true)
}

func (c *HTTPConnection) ChannelList(ctx context.Context, uaid, authToken string) ([]string, error) {
	path := fmt.Sprintf("%s/%s", c.registrationPathCurrent(), url.PathEscape(uaid))
	var out channelListResponse
	if err := c.do(ctx, http.MethodGet, path, authToken, nil, &out, true); err != nil {
		return nil, err
	}
	return out.ChannelIDs, nil
}

func (c *HTTPConnection) registrationPath(bridgeType push.BridgeType) string {
	return fmt.Sprintf("%s/v1/%s/%s/registration", c.baseURL, bridgeType, url.PathEscape(c.senderID))
}

func (c *HTTPConnection) registrationPathCurrent() string {
	return c.registrationPath(c.bridgeType)
}

// do issues one request and classifies the outcome. deviceScoped marks calls
// addressed to a specific UAID, where the bridge answers 404/410 when the
// identifier has been invalidated.
func (c *HTTPConnection) do(ctx context.Context, method, rawURL, authToken string, body, out any, deviceScoped bool) error {
	var reqBody *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &push.CommunicationError{Op: method + " " + rawURL, Err: err}
		}
		reqBody = bytes.NewReader(encoded)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return &push.CommunicationError{Op: method + " " + rawURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "webpush "+authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are worth retrying.
		return &push.CommunicationError{Op: method + " " + rawURL, Err: err, Transient: isTimeout(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &push.CommunicationError{Op: method + " " + rawURL, Err: fmt.Errorf("malformed bridge response: %w", err)}
		}
		return nil
	case resp.StatusCode == http.StatusGone,
		deviceScoped && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized):
		return push.ErrUAIDGone
	case resp.StatusCode >= 500:
		return &push.CommunicationError{Op: method + " " + rawURL, Status: resp.StatusCode, Transient: true}
	default:
		return &push.CommunicationError{Op: method + " " + rawURL, Status: resp.StatusCode}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
