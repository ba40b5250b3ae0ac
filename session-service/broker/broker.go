// Package broker negotiates remote desktop sessions with the gateway. Given
// a running instance's credential it asks the gateway to mint a short-lived
// session token and hands back the websocket URL the viewer streams from.
// The broker is stateless and never touches the registry.
package broker

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	goversion "github.com/hashicorp/go-version"
	"github.com/lithammer/shortuuid/v3"

	"github.com/hackrange/hackrange/backend/services/constants"
	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/config"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
	"github.com/hackrange/hackrange/backend/services/utils"
)

var (
	// ErrInvalidCredential means the gateway rejected the credential. Not
	// retryable, surfaces to the caller as an auth error.
	ErrInvalidCredential = errors.New("gateway rejected the session credential")

	// ErrGatewayUnreachable means the gateway could not be reached even
	// after retries.
	ErrGatewayUnreachable = errors.New("remote desktop gateway unreachable")

	// ErrGatewayOutdated means the gateway reports a version below the
	// minimum this service hands sessions to.
	ErrGatewayOutdated = errors.New("remote desktop gateway below minimum version")
)

// SessionHandle is what the viewer needs to open a streaming session. It is
// ephemeral: nothing about it is persisted, its lifecycle ends with the
// browser tab.
type SessionHandle struct {
	SessionID    types.SessionID `json:"session_id"`
	WSURL        string          `json:"ws_url"`
	Title        string          `json:"title"`
	DocumentRefs []string        `json:"document_refs,omitempty"`
}

// Client talks to the remote desktop gateway.
type Client struct {
	GatewayURL string
	HTTP       *http.Client
}

// tokenResponse is the gateway's answer to a token mint.
type tokenResponse struct {
	Token          string `json:"token"`
	GatewayVersion string `json:"gateway_version"`
}

// NewClient returns a broker client pointed at the configured gateway.
func NewClient() *Client {
	return &Client{
		GatewayURL: config.GetGatewayURL(),
		HTTP:       providers.NewRetryableClient(),
	}
}

// Initialize checks the gateway is reachable and new enough. A gateway below
// the minimum version is reported here so a bad pairing fails on startup,
// not on the first launch.
func (c *Client) Initialize(ctx context.Context) error {
	var version struct {
		Version string `json:"version"`
	}

	code, err := providers.DoJSON(ctx, c.HTTP, http.MethodGet,
		utils.Sprintf("%s/api/version", c.GatewayURL), nil, nil, &version)
	if err != nil {
		return utils.MakeError("gateway version check failed: %s: %w", err, ErrGatewayUnreachable)
	}

	if code >= http.StatusBadRequest {
		return utils.MakeError("gateway version check returned %d: %w", code, ErrGatewayUnreachable)
	}

	if err := checkGatewayVersion(version.Version); err != nil {
		return err
	}

	rangelogger.Infof("Connected to gateway %s running version %s", c.GatewayURL, version.Version)

	return nil
}

// Connect asks the gateway to mint a session token for the credential and
// assembles the session handle the viewer consumes.
func (c *Client) Connect(ctx context.Context, lab subscriptions.LabDefinition, credential subscriptions.Credential) (SessionHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DefaultBrokerTimeout)
	defer cancel()

	body := map[string]interface{}{
		"protocol": credential.Protocol,
		"hostname": credential.Hostname,
		"port":     credential.Port,
		"username": credential.Username,
		"password": credential.Password,
	}

	headers := map[string]string{
		"X-Request-ID": shortuuid.New(),
	}

	var minted tokenResponse

	code, err := providers.DoJSON(ctx, c.HTTP, http.MethodPost,
		utils.Sprintf("%s/api/session/tokens", c.GatewayURL), headers, body, &minted)
	if err != nil {
		return SessionHandle{}, utils.MakeError("token mint failed: %s: %w", err, ErrGatewayUnreachable)
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return SessionHandle{}, utils.MakeError("token mint returned %d: %w", code, ErrInvalidCredential)
	case code >= http.StatusBadRequest:
		return SessionHandle{}, utils.MakeError("token mint returned %d: %w", code, ErrGatewayUnreachable)
	case minted.Token == "":
		return SessionHandle{}, utils.MakeError("gateway returned an empty session token: %w", ErrGatewayUnreachable)
	}

	if err := checkGatewayVersion(minted.GatewayVersion); err != nil {
		return SessionHandle{}, err
	}

	wsURL, err := c.sessionURL(minted.Token)
	if err != nil {
		return SessionHandle{}, err
	}

	return SessionHandle{
		SessionID:    types.SessionID(shortuuid.New()),
		WSURL:        wsURL,
		Title:        utils.Sprintf("Lab %s", lab.ID),
		DocumentRefs: documentRefs(lab),
	}, nil
}

// sessionURL turns the gateway base URL and a minted token into the
// websocket URL the viewer dials.
func (c *Client) sessionURL(token string) (string, error) {
	parsed, err := url.Parse(c.GatewayURL)
	if err != nil {
		return "", utils.MakeError("malformed gateway URL %s: %s", c.GatewayURL, err)
	}

	scheme := "wss"
	if parsed.Scheme == "http" {
		scheme = "ws"
	}

	return utils.Sprintf("%s://%s/session/%s", scheme, parsed.Host, token), nil
}

// checkGatewayVersion compares a version the gateway reports against the
// configured minimum.
func checkGatewayVersion(reported string) error {
	if reported == "" {
		return nil
	}

	gatewayVersion, err := goversion.NewVersion(reported)
	if err != nil {
		return utils.MakeError("gateway reported a malformed version %q: %s", reported, err)
	}

	minVersion, err := goversion.NewVersion(config.GetMinGatewayVersion())
	if err != nil {
		return utils.MakeError("malformed minimum gateway version %q: %s", config.GetMinGatewayVersion(), err)
	}

	if gatewayVersion.LessThan(minVersion) {
		return utils.MakeError("gateway version %s is below minimum %s: %w", gatewayVersion, minVersion, ErrGatewayOutdated)
	}

	return nil
}

// documentRefs resolves the viewer deep links for labs that ship learning
// modules.
func documentRefs(lab subscriptions.LabDefinition) []string {
	if lab.ModuleLayout != "with-modules" {
		return nil
	}

	return []string{utils.Sprintf("https://docs.hackrange.dev/labs/%s", lab.ID)}
}
