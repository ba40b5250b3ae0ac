package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/hackrange/hackrange/backend/services/session-service/config"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
)

var testLab = subscriptions.LabDefinition{
	ID:           types.LabID("lab-cloud-breach"),
	Provider:     types.ProviderAWSEC2,
	ModuleLayout: "with-modules",
}

var testCredential = subscriptions.Credential{
	Username: "student",
	Password: "hunter2",
	Protocol: "rdp",
	Hostname: "10.0.0.4",
	Port:     3389,
}

func TestMain(m *testing.M) {
	// The local build path seeds the configuration singleton with a
	// minimum gateway version of 0.0.0.
	if err := config.Initialize(context.Background(), nil); err != nil {
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// newFakeGateway returns a gateway that mints the token "abc" for the test
// credential and rejects everything else.
func newFakeGateway(t *testing.T, gatewayVersion string) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			json.NewEncoder(w).Encode(map[string]string{"version": gatewayVersion})

		case "/api/session/tokens":
			var body struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			json.NewDecoder(r.Body).Decode(&body)

			if body.Username != testCredential.Username || body.Password != testCredential.Password {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			json.NewEncoder(w).Encode(tokenResponse{Token: "abc", GatewayVersion: gatewayVersion})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	return &Client{GatewayURL: srv.URL, HTTP: srv.Client()}, srv
}

func TestConnect(t *testing.T) {
	client, _ := newFakeGateway(t, "1.2.0")

	handle, err := client.Connect(context.Background(), testLab, testCredential)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if !strings.HasSuffix(handle.WSURL, "/session/abc") || !strings.HasPrefix(handle.WSURL, "ws://") {
		t.Errorf("expected a websocket session URL, got %s", handle.WSURL)
	}

	if handle.SessionID == "" {
		t.Errorf("expected a session id on the handle")
	}

	if handle.Title != "Lab lab-cloud-breach" {
		t.Errorf("unexpected session title %s", handle.Title)
	}

	if len(handle.DocumentRefs) != 1 {
		t.Errorf("expected a document ref for a with-modules lab, got %v", handle.DocumentRefs)
	}
}

func TestConnectInvalidCredential(t *testing.T) {
	client, _ := newFakeGateway(t, "1.2.0")

	badCredential := testCredential
	badCredential.Password = "wrong"

	_, err := client.Connect(context.Background(), testLab, badCredential)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected the invalid-credential sentinel, got %v", err)
	}
}

func TestConnectGatewayDown(t *testing.T) {
	client, srv := newFakeGateway(t, "1.2.0")
	srv.Close()
	client.HTTP = http.DefaultClient

	_, err := client.Connect(context.Background(), testLab, testCredential)
	if !errors.Is(err, ErrGatewayUnreachable) {
		t.Errorf("expected the gateway-unreachable sentinel, got %v", err)
	}
}

func TestConnectOutdatedGateway(t *testing.T) {
	config.SetGatewayVersion(subscriptions.ServiceVersion{DevGatewayVersion: "2.0.0"})
	defer config.SetGatewayVersion(subscriptions.ServiceVersion{DevGatewayVersion: "0.0.0"})

	client, _ := newFakeGateway(t, "1.2.0")

	_, err := client.Connect(context.Background(), testLab, testCredential)
	if !errors.Is(err, ErrGatewayOutdated) {
		t.Errorf("expected the outdated-gateway sentinel, got %v", err)
	}
}

func TestInitialize(t *testing.T) {
	client, _ := newFakeGateway(t, "1.2.0")

	if err := client.Initialize(context.Background()); err != nil {
		t.Errorf("did not expect an error, got %s", err)
	}

	config.SetGatewayVersion(subscriptions.ServiceVersion{DevGatewayVersion: "2.0.0"})
	defer config.SetGatewayVersion(subscriptions.ServiceVersion{DevGatewayVersion: "0.0.0"})

	if err := client.Initialize(context.Background()); !errors.Is(err, ErrGatewayOutdated) {
		t.Errorf("expected the outdated-gateway sentinel, got %v", err)
	}
}

func TestSessionURL(t *testing.T) {
	client := &Client{GatewayURL: "https://gateway.hackrange.dev"}

	wsURL, err := client.sessionURL("abc")
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if wsURL != "wss://gateway.hackrange.dev/session/abc" {
		t.Errorf("expected a secure websocket URL, got %s", wsURL)
	}
}

func TestDocumentRefs(t *testing.T) {
	bare := testLab
	bare.ModuleLayout = "without-modules"

	if refs := documentRefs(bare); refs != nil {
		t.Errorf("expected no document refs for a without-modules lab, got %v", refs)
	}
}
