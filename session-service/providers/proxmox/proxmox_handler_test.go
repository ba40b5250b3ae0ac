package proxmox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
)

// fakeProxmox simulates the slice of the Proxmox VE API the handler uses,
// keeping an in-memory VM table.
type fakeProxmox struct {
	mu     sync.Mutex
	vms    map[string]string // vmid -> status
	locks  map[string]string // vmid -> lock
	nextID int
}

func newFakeProxmox() *fakeProxmox {
	return &fakeProxmox{
		vms:    map[string]string{"9000": "stopped"},
		locks:  map[string]string{},
		nextID: 105,
	}
}

func (f *fakeProxmox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "PVEAPIToken=test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api2/json")

	if path == "/cluster/nextid" {
		json.NewEncoder(w).Encode(map[string]string{"data": strconv.Itoa(f.nextID)})
		return
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	// nodes/<node>/qemu/<vmid>/...
	if len(parts) < 4 || parts[0] != "nodes" || parts[2] != "qemu" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	vmid := parts[3]
	rest := strings.Join(parts[4:], "/")

	status, exists := f.vms[vmid]
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case rest == "clone" && r.Method == http.MethodPost:
		var body struct {
			NewID string `json:"newid"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.vms[body.NewID] = "stopped"
		json.NewEncoder(w).Encode(map[string]string{"data": "UPID:pve1:clone"})

	case rest == "config" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusOK)

	case rest == "status/current":
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"status": status, "lock": f.locks[vmid]},
		})

	case strings.HasPrefix(rest, "status/") && r.Method == http.MethodPost:
		switch strings.TrimPrefix(rest, "status/") {
		case "start", "reboot":
			f.vms[vmid] = "running"
		case "stop":
			f.vms[vmid] = "stopped"
		}
		w.WriteHeader(http.StatusOK)

	case rest == "agent/set-user-password" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusOK)

	case rest == "agent/network-get-interfaces":
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"result": []map[string]interface{}{
					{"name": "lo", "ip-addresses": []map[string]string{{"ip-address": "127.0.0.1", "ip-address-type": "ipv4"}}},
					{"name": "eth0", "ip-addresses": []map[string]string{{"ip-address": "10.0.0.42", "ip-address-type": "ipv4"}}},
				},
			},
		})

	case rest == "" && r.Method == http.MethodDelete:
		delete(f.vms, vmid)
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

var testSpec = providers.ProvisionSpec{
	Lab: subscriptions.LabDefinition{
		ID:         types.LabID("lab-priv-esc"),
		Provider:   types.ProviderProxmox,
		TemplateID: "9000",
		CPU:        2,
		RAMMb:      4096,
	},
	InstanceID: types.InstanceID("instance-three"),
	OwnerKind:  types.OwnerUser,
	OwnerID:    "user-bob",
	Region:     "pve1",
}

func newTestHandler(t *testing.T) (*Handler, *fakeProxmox) {
	t.Helper()

	fake := newFakeProxmox()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	handler := &Handler{
		Node:    "pve1",
		BaseURL: srv.URL,
		Client:  srv.Client(),
		token:   "test-token",
	}

	return handler, fake
}

func TestProvision(t *testing.T) {
	handler, fake := newTestHandler(t)

	handle, err := handler.Provision(context.Background(), testSpec)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if handle.ProviderID != "105" {
		t.Errorf("expected the cluster-assigned VMID, got %s", handle.ProviderID)
	}

	if status := fake.vms["105"]; status != "stopped" {
		t.Errorf("expected the clone to exist powered off, got %q", status)
	}
}

func TestIssueCredential(t *testing.T) {
	handler, _ := newTestHandler(t)

	handle, err := handler.Provision(context.Background(), testSpec)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	credential, err := handler.IssueCredential(context.Background(), handle)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if credential.Hostname != "10.0.0.42" {
		t.Errorf("expected the guest address from the agent, got %s", credential.Hostname)
	}

	if credential.Username != "hackrange" || credential.Password == "" {
		t.Errorf("expected a generated credential, got %s/%s", credential.Username, credential.Password)
	}
}

func TestStartStopRestart(t *testing.T) {
	handler, fake := newTestHandler(t)

	handle, err := handler.Provision(context.Background(), testSpec)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if err := handler.Start(context.Background(), handle); err != nil {
		t.Fatalf("did not expect an error starting, got %s", err)
	}

	if fake.vms[handle.ProviderID] != "running" {
		t.Errorf("expected the VM to be running")
	}

	if err := handler.Start(context.Background(), handle); !errors.Is(err, providers.ErrAlreadyInState) {
		t.Errorf("expected the already-in-state sentinel on a double start, got %v", err)
	}

	if err := handler.Restart(context.Background(), handle); err != nil {
		t.Fatalf("did not expect an error restarting, got %s", err)
	}

	if err := handler.Stop(context.Background(), handle); err != nil {
		t.Fatalf("did not expect an error stopping, got %s", err)
	}

	if fake.vms[handle.ProviderID] != "stopped" {
		t.Errorf("expected the VM to be stopped")
	}
}

func TestGetStatus(t *testing.T) {
	handler, fake := newTestHandler(t)

	handle, err := handler.Provision(context.Background(), testSpec)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	status, err := handler.GetStatus(context.Background(), handle)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if !status.Launched || status.Running || status.Loading {
		t.Errorf("expected a launched, stopped status, got %+v", status)
	}

	fake.locks[handle.ProviderID] = "clone"

	status, err = handler.GetStatus(context.Background(), handle)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if !status.Loading {
		t.Errorf("expected a loading status while the VM holds a lock, got %+v", status)
	}

	status, err = handler.GetStatus(context.Background(), providers.Handle{ProviderID: "999"})
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if status.Launched {
		t.Errorf("expected an unprovisioned status for a missing VM, got %+v", status)
	}
}

func TestTeardown(t *testing.T) {
	handler, fake := newTestHandler(t)

	handle, err := handler.Provision(context.Background(), testSpec)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if err := handler.Start(context.Background(), handle); err != nil {
		t.Fatalf("did not expect an error starting, got %s", err)
	}

	if err := handler.Teardown(context.Background(), handle); err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if _, exists := fake.vms[handle.ProviderID]; exists {
		t.Errorf("expected the VM to be destroyed")
	}

	// Tearing down a VM that is already gone succeeds.
	if err := handler.Teardown(context.Background(), handle); err != nil {
		t.Errorf("expected a repeated teardown to succeed, got %s", err)
	}
}
