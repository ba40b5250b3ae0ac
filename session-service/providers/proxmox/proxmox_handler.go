// Package proxmox implements the provider handler for labs backed by a
// Proxmox VE cluster. Provisioning clones the lab's template VM, sizes it
// from the lab definition and powers it on; credentials are pushed into the
// guest through the QEMU agent.
package proxmox

import (
	"context"
	"net/http"
	"os"
	"strconv"

	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// Handler provisions and controls Proxmox VM labs. The region an instance is
// placed on maps to the Proxmox node name.
type Handler struct {
	Node    string
	BaseURL string
	Client  *http.Client

	token string
}

// vmStatus is the relevant slice of /status/current.
type vmStatus struct {
	Status string `json:"status"`
	Lock   string `json:"lock"`
}

// ifaceAddress is one address entry from the QEMU agent network listing.
type ifaceAddress struct {
	Address string `json:"ip-address"`
	Type    string `json:"ip-address-type"`
}

// iface is one interface entry from the QEMU agent network listing.
type iface struct {
	Name      string         `json:"name"`
	Addresses []ifaceAddress `json:"ip-addresses"`
}

// Initialize reads the Proxmox endpoint and API token from the environment
// and prepares the REST client for the given node.
func (h *Handler) Initialize(region string) error {
	baseURL := os.Getenv("PROXMOX_API_URL")
	if baseURL == "" {
		return utils.MakeError("PROXMOX_API_URL is not set")
	}

	token := os.Getenv("PROXMOX_API_TOKEN")
	if token == "" {
		return utils.MakeError("PROXMOX_API_TOKEN is not set")
	}

	h.Node = region
	h.BaseURL = baseURL
	h.token = token
	h.Client = providers.NewRetryableClient()

	return nil
}

// Provision clones the lab's template VM into a fresh VMID and applies the
// lab's sizing to it. The clone starts powered off; the engine powers it on
// through Start.
func (h *Handler) Provision(ctx context.Context, spec providers.ProvisionSpec) (providers.Handle, error) {
	vmid, err := h.nextVMID(ctx)
	if err != nil {
		return providers.Handle{}, utils.MakeError("%s: %w", err, providers.ErrProvisionFailed)
	}

	cloneBody := map[string]interface{}{
		"newid": vmid,
		"name":  utils.Sprintf("hackrange-%s", spec.InstanceID),
		"full":  1,
	}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodPost,
		h.url("/nodes/%s/qemu/%s/clone", h.Node, spec.Lab.TemplateID), h.headers(), cloneBody, nil)
	if err != nil {
		return providers.Handle{}, utils.MakeError("error cloning template %s: %s: %w", spec.Lab.TemplateID, err, providers.ErrProvisionFailed)
	}
	if code >= http.StatusBadRequest {
		return providers.Handle{}, utils.MakeError("clone of template %s returned %d: %w", spec.Lab.TemplateID, code, providers.ErrProvisionFailed)
	}

	configBody := map[string]interface{}{
		"cores":  spec.Lab.CPU,
		"memory": spec.Lab.RAMMb,
	}

	code, err = providers.DoJSON(ctx, h.Client, http.MethodPost,
		h.url("/nodes/%s/qemu/%s/config", h.Node, vmid), h.headers(), configBody, nil)
	if err != nil {
		return providers.Handle{}, utils.MakeError("error configuring VM %s: %s: %w", vmid, err, providers.ErrProvisionFailed)
	}
	if code >= http.StatusBadRequest {
		return providers.Handle{}, utils.MakeError("configuring VM %s returned %d: %w", vmid, code, providers.ErrProvisionFailed)
	}

	rangelogger.Infof("Cloned template %s into VM %s on node %s", spec.Lab.TemplateID, vmid, h.Node)

	return providers.Handle{
		ProviderID: vmid,
		LabID:      spec.Lab.ID,
		Region:     h.Node,
		Protocol:   "rdp",
		Port:       3389,
	}, nil
}

// IssueCredential generates a password, pushes it into the guest through the
// QEMU agent and resolves the guest's address for the gateway to dial.
func (h *Handler) IssueCredential(ctx context.Context, handle providers.Handle) (providers.Credential, error) {
	credential := providers.Credential{
		Username: "hackrange",
		Password: utils.RandHex(16),
		Protocol: handle.Protocol,
		Port:     handle.Port,
	}

	passwordBody := map[string]interface{}{
		"username": credential.Username,
		"password": credential.Password,
	}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodPost,
		h.url("/nodes/%s/qemu/%s/agent/set-user-password", h.Node, handle.ProviderID), h.headers(), passwordBody, nil)
	if err != nil {
		return providers.Credential{}, utils.MakeError("error setting guest password on VM %s: %s: %w", handle.ProviderID, err, providers.ErrCredentialFailed)
	}
	if code >= http.StatusBadRequest {
		return providers.Credential{}, utils.MakeError("setting guest password on VM %s returned %d: %w", handle.ProviderID, code, providers.ErrCredentialFailed)
	}

	hostname, err := h.guestAddress(ctx, handle.ProviderID)
	if err != nil {
		return providers.Credential{}, utils.MakeError("%s: %w", err, providers.ErrCredentialFailed)
	}

	credential.Hostname = hostname

	return credential, nil
}

// Start powers on the VM.
func (h *Handler) Start(ctx context.Context, handle providers.Handle) error {
	status, err := h.currentStatus(ctx, handle.ProviderID)
	if err != nil {
		return err
	}

	if status.Status == "running" {
		return utils.MakeError("VM %s: %w", handle.ProviderID, providers.ErrAlreadyInState)
	}

	return h.power(ctx, handle.ProviderID, "start")
}

// Stop powers off the VM without destroying it.
func (h *Handler) Stop(ctx context.Context, handle providers.Handle) error {
	status, err := h.currentStatus(ctx, handle.ProviderID)
	if err != nil {
		return err
	}

	if status.Status == "stopped" {
		return utils.MakeError("VM %s: %w", handle.ProviderID, providers.ErrAlreadyInState)
	}

	return h.power(ctx, handle.ProviderID, "stop")
}

// Restart power-cycles the VM.
func (h *Handler) Restart(ctx context.Context, handle providers.Handle) error {
	return h.power(ctx, handle.ProviderID, "reboot")
}

// GetStatus reports the VM's power state. A VM holding a lock (clone,
// migration, backup) is mid-transition and reported as loading.
func (h *Handler) GetStatus(ctx context.Context, handle providers.Handle) (providers.Status, error) {
	var result struct {
		Data vmStatus `json:"data"`
	}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodGet,
		h.url("/nodes/%s/qemu/%s/status/current", h.Node, handle.ProviderID), h.headers(), nil, &result)
	if err != nil {
		return providers.Status{}, utils.MakeError("error reading status of VM %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}
	if code >= http.StatusBadRequest {
		// The VM is gone.
		return providers.Status{}, nil
	}

	if result.Data.Lock != "" {
		return providers.Status{Launched: true, Loading: true}, nil
	}

	return providers.Status{
		Launched: true,
		Running:  result.Data.Status == "running",
	}, nil
}

// Teardown stops the VM if needed and destroys it. A VM that is already gone
// is not an error.
func (h *Handler) Teardown(ctx context.Context, handle providers.Handle) error {
	status, err := h.currentStatus(ctx, handle.ProviderID)
	if err != nil {
		return err
	}

	if status == nil {
		return nil
	}

	if status.Status == "running" {
		if err := h.power(ctx, handle.ProviderID, "stop"); err != nil {
			return err
		}
	}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodDelete,
		h.url("/nodes/%s/qemu/%s", h.Node, handle.ProviderID), h.headers(), nil, nil)
	if err != nil {
		return utils.MakeError("error destroying VM %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}
	if code >= http.StatusBadRequest && code != http.StatusNotFound {
		return utils.MakeError("destroying VM %s returned %d: %w", handle.ProviderID, code, providers.ErrTransportFailed)
	}

	rangelogger.Infof("Destroyed VM %s on node %s", handle.ProviderID, h.Node)

	return nil
}

// nextVMID asks the cluster for the next free VMID.
func (h *Handler) nextVMID(ctx context.Context) (string, error) {
	var result struct {
		Data string `json:"data"`
	}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodGet, h.url("/cluster/nextid"), h.headers(), nil, &result)
	if err != nil {
		return "", err
	}
	if code >= http.StatusBadRequest || result.Data == "" {
		return "", utils.MakeError("no free VMID available (status %d)", code)
	}

	if _, err := strconv.Atoi(result.Data); err != nil {
		return "", utils.MakeError("got a malformed VMID %q", result.Data)
	}

	return result.Data, nil
}

// power posts a power verb to the VM.
func (h *Handler) power(ctx context.Context, vmid string, verb string) error {
	code, err := providers.DoJSON(ctx, h.Client, http.MethodPost,
		h.url("/nodes/%s/qemu/%s/status/%s", h.Node, vmid, verb), h.headers(), nil, nil)
	if err != nil {
		return utils.MakeError("error sending %s to VM %s: %s: %w", verb, vmid, err, providers.ErrTransportFailed)
	}
	if code >= http.StatusBadRequest {
		return utils.MakeError("%s on VM %s returned %d: %w", verb, vmid, code, providers.ErrTransportFailed)
	}

	return nil
}

// currentStatus reads /status/current, returning nil when the VM is gone.
func (h *Handler) currentStatus(ctx context.Context, vmid string) (*vmStatus, error) {
	var result struct {
		Data vmStatus `json:"data"`
	}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodGet,
		h.url("/nodes/%s/qemu/%s/status/current", h.Node, vmid), h.headers(), nil, &result)
	if err != nil {
		return nil, utils.MakeError("error reading status of VM %s: %s: %w", vmid, err, providers.ErrTransportFailed)
	}
	if code >= http.StatusBadRequest {
		return nil, nil
	}

	return &result.Data, nil
}

// guestAddress resolves the first non-loopback IPv4 address the QEMU agent
// reports.
func (h *Handler) guestAddress(ctx context.Context, vmid string) (string, error) {
	var result struct {
		Data struct {
			Result []iface `json:"result"`
		} `json:"data"`
	}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodGet,
		h.url("/nodes/%s/qemu/%s/agent/network-get-interfaces", h.Node, vmid), h.headers(), nil, &result)
	if err != nil {
		return "", err
	}
	if code >= http.StatusBadRequest {
		return "", utils.MakeError("agent network listing for VM %s returned %d", vmid, code)
	}

	for _, entry := range result.Data.Result {
		if entry.Name == "lo" {
			continue
		}

		for _, address := range entry.Addresses {
			if address.Type == "ipv4" {
				return address.Address, nil
			}
		}
	}

	return "", utils.MakeError("VM %s has no reachable address", vmid)
}

func (h *Handler) url(format string, v ...interface{}) string {
	return h.BaseURL + "/api2/json" + utils.Sprintf(format, v...)
}

func (h *Handler) headers() map[string]string {
	return map[string]string{
		"Authorization": utils.Sprintf("PVEAPIToken=%s", h.token),
	}
}
