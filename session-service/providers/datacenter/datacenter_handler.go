// Package datacenter implements the provider handler for labs served from
// the datacenter VM pool. The pool manager keeps pre-built VMs warm, so
// provisioning is a lease on an existing machine and teardown releases it
// back to the pool for re-imaging.
package datacenter

import (
	"context"
	"net/http"
	"os"

	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// Handler leases and controls VMs from the datacenter pool manager. The
// region an instance is placed on maps to the pool name.
type Handler struct {
	Pool    string
	BaseURL string
	Client  *http.Client

	token string
}

// lease is the pool manager's description of a leased VM.
type lease struct {
	LeaseID  string `json:"lease_id"`
	Hostname string `json:"hostname"`
	Port     int64  `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
}

// Initialize reads the pool manager endpoint and token from the environment.
func (h *Handler) Initialize(region string) error {
	baseURL := os.Getenv("DATACENTER_API_URL")
	if baseURL == "" {
		return utils.MakeError("DATACENTER_API_URL is not set")
	}

	token := os.Getenv("DATACENTER_API_TOKEN")
	if token == "" {
		return utils.MakeError("DATACENTER_API_TOKEN is not set")
	}

	h.Pool = region
	h.BaseURL = baseURL
	h.token = token
	h.Client = providers.NewRetryableClient()

	return nil
}

// Provision leases a pre-built VM matching the lab's template from the pool.
func (h *Handler) Provision(ctx context.Context, spec providers.ProvisionSpec) (providers.Handle, error) {
	body := map[string]string{
		"lab_id":      string(spec.Lab.ID),
		"template_id": spec.Lab.TemplateID,
		"instance_id": string(spec.InstanceID),
	}

	var leased lease

	code, err := providers.DoJSON(ctx, h.Client, http.MethodPost,
		utils.Sprintf("%s/api/v1/pools/%s/leases", h.BaseURL, h.Pool), h.headers(), body, &leased)
	if err != nil {
		return providers.Handle{}, utils.MakeError("error leasing a VM for lab %s: %s: %w", spec.Lab.ID, err, providers.ErrProvisionFailed)
	}

	if code == http.StatusConflict {
		return providers.Handle{}, utils.MakeError("pool %s has no free VM for template %s: %w", h.Pool, spec.Lab.TemplateID, providers.ErrProvisionFailed)
	}

	if code >= http.StatusBadRequest || leased.LeaseID == "" {
		return providers.Handle{}, utils.MakeError("leasing a VM for lab %s returned %d: %w", spec.Lab.ID, code, providers.ErrProvisionFailed)
	}

	rangelogger.Infof("Leased VM %s from pool %s for instance %s", leased.LeaseID, h.Pool, spec.InstanceID)

	return providers.Handle{
		ProviderID: leased.LeaseID,
		LabID:      spec.Lab.ID,
		Region:     h.Pool,
		Hostname:   leased.Hostname,
		Port:       leased.Port,
		Protocol:   leased.Protocol,
	}, nil
}

// IssueCredential asks the pool manager to mint the one-time login on the
// leased VM.
func (h *Handler) IssueCredential(ctx context.Context, handle providers.Handle) (providers.Credential, error) {
	var minted struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodPost,
		utils.Sprintf("%s/api/v1/leases/%s/credentials", h.BaseURL, handle.ProviderID), h.headers(), nil, &minted)
	if err != nil {
		return providers.Credential{}, utils.MakeError("error minting a credential on lease %s: %s: %w", handle.ProviderID, err, providers.ErrCredentialFailed)
	}

	if code >= http.StatusBadRequest || minted.Username == "" {
		return providers.Credential{}, utils.MakeError("minting a credential on lease %s returned %d: %w", handle.ProviderID, code, providers.ErrCredentialFailed)
	}

	return providers.Credential{
		Username: minted.Username,
		Password: minted.Password,
		Protocol: handle.Protocol,
		Hostname: handle.Hostname,
		Port:     handle.Port,
	}, nil
}

// Start powers on the leased VM.
func (h *Handler) Start(ctx context.Context, handle providers.Handle) error {
	return h.power(ctx, handle.ProviderID, "start")
}

// Stop powers off the leased VM without releasing the lease.
func (h *Handler) Stop(ctx context.Context, handle providers.Handle) error {
	return h.power(ctx, handle.ProviderID, "stop")
}

// Restart power-cycles the leased VM.
func (h *Handler) Restart(ctx context.Context, handle providers.Handle) error {
	return h.power(ctx, handle.ProviderID, "restart")
}

// GetStatus reports the lease state from the pool manager.
func (h *Handler) GetStatus(ctx context.Context, handle providers.Handle) (providers.Status, error) {
	var leased lease

	code, err := providers.DoJSON(ctx, h.Client, http.MethodGet,
		utils.Sprintf("%s/api/v1/leases/%s", h.BaseURL, handle.ProviderID), h.headers(), nil, &leased)
	if err != nil {
		return providers.Status{}, utils.MakeError("error reading lease %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	if code == http.StatusNotFound {
		return providers.Status{}, nil
	}

	if code >= http.StatusBadRequest {
		return providers.Status{}, utils.MakeError("reading lease %s returned %d: %w", handle.ProviderID, code, providers.ErrTransportFailed)
	}

	switch leased.State {
	case "running":
		return providers.Status{Launched: true, Running: true}, nil
	case "stopped":
		return providers.Status{Launched: true}, nil
	default:
		// preparing, re-imaging
		return providers.Status{Launched: true, Loading: true}, nil
	}
}

// Teardown releases the lease back to the pool. Releasing a lease that is
// already gone is not an error.
func (h *Handler) Teardown(ctx context.Context, handle providers.Handle) error {
	code, err := providers.DoJSON(ctx, h.Client, http.MethodDelete,
		utils.Sprintf("%s/api/v1/leases/%s", h.BaseURL, handle.ProviderID), h.headers(), nil, nil)
	if err != nil {
		return utils.MakeError("error releasing lease %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	if code >= http.StatusBadRequest && code != http.StatusNotFound {
		return utils.MakeError("releasing lease %s returned %d: %w", handle.ProviderID, code, providers.ErrTransportFailed)
	}

	rangelogger.Infof("Released lease %s back to pool %s", handle.ProviderID, h.Pool)

	return nil
}

// power posts a power verb to the lease. The pool manager answers 409 when
// the VM is already in the requested state.
func (h *Handler) power(ctx context.Context, leaseID string, verb string) error {
	body := map[string]string{"action": verb}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodPost,
		utils.Sprintf("%s/api/v1/leases/%s/power", h.BaseURL, leaseID), h.headers(), body, nil)
	if err != nil {
		return utils.MakeError("error sending %s to lease %s: %s: %w", verb, leaseID, err, providers.ErrTransportFailed)
	}

	if code == http.StatusConflict {
		return utils.MakeError("lease %s: %w", leaseID, providers.ErrAlreadyInState)
	}

	if code >= http.StatusBadRequest {
		return utils.MakeError("%s on lease %s returned %d: %w", verb, leaseID, code, providers.ErrTransportFailed)
	}

	return nil
}

func (h *Handler) headers() map[string]string {
	return map[string]string{
		"Authorization": utils.Sprintf("Bearer %s", h.token),
	}
}
