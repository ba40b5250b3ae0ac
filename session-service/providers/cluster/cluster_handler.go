// Package cluster implements the provider handler for multi-node VM cluster
// labs. Provisioning creates an allocation on the cluster controller, one
// node per service named by the lab definition, and the reported status
// aggregates the node states: the lab counts as running only once every node
// has settled.
package cluster

import (
	"context"
	"net/http"
	"os"
	"strings"

	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// Handler provisions and controls VM cluster labs through the cluster
// controller.
type Handler struct {
	Zone    string
	BaseURL string
	Client  *http.Client

	token string
}

// node is one service node inside an allocation.
type node struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// allocation is the controller's description of a provisioned cluster.
type allocation struct {
	AllocationID string `json:"allocation_id"`
	Entrypoint   struct {
		Hostname string `json:"hostname"`
		Port     int64  `json:"port"`
		Protocol string `json:"protocol"`
	} `json:"entrypoint"`
	Nodes []node `json:"nodes"`
}

// Initialize reads the cluster controller endpoint and token from the
// environment.
func (h *Handler) Initialize(region string) error {
	baseURL := os.Getenv("CLUSTER_API_URL")
	if baseURL == "" {
		return utils.MakeError("CLUSTER_API_URL is not set")
	}

	token := os.Getenv("CLUSTER_API_TOKEN")
	if token == "" {
		return utils.MakeError("CLUSTER_API_TOKEN is not set")
	}

	h.Zone = region
	h.BaseURL = baseURL
	h.token = token
	h.Client = providers.NewRetryableClient()

	return nil
}

// Provision creates an allocation spanning one node per service the lab
// names.
func (h *Handler) Provision(ctx context.Context, spec providers.ProvisionSpec) (providers.Handle, error) {
	body := map[string]interface{}{
		"lab_id":      string(spec.Lab.ID),
		"instance_id": string(spec.InstanceID),
		"template_id": spec.Lab.TemplateID,
		"services":    serviceList(spec.Lab.Services),
		"cpu":         spec.Lab.CPU,
		"ram_mb":      spec.Lab.RAMMb,
		"storage_gb":  spec.Lab.StorageGb,
		"zone":        h.Zone,
	}

	var created allocation

	code, err := providers.DoJSON(ctx, h.Client, http.MethodPost,
		utils.Sprintf("%s/api/v1/allocations", h.BaseURL), h.headers(), body, &created)
	if err != nil {
		return providers.Handle{}, utils.MakeError("error allocating cluster for lab %s: %s: %w", spec.Lab.ID, err, providers.ErrProvisionFailed)
	}

	if code >= http.StatusBadRequest || created.AllocationID == "" {
		return providers.Handle{}, utils.MakeError("allocating cluster for lab %s returned %d: %w", spec.Lab.ID, code, providers.ErrProvisionFailed)
	}

	rangelogger.Infof("Allocated cluster %s with %d nodes for instance %s",
		created.AllocationID, len(created.Nodes), spec.InstanceID)

	return providers.Handle{
		ProviderID: created.AllocationID,
		LabID:      spec.Lab.ID,
		Region:     h.Zone,
		Hostname:   created.Entrypoint.Hostname,
		Port:       created.Entrypoint.Port,
		Protocol:   created.Entrypoint.Protocol,
	}, nil
}

// IssueCredential mints the login on the allocation's entrypoint node.
func (h *Handler) IssueCredential(ctx context.Context, handle providers.Handle) (providers.Credential, error) {
	var minted struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodPost,
		utils.Sprintf("%s/api/v1/allocations/%s/credentials", h.BaseURL, handle.ProviderID), h.headers(), nil, &minted)
	if err != nil {
		return providers.Credential{}, utils.MakeError("error minting a credential on allocation %s: %s: %w", handle.ProviderID, err, providers.ErrCredentialFailed)
	}

	if code >= http.StatusBadRequest || minted.Username == "" {
		return providers.Credential{}, utils.MakeError("minting a credential on allocation %s returned %d: %w", handle.ProviderID, code, providers.ErrCredentialFailed)
	}

	return providers.Credential{
		Username: minted.Username,
		Password: minted.Password,
		Protocol: handle.Protocol,
		Hostname: handle.Hostname,
		Port:     handle.Port,
	}, nil
}

// Start powers on every node in the allocation.
func (h *Handler) Start(ctx context.Context, handle providers.Handle) error {
	return h.power(ctx, handle.ProviderID, "start")
}

// Stop powers off every node in the allocation.
func (h *Handler) Stop(ctx context.Context, handle providers.Handle) error {
	return h.power(ctx, handle.ProviderID, "stop")
}

// Restart power-cycles every node in the allocation.
func (h *Handler) Restart(ctx context.Context, handle providers.Handle) error {
	return h.power(ctx, handle.ProviderID, "restart")
}

// GetStatus aggregates the node states: the allocation is loading until all
// nodes settle, and running only when every node runs.
func (h *Handler) GetStatus(ctx context.Context, handle providers.Handle) (providers.Status, error) {
	var current allocation

	code, err := providers.DoJSON(ctx, h.Client, http.MethodGet,
		utils.Sprintf("%s/api/v1/allocations/%s", h.BaseURL, handle.ProviderID), h.headers(), nil, &current)
	if err != nil {
		return providers.Status{}, utils.MakeError("error reading allocation %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	if code == http.StatusNotFound {
		return providers.Status{}, nil
	}

	if code >= http.StatusBadRequest {
		return providers.Status{}, utils.MakeError("reading allocation %s returned %d: %w", handle.ProviderID, code, providers.ErrTransportFailed)
	}

	status := providers.Status{Launched: true}
	running := 0

	for _, n := range current.Nodes {
		switch n.State {
		case "running":
			running++
		case "stopped":
		default:
			// provisioning, starting, stopping
			status.Loading = true
		}
	}

	status.Running = !status.Loading && len(current.Nodes) > 0 && running == len(current.Nodes)

	return status, nil
}

// Teardown destroys the allocation and all its nodes. An allocation that is
// already gone is not an error.
func (h *Handler) Teardown(ctx context.Context, handle providers.Handle) error {
	code, err := providers.DoJSON(ctx, h.Client, http.MethodDelete,
		utils.Sprintf("%s/api/v1/allocations/%s", h.BaseURL, handle.ProviderID), h.headers(), nil, nil)
	if err != nil {
		return utils.MakeError("error destroying allocation %s: %s: %w", handle.ProviderID, err, providers.ErrTransportFailed)
	}

	if code >= http.StatusBadRequest && code != http.StatusNotFound {
		return utils.MakeError("destroying allocation %s returned %d: %w", handle.ProviderID, code, providers.ErrTransportFailed)
	}

	rangelogger.Infof("Destroyed allocation %s", handle.ProviderID)

	return nil
}

// power posts a power verb to the allocation. The controller answers 409
// when every node is already in the requested state.
func (h *Handler) power(ctx context.Context, allocationID string, verb string) error {
	body := map[string]string{"action": verb}

	code, err := providers.DoJSON(ctx, h.Client, http.MethodPost,
		utils.Sprintf("%s/api/v1/allocations/%s/power", h.BaseURL, allocationID), h.headers(), body, nil)
	if err != nil {
		return utils.MakeError("error sending %s to allocation %s: %s: %w", verb, allocationID, err, providers.ErrTransportFailed)
	}

	if code == http.StatusConflict {
		return utils.MakeError("allocation %s: %w", allocationID, providers.ErrAlreadyInState)
	}

	if code >= http.StatusBadRequest {
		return utils.MakeError("%s on allocation %s returned %d: %w", verb, allocationID, code, providers.ErrTransportFailed)
	}

	return nil
}

// serviceList splits the lab definition's comma-separated service list.
func serviceList(services string) []string {
	if services == "" {
		return nil
	}

	var list []string
	for _, service := range strings.Split(services, ",") {
		if trimmed := strings.TrimSpace(service); trimmed != "" {
			list = append(list, trimmed)
		}
	}

	return list
}

func (h *Handler) headers() map[string]string {
	return map[string]string{
		"Authorization": utils.Sprintf("Bearer %s", h.token),
	}
}
