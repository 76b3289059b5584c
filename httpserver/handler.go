package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/meshtower/overlay-provisioning-backend/invites"
	"github.com/meshtower/overlay-provisioning-backend/issuer"
	"github.com/meshtower/overlay-provisioning-backend/provisioner"
	"github.com/meshtower/overlay-provisioning-backend/registry"
	"github.com/meshtower/overlay-provisioning-backend/supervisor"
)

// Handler processes HTTP requests for the provisioning API. It maps the
// API surface onto the provisioning facade, registry, invite ledger,
// credential issuer and daemon supervisor.
type Handler struct {
	provisioner *provisioner.Provisioner
	registry    *registry.Store
	ledger      *invites.Ledger
	issuer      *issuer.Issuer
	supervisor  *supervisor.Supervisor
	log         *slog.Logger
}

// NewHandler creates the provisioning API handler.
func NewHandler(p *provisioner.Provisioner, reg *registry.Store, ledger *invites.Ledger, iss *issuer.Issuer, sup *supervisor.Supervisor, log *slog.Logger) *Handler {
	return &Handler{
		provisioner: p,
		registry:    reg,
		ledger:      ledger,
		issuer:      iss,
		supervisor:  sup,
		log:         log,
	}
}

// RegisterRoutes configures the router with the provisioning API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/orgs/new", h.HandleCreateOrg)
	r.Get("/api/orgs", h.HandleListOrgs)
	r.Get("/api/orgs/{org}/hosts", h.HandleListOrgHosts)
	r.Get("/api/orgs/{org}/hosts/{host}", h.HandleHostDetail)
	r.Get("/api/orgs/{org}/hosts/{host}/download", h.HandleDownloadBundle)
	r.Get("/api/orgs/{org}/hosts/{host}/download_config", h.HandleDownloadConfig)

	r.Post("/api/hosts/new", h.HandleCreateHost)
	r.Get("/api/hosts", h.HandleListHosts)

	r.Post("/api/invites/generate", h.HandleGenerateInvite)
	r.Get("/api/invites", h.HandleListInvites)
	r.Post("/api/invites/{code}/deactivate", h.HandleDeactivateInvite)
	r.Post("/api/client/redeem_invite", h.HandleRedeemInvite)

	r.Get("/api/ca", h.HandleCAStatus)
	r.Post("/api/ca", h.HandleCreateCA)
	r.Get("/api/ca/info", h.HandleCAInfo)

	r.Get("/api/lighthouse/config", h.HandleLighthouseStatus)
	r.Post("/api/lighthouse/create_config", h.HandleCreateLighthouse)

	r.Get("/api/daemon/status", h.HandleDaemonStatus)
	r.Post("/api/daemon/start", h.HandleDaemonStart)
	r.Post("/api/daemon/stop", h.HandleDaemonStop)
}

// writeError maps the failure taxonomy onto HTTP status codes. Captured
// signing-tool output is included for diagnostics.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interfaces.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, interfaces.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrAlreadyExists),
		errors.Is(err, interfaces.ErrAlreadyRunning),
		errors.Is(err, interfaces.ErrAlreadyStopped),
		errors.Is(err, interfaces.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, interfaces.ErrResourceExhausted):
		status = http.StatusInsufficientStorage
	case errors.Is(err, interfaces.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, interfaces.ErrExternalTool):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
	} else {
		h.log.Debug("Request rejected", "status", status, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) HandleCreateOrg(w http.ResponseWriter, r *http.Request) {
	var req CreateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("malformed request body: %w", interfaces.ErrInvalidArgument))
		return
	}
	org, err := interfaces.NewOrgName(req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	subnet, err := h.registry.EnsureOrg(org)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, CreateOrgResponse{Org: org.String(), Subnet: subnet})
}

func (h *Handler) HandleListOrgs(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.registry.Orgs()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, OrgsResponse{Orgs: orgs})
}

func (h *Handler) HandleCreateHost(w http.ResponseWriter, r *http.Request) {
	var req CreateHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("malformed request body: %w", interfaces.ErrInvalidArgument))
		return
	}
	result, err := h.provisioner.CreateHost(r.Context(), req.Org, req.Name, req.Tags)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, result)
}

func (h *Handler) HandleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.registry.AllHosts()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if hosts == nil {
		hosts = []interfaces.OrgHost{}
	}
	h.writeJSON(w, AllHostsResponse{Hosts: hosts})
}

func (h *Handler) HandleListOrgHosts(w http.ResponseWriter, r *http.Request) {
	org, err := interfaces.NewOrgName(chi.URLParam(r, "org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	hosts, err := h.registry.Hosts(org)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if hosts == nil {
		hosts = []interfaces.Host{}
	}
	h.writeJSON(w, HostsResponse{Hosts: hosts})
}

func (h *Handler) HandleHostDetail(w http.ResponseWriter, r *http.Request) {
	org, err := interfaces.NewOrgName(chi.URLParam(r, "org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	name, err := interfaces.NewHostName(chi.URLParam(r, "host"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	host, err := h.registry.Host(org, name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	detail := HostDetail{
		Host:     host,
		Material: h.issuer.MaterialStatus(org, name),
	}

	hostDir := h.registry.HostDir(org, name)
	if data, err := os.ReadFile(filepath.Join(hostDir, issuer.ConfigFileName)); err == nil {
		detail.Config = string(data)
	}
	if data, err := os.ReadFile(filepath.Join(hostDir, issuer.HostCertFileName)); err == nil {
		detail.Cert = string(data)
	}
	if data, err := os.ReadFile(filepath.Join(hostDir, issuer.HostKeyFileName)); err == nil {
		preview := string(data)
		if len(preview) > 32 {
			preview = preview[:32]
		}
		detail.KeyPreview = preview
	}
	if detail.Material.Cert {
		if info, err := h.issuer.CertInfo(r.Context(), org, name); err == nil && json.Valid(info) {
			detail.CertDetails = info
		}
	}

	h.writeJSON(w, detail)
}

func (h *Handler) HandleDownloadBundle(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")
	host := chi.URLParam(r, "host")
	data, err := h.provisioner.Bundle(org, host)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s_%s_config.zip", interfaces.Sanitize(org), interfaces.Sanitize(host)))
	w.Write(data)
}

func (h *Handler) HandleDownloadConfig(w http.ResponseWriter, r *http.Request) {
	org, err := interfaces.NewOrgName(chi.URLParam(r, "org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	name, err := interfaces.NewHostName(chi.URLParam(r, "host"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	data, err := os.ReadFile(filepath.Join(h.registry.HostDir(org, name), issuer.ConfigFileName))
	if err != nil {
		h.writeError(w, fmt.Errorf("host config: %w", interfaces.ErrNotFound))
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s_%s_config.yaml", org.String(), name.String()))
	w.Write(data)
}

func (h *Handler) HandleGenerateInvite(w http.ResponseWriter, r *http.Request) {
	var req GenerateInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("malformed request body: %w", interfaces.ErrInvalidArgument))
		return
	}
	org, err := interfaces.NewOrgName(req.Org)
	if err != nil {
		h.writeError(w, err)
		return
	}
	daysValid, uses := 7, 1
	if req.DaysValid != nil {
		daysValid = *req.DaysValid
	}
	if req.Uses != nil {
		uses = *req.Uses
	}
	invite, err := h.ledger.Generate(org, daysValid, uses)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, InviteResponse{Invite: invite})
}

func (h *Handler) HandleListInvites(w http.ResponseWriter, r *http.Request) {
	var active *bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, fmt.Errorf("active filter %q: %w", raw, interfaces.ErrInvalidArgument))
			return
		}
		active = &v
	}
	list, err := h.ledger.List(interfaces.Sanitize(r.URL.Query().Get("org")), active)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, InvitesResponse{Invites: list})
}

func (h *Handler) HandleDeactivateInvite(w http.ResponseWriter, r *http.Request) {
	code, err := interfaces.NewInviteCode(chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.ledger.Deactivate(code); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "deactivated"})
}

// HandleRedeemInvite enrolls a host via an invitation and streams back the
// credential bundle archive.
func (h *Handler) HandleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	var req RedeemInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("malformed request body: %w", interfaces.ErrInvalidArgument))
		return
	}

	result, err := h.provisioner.RedeemInvite(r.Context(), req.InviteCode, req.Name, req.Tags)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := h.provisioner.Bundle(result.Org, result.Host.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s_%s_config.zip", result.Org, result.Host.Name))
	w.Write(data)
}

func (h *Handler) HandleCAStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.issuer.CAStatus()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, status)
}

func (h *Handler) HandleCreateCA(w http.ResponseWriter, r *http.Request) {
	var req CreateCARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("malformed request body: %w", interfaces.ErrInvalidArgument))
		return
	}
	if req.Name == "" {
		h.writeError(w, fmt.Errorf("ca name is required: %w", interfaces.ErrInvalidArgument))
		return
	}
	if err := h.issuer.InitCA(r.Context(), req.Name); err != nil {
		h.writeError(w, err)
		return
	}
	status, err := h.issuer.CAStatus()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, status)
}

func (h *Handler) HandleCAInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.issuer.CAInfo(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, CAInfoResponse{Info: info})
}

func (h *Handler) HandleLighthouseStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.issuer.LighthouseStatus()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, status)
}

func (h *Handler) HandleCreateLighthouse(w http.ResponseWriter, r *http.Request) {
	if err := h.issuer.InitLighthouse(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "success"})
}

func (h *Handler) HandleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.supervisor.Status())
}

func (h *Handler) HandleDaemonStart(w http.ResponseWriter, r *http.Request) {
	configPath := filepath.Join(h.issuer.LighthouseDir(), issuer.ConfigFileName)
	if _, err := os.Stat(configPath); err != nil {
		h.writeError(w, fmt.Errorf("lighthouse config: %w", interfaces.ErrNotFound))
		return
	}
	pid, err := h.supervisor.Start(configPath)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"status": "started", "pid": pid})
}

func (h *Handler) HandleDaemonStop(w http.ResponseWriter, r *http.Request) {
	if err := h.supervisor.Stop(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "stopped"})
}
