package httpserver

import (
	"encoding/json"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/meshtower/overlay-provisioning-backend/issuer"
	"github.com/meshtower/overlay-provisioning-backend/provisioner"
	"github.com/meshtower/overlay-provisioning-backend/supervisor"
)

// CreateOrgRequest creates an organization explicitly.
type CreateOrgRequest struct {
	Name string `json:"name"`
}

// CreateOrgResponse reports the organization and its assigned subnet.
type CreateOrgResponse struct {
	Org    string            `json:"org"`
	Subnet interfaces.Subnet `json:"subnet"`
}

// OrgsResponse lists all organizations.
type OrgsResponse struct {
	Orgs []interfaces.Org `json:"orgs"`
}

// CreateHostRequest creates a host directly in an organization.
type CreateHostRequest struct {
	Name string   `json:"name"`
	Org  string   `json:"org"`
	Tags []string `json:"tags"`
}

// HostsResponse lists hosts of one organization.
type HostsResponse struct {
	Hosts []interfaces.Host `json:"hosts"`
}

// AllHostsResponse lists every host with its owning organization.
type AllHostsResponse struct {
	Hosts []interfaces.OrgHost `json:"hosts"`
}

// HostDetail is the full view of one host: record, material status, the
// configuration document, certificate, truncated key, and the parsed
// certificate fields as reported by the signing tool.
type HostDetail struct {
	Host        interfaces.Host       `json:"host"`
	Material    issuer.MaterialStatus `json:"material"`
	Config      string                `json:"config,omitempty"`
	Cert        string                `json:"cert,omitempty"`
	KeyPreview  string                `json:"key,omitempty"`
	CertDetails json.RawMessage       `json:"cert_details,omitempty"`
}

// GenerateInviteRequest creates an invitation token. DaysValid and Uses
// are pointers so an omitted field gets the server default while an
// explicit zero is rejected as invalid.
type GenerateInviteRequest struct {
	Org       string `json:"org"`
	DaysValid *int   `json:"days_valid,omitempty"`
	Uses      *int   `json:"uses,omitempty"`
}

// InviteResponse wraps a single invite.
type InviteResponse struct {
	Invite interfaces.Invite `json:"invite"`
}

// InvitesResponse lists invites.
type InvitesResponse struct {
	Invites []interfaces.Invite `json:"invites"`
}

// RedeemInviteRequest enrolls a host using an invitation code.
type RedeemInviteRequest struct {
	InviteCode string   `json:"invite_code"`
	Name       string   `json:"name"`
	Tags       []string `json:"tags"`
}

// CreateCARequest initializes the CA singleton.
type CreateCARequest struct {
	Name string `json:"name"`
}

// CAInfoResponse carries the CA certificate's parsed fields.
type CAInfoResponse struct {
	Info json.RawMessage `json:"info"`
}

// HostResultResponse is the outcome of a provisioning workflow.
type HostResultResponse = provisioner.HostResult

// DaemonStatusResponse mirrors the supervisor snapshot.
type DaemonStatusResponse = supervisor.Status
