// Package provisioner composes the registry, invite ledger and credential
// issuer into the two user-facing workflows: direct host creation and
// invite redemption. Both end in a downloadable credential bundle.
package provisioner

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/meshtower/overlay-provisioning-backend/invites"
	"github.com/meshtower/overlay-provisioning-backend/issuer"
	"github.com/meshtower/overlay-provisioning-backend/metrics"
	"github.com/meshtower/overlay-provisioning-backend/registry"
)

// HostResult is the outcome of a successful provisioning workflow.
type HostResult struct {
	Org    string            `json:"org"`
	Subnet interfaces.Subnet `json:"subnet"`
	Host   interfaces.Host   `json:"host"`
}

// Provisioner is the provisioning facade.
type Provisioner struct {
	registry *registry.Store
	ledger   *invites.Ledger
	issuer   *issuer.Issuer
	log      *slog.Logger
}

// New creates the provisioning facade.
func New(reg *registry.Store, ledger *invites.Ledger, iss *issuer.Issuer, log *slog.Logger) *Provisioner {
	return &Provisioner{registry: reg, ledger: ledger, issuer: iss, log: log}
}

// CreateHost validates identifiers, registers the host (creating the
// organization on first use) and issues its material. If issuance fails
// the registry record remains; the partial state is detectable through
// the host's material status.
func (p *Provisioner) CreateHost(ctx context.Context, rawOrg, rawName string, rawTags []string) (HostResult, error) {
	org, err := interfaces.NewOrgName(rawOrg)
	if err != nil {
		return HostResult{}, err
	}
	name, err := interfaces.NewHostName(rawName)
	if err != nil {
		return HostResult{}, err
	}
	tags, err := interfaces.NewTags(rawTags)
	if err != nil {
		return HostResult{}, err
	}
	return p.createHost(ctx, org, name, tags)
}

func (p *Provisioner) createHost(ctx context.Context, org interfaces.OrgName, name interfaces.HostName, tags []string) (HostResult, error) {
	host, subnet, err := p.registry.CreateHost(org, name, tags)
	if err != nil {
		return HostResult{}, err
	}

	if err := p.issuer.IssueHostMaterial(ctx, org, interfaces.HostName(host.Name)); err != nil {
		metrics.IssuanceFailures.Inc()
		p.log.Error("Credential issuance failed, host record retained",
			"org", org.String(), "host", host.Name, "err", err)
		return HostResult{}, fmt.Errorf("host %q registered but issuance failed: %w", host.Name, err)
	}

	metrics.HostsProvisioned.Inc()
	return HostResult{Org: org.String(), Subnet: subnet, Host: host}, nil
}

// RedeemInvite consumes one use of the invite, then creates a host in the
// invite's target organization. All identifiers are validated before the
// use is consumed, so a malformed request costs nothing; see the
// Ledger.Redeem policy note for downstream issuance failures.
func (p *Provisioner) RedeemInvite(ctx context.Context, rawCode, rawName string, rawTags []string) (HostResult, error) {
	code, err := interfaces.NewInviteCode(rawCode)
	if err != nil {
		return HostResult{}, err
	}
	name, err := interfaces.NewHostName(rawName)
	if err != nil {
		return HostResult{}, err
	}
	tags, err := interfaces.NewTags(rawTags)
	if err != nil {
		return HostResult{}, err
	}

	invite, err := p.ledger.Redeem(code)
	if err != nil {
		return HostResult{}, err
	}

	result, err := p.createHost(ctx, interfaces.OrgName(invite.Org), name, tags)
	if err != nil {
		return HostResult{}, err
	}

	metrics.InvitesRedeemed.Inc()
	p.log.Info("Invite redeemed into host", "org", result.Org, "host", result.Host.Name)
	return result, nil
}

// Bundle packages a host's material into a zip archive: the configuration
// document, certificate, private key and CA certificate copy.
func (p *Provisioner) Bundle(rawOrg, rawName string) ([]byte, error) {
	org, err := interfaces.NewOrgName(rawOrg)
	if err != nil {
		return nil, err
	}
	name, err := interfaces.NewHostName(rawName)
	if err != nil {
		return nil, err
	}

	hostDir := p.registry.HostDir(org, name)
	if _, err := os.Stat(hostDir); err != nil {
		return nil, fmt.Errorf("host material for %q: %w", name.String(), interfaces.ErrNotFound)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, fname := range []string{
		issuer.ConfigFileName,
		issuer.HostCertFileName,
		issuer.HostKeyFileName,
		issuer.CACertFileName,
	} {
		data, err := os.ReadFile(filepath.Join(hostDir, fname))
		if os.IsNotExist(err) {
			// Partial material is bundled as-is; the host detail endpoint
			// reports what is missing.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fname, err)
		}
		f, err := zw.Create(fname)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
