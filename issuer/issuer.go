package issuer

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meshtower/overlay-provisioning-backend/certsigner"
	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/meshtower/overlay-provisioning-backend/ipam"
	"gopkg.in/yaml.v3"
)

// Host material file names, co-located in the host's directory.
const (
	ConfigFileName   = "config.yaml"
	HostCertFileName = "host.crt"
	HostKeyFileName  = "host.key"
	CACertFileName   = "ca.crt"
)

//go:embed base_config.yaml
var baseConfig []byte

// HostReader exposes the registry lookups the issuer needs. Satisfied by
// *registry.Store.
type HostReader interface {
	Host(org interfaces.OrgName, name interfaces.HostName) (interfaces.Host, error)
	HostDir(org interfaces.OrgName, name interfaces.HostName) string
}

// Issuer produces host material by delegating certificate signing to the
// external tool and generating configuration documents from the embedded
// base template.
type Issuer struct {
	dataDir string
	signer  *certsigner.Signer
	hosts   HostReader

	// lighthouseEndpoint is the rendezvous node's public "ip:port"
	// written into every host's static host map.
	lighthouseEndpoint string

	log *slog.Logger
}

// New creates an issuer rooted at dataDir.
func New(dataDir string, signer *certsigner.Signer, hosts HostReader, lighthouseEndpoint string, log *slog.Logger) *Issuer {
	return &Issuer{
		dataDir:            dataDir,
		signer:             signer,
		hosts:              hosts,
		lighthouseEndpoint: lighthouseEndpoint,
		log:                log,
	}
}

func (i *Issuer) caCertPath() string { return filepath.Join(i.dataDir, "certs", CACertFileName) }
func (i *Issuer) caKeyPath() string  { return filepath.Join(i.dataDir, "certs", "ca.key") }

// LighthouseDir returns the directory holding the rendezvous node's
// material.
func (i *Issuer) LighthouseDir() string { return filepath.Join(i.dataDir, "lighthouse") }

// IssueHostMaterial creates the host's working directory, its certificate
// and key, a CA certificate copy, and its configuration document. The host
// record must already exist in the registry; CA material must already be
// initialized. Partial artifacts of a failed issuance are left in place
// for inspection.
func (i *Issuer) IssueHostMaterial(ctx context.Context, org interfaces.OrgName, host interfaces.HostName) error {
	hostDir := i.hosts.HostDir(org, host)
	if err := os.MkdirAll(hostDir, 0755); err != nil {
		return fmt.Errorf("failed to create host directory: %w", err)
	}

	rec, err := i.hosts.Host(org, host)
	if err != nil {
		return err
	}

	if _, err := os.Stat(i.caCertPath()); err != nil {
		return fmt.Errorf("CA material not initialized: %w", interfaces.ErrNotFound)
	}

	groups := append([]string{org.Group()}, rec.Tags...)
	err = i.signer.Sign(ctx, certsigner.SignRequest{
		Name:     rec.Name,
		Networks: rec.Address + "/64",
		Groups:   groups,
		CACrt:    i.caCertPath(),
		CAKey:    i.caKeyPath(),
		OutCrt:   filepath.Join(hostDir, HostCertFileName),
		OutKey:   filepath.Join(hostDir, HostKeyFileName),
	})
	if err != nil {
		return err
	}

	if err := i.copyCACert(hostDir); err != nil {
		return err
	}

	if err := i.writeHostConfig(hostDir, org); err != nil {
		return err
	}

	i.log.Info("Host material issued", "org", org.String(), "host", rec.Name, "dir", hostDir)
	return nil
}

// copyCACert places a CA certificate copy in the host directory unless one
// is already there.
func (i *Issuer) copyCACert(hostDir string) error {
	dst := filepath.Join(hostDir, CACertFileName)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(i.caCertPath())
	if err != nil {
		return fmt.Errorf("failed to read CA certificate: %w", err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("failed to copy CA certificate: %w", err)
	}
	return nil
}

// writeHostConfig renders the host's configuration document. The static
// host map, lighthouse section, firewall policy and PKI paths are always
// overwritten regardless of template defaults.
func (i *Issuer) writeHostConfig(hostDir string, org interfaces.OrgName) error {
	config := map[string]any{}
	if err := yaml.Unmarshal(baseConfig, &config); err != nil {
		return fmt.Errorf("failed to parse base config template: %w", err)
	}

	lighthouseAddr := ipam.LighthouseAddr().String()

	config["static_host_map"] = map[string]any{
		lighthouseAddr: []string{i.lighthouseEndpoint},
	}
	config["lighthouse"] = map[string]any{
		"am_lighthouse": false,
		"interval":      60,
		"hosts":         []string{lighthouseAddr},
	}
	config["firewall"] = map[string]any{
		"conntrack": map[string]any{
			"default_timeout": "10m",
			"tcp_timeout":     "12m",
			"udp_timeout":     "3m",
		},
		"inbound": []any{
			map[string]any{
				"groups": []string{org.Group()},
				"port":   "any",
				"proto":  "any",
			},
		},
		"inbound_action": "drop",
		"outbound": []any{
			map[string]any{
				"host":  "any",
				"port":  "any",
				"proto": "any",
			},
		},
		"outbound_action": "drop",
	}
	config["pki"] = map[string]any{
		"ca":   "./" + CACertFileName,
		"cert": "./" + HostCertFileName,
		"key":  "./" + HostKeyFileName,
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode host config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(hostDir, ConfigFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write host config: %w", err)
	}
	return nil
}

// MaterialStatus reports which of the four host material artifacts exist.
type MaterialStatus struct {
	Config   bool `json:"config"`
	Cert     bool `json:"cert"`
	Key      bool `json:"key"`
	CACert   bool `json:"ca_cert"`
	Complete bool `json:"complete"`
}

// MaterialStatus inspects a host's directory for the four artifacts, so a
// partially issued bundle is detectable instead of silently tolerated.
func (i *Issuer) MaterialStatus(org interfaces.OrgName, host interfaces.HostName) MaterialStatus {
	hostDir := i.hosts.HostDir(org, host)
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(hostDir, name))
		return err == nil
	}
	status := MaterialStatus{
		Config: exists(ConfigFileName),
		Cert:   exists(HostCertFileName),
		Key:    exists(HostKeyFileName),
		CACert: exists(CACertFileName),
	}
	status.Complete = status.Config && status.Cert && status.Key && status.CACert
	return status
}

// CertInfo returns the parsed fields of a host's certificate as JSON.
func (i *Issuer) CertInfo(ctx context.Context, org interfaces.OrgName, host interfaces.HostName) ([]byte, error) {
	certPath := filepath.Join(i.hosts.HostDir(org, host), HostCertFileName)
	if _, err := os.Stat(certPath); err != nil {
		return nil, fmt.Errorf("host certificate: %w", interfaces.ErrNotFound)
	}
	return i.signer.Print(ctx, certPath)
}
