package issuer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meshtower/overlay-provisioning-backend/certsigner"
	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/meshtower/overlay-provisioning-backend/ipam"
	"gopkg.in/yaml.v3"
)

// lighthouseCertName is the subject of the rendezvous node's certificate.
const lighthouseCertName = "lighthouse1"

// LighthouseStatus summarizes the rendezvous node's material. The private
// key is truncated.
type LighthouseStatus struct {
	Config     string `json:"config,omitempty"`
	CACert     string `json:"ca_cert,omitempty"`
	HostCert   string `json:"host_cert,omitempty"`
	KeyPreview string `json:"host_key,omitempty"`
}

// InitLighthouse generates the rendezvous node's material: a certificate
// for the reserved lighthouse address signed by the same CA, a CA
// certificate copy, and a configuration document with inbound traffic
// implicitly denied (the rendezvous node initiates no application
// traffic). One-time setup; fails with ErrAlreadyExists if material is
// present.
func (i *Issuer) InitLighthouse(ctx context.Context) error {
	dir := i.LighthouseDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create lighthouse directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, HostCertFileName)); err == nil {
		return fmt.Errorf("lighthouse material: %w", interfaces.ErrAlreadyExists)
	}
	if _, err := os.Stat(i.caCertPath()); err != nil {
		return fmt.Errorf("CA material not initialized: %w", interfaces.ErrNotFound)
	}

	err := i.signer.Sign(ctx, certsigner.SignRequest{
		Name:     lighthouseCertName,
		Networks: ipam.LighthouseAddr().String() + "/64",
		CACrt:    i.caCertPath(),
		CAKey:    i.caKeyPath(),
		OutCrt:   filepath.Join(dir, HostCertFileName),
		OutKey:   filepath.Join(dir, HostKeyFileName),
	})
	if err != nil {
		return err
	}

	if err := i.copyCACert(dir); err != nil {
		return err
	}

	if err := i.writeLighthouseConfig(dir); err != nil {
		return err
	}

	i.log.Info("Lighthouse material initialized", "dir", dir, "address", ipam.LighthouseAddr().String())
	return nil
}

// writeLighthouseConfig renders the rendezvous node's configuration: it
// answers lighthouse queries, keeps no static host map of its own, and
// accepts no inbound application traffic.
func (i *Issuer) writeLighthouseConfig(dir string) error {
	config := map[string]any{}
	if err := yaml.Unmarshal(baseConfig, &config); err != nil {
		return fmt.Errorf("failed to parse base config template: %w", err)
	}

	config["lighthouse"] = map[string]any{
		"am_lighthouse": true,
	}
	config["static_host_map"] = map[string]any{}
	config["firewall"] = map[string]any{
		"conntrack": map[string]any{
			"default_timeout": "10m",
			"tcp_timeout":     "12m",
			"udp_timeout":     "3m",
		},
		// No inbound rules: implicit deny.
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
		return fmt.Errorf("failed to encode lighthouse config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write lighthouse config: %w", err)
	}
	return nil
}

// LighthouseStatus reads the rendezvous node's material for display.
func (i *Issuer) LighthouseStatus() (LighthouseStatus, error) {
	dir := i.LighthouseDir()
	var status LighthouseStatus

	if data, err := readOptional(filepath.Join(dir, ConfigFileName)); err != nil {
		return LighthouseStatus{}, err
	} else if data != nil {
		status.Config = string(data)
	}
	if data, err := readOptional(filepath.Join(dir, CACertFileName)); err != nil {
		return LighthouseStatus{}, err
	} else if data != nil {
		status.CACert = string(data)
	}
	if data, err := readOptional(filepath.Join(dir, HostCertFileName)); err != nil {
		return LighthouseStatus{}, err
	} else if data != nil {
		status.HostCert = string(data)
	}
	if data, err := readOptional(filepath.Join(dir, HostKeyFileName)); err != nil {
		return LighthouseStatus{}, err
	} else if data != nil {
		preview := string(data)
		if len(preview) > keyPreviewLength {
			preview = preview[:keyPreviewLength]
		}
		status.KeyPreview = preview
	}

	return status, nil
}
