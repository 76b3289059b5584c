package issuer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
)

// keyPreviewLength limits how much of a private key status responses ever
// expose.
const keyPreviewLength = 32

// CAStatus describes the CA singleton material on disk. KeyPreview only
// ever contains the first few characters of the key.
type CAStatus struct {
	Exists     bool   `json:"exists"`
	Cert       string `json:"cert,omitempty"`
	KeyExists  bool   `json:"key_exists"`
	KeyPreview string `json:"key,omitempty"`
}

// InitCA generates the root certificate pair. The CA is a process-wide
// singleton: creation fails with ErrAlreadyExists if material is already
// present, never silently overwriting it.
func (i *Issuer) InitCA(ctx context.Context, name string) error {
	if err := os.MkdirAll(filepath.Dir(i.caCertPath()), 0755); err != nil {
		return fmt.Errorf("failed to create certs directory: %w", err)
	}
	if _, err := os.Stat(i.caCertPath()); err == nil {
		return fmt.Errorf("CA certificate: %w", interfaces.ErrAlreadyExists)
	}
	if err := i.signer.CA(ctx, name, i.caCertPath(), i.caKeyPath()); err != nil {
		return err
	}
	i.log.Info("CA material initialized", "name", name, "cert", i.caCertPath())
	return nil
}

// CAStatus reports whether CA material exists, with the certificate text
// and a truncated key preview.
func (i *Issuer) CAStatus() (CAStatus, error) {
	var status CAStatus

	cert, err := readOptional(i.caCertPath())
	if err != nil {
		return CAStatus{}, err
	}
	if cert != nil {
		status.Exists = true
		status.Cert = string(cert)
	}

	key, err := readOptional(i.caKeyPath())
	if err != nil {
		return CAStatus{}, err
	}
	if key != nil {
		status.KeyExists = true
		preview := string(key)
		if len(preview) > keyPreviewLength {
			preview = preview[:keyPreviewLength]
		}
		status.KeyPreview = preview
	}

	return status, nil
}

// CAInfo returns the CA certificate's parsed fields as JSON.
func (i *Issuer) CAInfo(ctx context.Context) ([]byte, error) {
	if _, err := os.Stat(i.caCertPath()); err != nil {
		return nil, fmt.Errorf("CA certificate: %w", interfaces.ErrNotFound)
	}
	return i.signer.Print(ctx, i.caCertPath())
}

// readOptional reads a file that may legitimately be absent. Permission
// failures are mapped to ErrPermissionDenied.
func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if os.IsPermission(err) {
		return nil, fmt.Errorf("reading %s: %w", path, interfaces.ErrPermissionDenied)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
