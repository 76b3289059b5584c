// Package certsigner wraps the external certificate signing tool. The tool
// is trusted as a black box with three modes: "ca" generates the root
// certificate pair, "sign" issues a leaf certificate, and "print" dumps a
// certificate's parsed fields as JSON. Any non-zero exit, timeout, or
// missing expected output file is surfaced as an ExternalToolError
// carrying the captured process output.
package certsigner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
)

// DefaultTimeout bounds a single signing-tool invocation.
const DefaultTimeout = 30 * time.Second

// Signer invokes the signing tool at a fixed executable path.
type Signer struct {
	path    string
	timeout time.Duration
	log     *slog.Logger
}

// New creates a signer for the tool at path.
func New(path string, log *slog.Logger) *Signer {
	return &Signer{path: path, timeout: DefaultTimeout, log: log}
}

// SignRequest describes a leaf certificate to issue.
type SignRequest struct {
	// Name is the certificate subject, usually the host name.
	Name string
	// Networks is the address claim in CIDR notation, e.g.
	// "fdc8:d559:29d:1::2/64".
	Networks string
	// Groups lists certificate group memberships.
	Groups []string
	// CACrt and CAKey locate the root material.
	CACrt string
	CAKey string
	// OutCrt and OutKey are the desired output paths.
	OutCrt string
	OutKey string
}

// CA generates the root certificate pair. Both output files must exist
// afterwards.
func (s *Signer) CA(ctx context.Context, name, outCrt, outKey string) error {
	args := []string{"ca", "-name", name, "-out-crt", outCrt, "-out-key", outKey}
	if _, err := s.run(ctx, args); err != nil {
		return err
	}
	return s.expectOutputs(args, outCrt, outKey)
}

// Sign issues a leaf certificate. Both output files must exist afterwards.
func (s *Signer) Sign(ctx context.Context, req SignRequest) error {
	args := []string{
		"sign",
		"-name", req.Name,
		"-networks", req.Networks,
		"-out-crt", req.OutCrt,
		"-out-key", req.OutKey,
		"-ca-crt", req.CACrt,
		"-ca-key", req.CAKey,
		"-version", "2",
	}
	if len(req.Groups) > 0 {
		args = append(args, "-groups", strings.Join(req.Groups, ","))
	}
	if _, err := s.run(ctx, args); err != nil {
		return err
	}
	return s.expectOutputs(args, req.OutCrt, req.OutKey)
}

// Print returns a certificate's parsed fields as JSON.
func (s *Signer) Print(ctx context.Context, certPath string) ([]byte, error) {
	return s.run(ctx, []string{"print", "-json", "-path", certPath})
}

func (s *Signer) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.log.Debug("Invoking signing tool", "tool", s.path, "args", strings.Join(args, " "))
	out, err := exec.CommandContext(ctx, s.path, args...).CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return nil, &interfaces.ExternalToolError{
			Tool:   s.path,
			Args:   args,
			Output: strings.TrimSpace(string(out)),
			Err:    err,
		}
	}
	return out, nil
}

// expectOutputs verifies the tool produced its output files. A zero exit
// without outputs is still a failure.
func (s *Signer) expectOutputs(args []string, paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return &interfaces.ExternalToolError{
				Tool:   s.path,
				Args:   args,
				Output: "",
				Err:    fmt.Errorf("expected output %s missing: %w", p, err),
			}
		}
	}
	return nil
}
