// Package invites implements the durable invitation-token ledger. Invites
// let a remote party self-enroll a host into an organization without
// administrator interaction; each carries a high-entropy code, an expiry,
// and a remaining-uses counter.
package invites

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"gopkg.in/yaml.v3"
)

const (
	codeLength   = 32
	codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Redemption failure reasons, each classified as ErrInvalidState so
// clients can show the right message.
var (
	ErrInactive  = fmt.Errorf("invite deactivated: %w", interfaces.ErrInvalidState)
	ErrExpired   = fmt.Errorf("invite expired: %w", interfaces.ErrInvalidState)
	ErrExhausted = fmt.Errorf("invite exhausted: %w", interfaces.ErrInvalidState)
)

// OrgLookup answers whether a target organization exists. Satisfied by
// *registry.Store.
type OrgLookup interface {
	HasOrg(org interfaces.OrgName) (bool, error)
}

// Ledger is the invite ledger persisted as a single YAML document. All
// read-modify-write sequences run under one mutex, so concurrent
// redemptions of the same code are serialized end-to-end.
type Ledger struct {
	path string
	orgs OrgLookup
	log  *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewLedger creates an invite ledger stored at <dataDir>/invites.yaml.
func NewLedger(dataDir string, orgs OrgLookup, log *slog.Logger) *Ledger {
	return &Ledger{
		path: filepath.Join(dataDir, "invites.yaml"),
		orgs: orgs,
		log:  log,
		now:  time.Now,
	}
}

// Generate creates a new invite for an existing organization. The invite
// is valid for daysValid days and can be redeemed uses times.
func (l *Ledger) Generate(org interfaces.OrgName, daysValid, uses int) (interfaces.Invite, error) {
	if daysValid <= 0 {
		return interfaces.Invite{}, fmt.Errorf("days_valid must be positive: %w", interfaces.ErrInvalidArgument)
	}
	if uses < 1 {
		return interfaces.Invite{}, fmt.Errorf("uses must be at least 1: %w", interfaces.ErrInvalidArgument)
	}
	ok, err := l.orgs.HasOrg(org)
	if err != nil {
		return interfaces.Invite{}, err
	}
	if !ok {
		return interfaces.Invite{}, fmt.Errorf("org %q: %w", org.String(), interfaces.ErrNotFound)
	}

	code, err := randomCode(codeLength)
	if err != nil {
		return interfaces.Invite{}, fmt.Errorf("failed to generate invite code: %w", err)
	}

	invite := interfaces.Invite{
		Code:          code,
		Org:           org.String(),
		ExpiresAt:     l.now().UTC().Add(time.Duration(daysValid) * 24 * time.Hour),
		AvailableUses: uses,
		Active:        true,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	invites, err := l.load()
	if err != nil {
		return interfaces.Invite{}, err
	}
	invites = append(invites, invite)
	if err := l.save(invites); err != nil {
		return interfaces.Invite{}, err
	}

	l.log.Info("Invite generated", "org", org.String(), "uses", uses, "expiresAt", invite.ExpiresAt)
	return invite, nil
}

// List returns invites, optionally filtered by organization and active
// flag. Never mutates the ledger.
func (l *Ledger) List(org string, active *bool) ([]interfaces.Invite, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	invites, err := l.load()
	if err != nil {
		return nil, err
	}
	out := make([]interfaces.Invite, 0, len(invites))
	for _, inv := range invites {
		if org != "" && inv.Org != org {
			continue
		}
		if active != nil && inv.Active != *active {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// Redeem consumes one use of the invite identified by code. On success the
// decremented invite is persisted before Redeem returns; when the counter
// reaches zero the invite is also deactivated.
//
// Redemption is deliberately consumed before host creation proceeds: if
// issuance fails downstream, the use is not refunded. Refunding would need
// a compensating ledger write that can itself fail, leaving a host record
// paired with a restored invite, which is harder to reason about than a
// burnt use.
func (l *Ledger) Redeem(code string) (interfaces.Invite, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	invites, err := l.load()
	if err != nil {
		return interfaces.Invite{}, err
	}

	idx := findCode(invites, code)
	if idx < 0 {
		return interfaces.Invite{}, fmt.Errorf("invite code: %w", interfaces.ErrNotFound)
	}

	inv := invites[idx]
	switch {
	case !inv.Active:
		return interfaces.Invite{}, ErrInactive
	case !l.now().Before(inv.ExpiresAt):
		return interfaces.Invite{}, ErrExpired
	case inv.AvailableUses <= 0:
		return interfaces.Invite{}, ErrExhausted
	}

	inv.AvailableUses--
	if inv.AvailableUses == 0 {
		inv.Active = false
	}
	invites[idx] = inv
	if err := l.save(invites); err != nil {
		return interfaces.Invite{}, err
	}

	l.log.Info("Invite redeemed", "org", inv.Org, "remainingUses", inv.AvailableUses)
	return inv, nil
}

// Deactivate marks an invite inactive regardless of remaining uses.
// Invites are never physically deleted.
func (l *Ledger) Deactivate(code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	invites, err := l.load()
	if err != nil {
		return err
	}
	idx := findCode(invites, code)
	if idx < 0 {
		return fmt.Errorf("invite code: %w", interfaces.ErrNotFound)
	}
	invites[idx].Active = false
	if err := l.save(invites); err != nil {
		return err
	}
	l.log.Info("Invite deactivated", "org", invites[idx].Org)
	return nil
}

func findCode(invites []interfaces.Invite, code string) int {
	for i, inv := range invites {
		if inv.Code == code {
			return i
		}
	}
	return -1
}

func (l *Ledger) load() ([]interfaces.Invite, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("failed to read invite ledger: %v: %w", err, interfaces.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("failed to read invite ledger: %w", err)
	}
	var invites []interfaces.Invite
	if err := yaml.Unmarshal(data, &invites); err != nil {
		return nil, fmt.Errorf("failed to parse invite ledger: %w", err)
	}
	return invites, nil
}

func (l *Ledger) save(invites []interfaces.Invite) error {
	data, err := yaml.Marshal(invites)
	if err != nil {
		return fmt.Errorf("failed to encode invite ledger: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write invite ledger: %w", err)
	}
	return nil
}

// randomCode draws length characters from the alphanumeric alphabet using
// crypto/rand. 32 characters over 62 symbols is ~190 bits of entropy.
func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
