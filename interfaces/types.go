package interfaces

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"
)

// OrgGroupPrefix is reserved for the organization-wide certificate group.
// Host tags must not begin with it, otherwise a host could claim membership
// of another organization's group.
const OrgGroupPrefix = "org"

var safeString = regexp.MustCompile(`^[a-z0-9]+$`)

// Sanitize lowercases the input and strips every character outside [a-z0-9].
// The result may be empty, which NewOrgName and friends reject.
func Sanitize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// OrgName is a normalized organization identifier, unique and immutable.
type OrgName string

// NewOrgName sanitizes and validates an organization name.
func NewOrgName(raw string) (OrgName, error) {
	name := Sanitize(raw)
	if !safeString.MatchString(name) {
		return "", fmt.Errorf("org name %q: %w", raw, ErrInvalidArgument)
	}
	return OrgName(name), nil
}

func (n OrgName) String() string { return string(n) }

// Group returns the organization's reserved certificate group identifier.
func (n OrgName) Group() string { return OrgGroupPrefix + "_" + string(n) }

// HostName is a normalized host identifier, unique within its organization.
type HostName string

// NewHostName sanitizes and validates a host name.
func NewHostName(raw string) (HostName, error) {
	name := Sanitize(raw)
	if !safeString.MatchString(name) {
		return "", fmt.Errorf("host name %q: %w", raw, ErrInvalidArgument)
	}
	return HostName(name), nil
}

func (n HostName) String() string { return string(n) }

var inviteCodeString = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// NewInviteCode validates an invitation code. Codes are matched byte for
// byte against the ledger, so the input is trimmed but never case-folded.
func NewInviteCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if !inviteCodeString.MatchString(code) {
		return "", fmt.Errorf("invite code: %w", ErrInvalidArgument)
	}
	return code, nil
}

// NewTags sanitizes and validates host tags. Tags follow the same character
// rule as names and must not begin with the reserved organization-group
// prefix.
func NewTags(raw []string) ([]string, error) {
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		tag := Sanitize(t)
		if !safeString.MatchString(tag) {
			return nil, fmt.Errorf("tag %q: %w", t, ErrInvalidArgument)
		}
		if strings.HasPrefix(tag, OrgGroupPrefix) {
			return nil, fmt.Errorf("tag %q uses reserved prefix %q: %w", t, OrgGroupPrefix, ErrInvalidArgument)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// Subnet is a /64 address block assigned to one organization, formatted as
// "fdc8:d559:029d:0001::/64".
type Subnet string

func (s Subnet) String() string { return string(s) }

// Prefix parses the subnet into a netip.Prefix.
func (s Subnet) Prefix() (netip.Prefix, error) {
	p, err := netip.ParsePrefix(string(s))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("subnet %q: %w", s, ErrInvalidArgument)
	}
	return p, nil
}

// ID extracts the 16-bit subnet identifier (the fourth hextet).
func (s Subnet) ID() (uint16, error) {
	p, err := s.Prefix()
	if err != nil {
		return 0, err
	}
	b := p.Addr().As16()
	return uint16(b[6])<<8 | uint16(b[7]), nil
}

// Org pairs an organization name with its assigned subnet.
type Org struct {
	Name   string `yaml:"name" json:"name"`
	Subnet Subnet `yaml:"subnet" json:"subnet"`
}

// Host is a single registered node. Address is the host's assigned IPv6
// address within the organization's subnet; the YAML key matches the
// on-disk hosts.yaml layout.
type Host struct {
	Name    string   `yaml:"name" json:"name"`
	Address string   `yaml:"ip" json:"ip"`
	Tags    []string `yaml:"tags" json:"tags"`
}

// OrgHost is a host annotated with its owning organization, used by the
// global host listing.
type OrgHost struct {
	Org  string `json:"org"`
	Host `yaml:",inline"`
}

// Invite is a single invitation token. An invite is redeemable iff it is
// active, has uses left and has not expired.
type Invite struct {
	Code          string    `yaml:"code" json:"code"`
	Org           string    `yaml:"org" json:"org"`
	ExpiresAt     time.Time `yaml:"expires_at" json:"expires_at"`
	AvailableUses int       `yaml:"available_uses" json:"available_uses"`
	Active        bool      `yaml:"active" json:"active"`
}
