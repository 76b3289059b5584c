package registry

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/meshtower/overlay-provisioning-backend/ipam"
	"gopkg.in/yaml.v3"
)

// Store owns the on-disk organization registry and per-organization host
// lists. The filesystem tree is the sole source of truth: every mutating
// operation re-reads the current document under the resource lock before
// writing it back.
type Store struct {
	dataDir string
	log     *slog.Logger

	orgMu sync.Mutex // serializes orgs.yaml read-modify-write

	hostMuMu sync.Mutex
	hostMu   map[interfaces.OrgName]*sync.Mutex // per-org hosts.yaml locks
}

// NewStore creates a registry store rooted at dataDir and ensures the
// orgs directory exists.
func NewStore(dataDir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "orgs"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create orgs directory: %w", wrapFSErr(err))
	}
	return &Store{
		dataDir: dataDir,
		log:     log,
		hostMu:  make(map[interfaces.OrgName]*sync.Mutex),
	}, nil
}

// DataDir returns the configured data root.
func (s *Store) DataDir() string { return s.dataDir }

func (s *Store) orgsFile() string {
	return filepath.Join(s.dataDir, "orgs", "orgs.yaml")
}

func (s *Store) orgDir(org interfaces.OrgName) string {
	return filepath.Join(s.dataDir, "orgs", org.String())
}

func (s *Store) hostsFile(org interfaces.OrgName) string {
	return filepath.Join(s.orgDir(org), "hosts.yaml")
}

// HostDir returns the directory holding a host's material bundle.
func (s *Store) HostDir(org interfaces.OrgName, host interfaces.HostName) string {
	return filepath.Join(s.orgDir(org), "hosts", host.String())
}

func (s *Store) lockOrg(org interfaces.OrgName) *sync.Mutex {
	s.hostMuMu.Lock()
	defer s.hostMuMu.Unlock()
	mu, ok := s.hostMu[org]
	if !ok {
		mu = &sync.Mutex{}
		s.hostMu[org] = mu
	}
	return mu
}

// EnsureOrg looks up an organization's subnet, creating the organization
// with a freshly allocated subnet if it does not exist yet. The lookup and
// the allocation are serialized under the org-registry lock so two
// concurrent calls for the same new name observe a single allocation.
func (s *Store) EnsureOrg(org interfaces.OrgName) (interfaces.Subnet, error) {
	s.orgMu.Lock()
	defer s.orgMu.Unlock()

	orgs, err := s.loadOrgs()
	if err != nil {
		return "", err
	}
	if subnet, ok := orgs[org.String()]; ok {
		return subnet, nil
	}

	subnets := make([]interfaces.Subnet, 0, len(orgs))
	for _, subnet := range orgs {
		subnets = append(subnets, subnet)
	}
	subnet, err := ipam.AllocateSubnet(ipam.UsedSubnetIDs(subnets))
	if err != nil {
		return "", err
	}

	orgs[org.String()] = subnet
	if err := s.saveOrgs(orgs); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.orgDir(org), 0755); err != nil {
		return "", fmt.Errorf("failed to create org directory: %w", wrapFSErr(err))
	}

	s.log.Info("Organization created", "org", org.String(), "subnet", subnet.String())
	return subnet, nil
}

// HasOrg reports whether an organization exists in the registry.
func (s *Store) HasOrg(org interfaces.OrgName) (bool, error) {
	s.orgMu.Lock()
	defer s.orgMu.Unlock()
	orgs, err := s.loadOrgs()
	if err != nil {
		return false, err
	}
	_, ok := orgs[org.String()]
	return ok, nil
}

// Orgs lists all organizations with their subnets, sorted by name.
func (s *Store) Orgs() ([]interfaces.Org, error) {
	s.orgMu.Lock()
	defer s.orgMu.Unlock()
	orgs, err := s.loadOrgs()
	if err != nil {
		return nil, err
	}
	out := make([]interfaces.Org, 0, len(orgs))
	for name, subnet := range orgs {
		out = append(out, interfaces.Org{Name: name, Subnet: subnet})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateHost registers a new host in the organization, allocating the
// lowest free address in the organization's subnet. A host name already
// taken within the organization is deduplicated by appending an
// incrementing numeric suffix. The organization is created on first use.
// The returned host record is persisted before any certificate issuance
// happens.
func (s *Store) CreateHost(org interfaces.OrgName, name interfaces.HostName, tags []string) (interfaces.Host, interfaces.Subnet, error) {
	subnet, err := s.EnsureOrg(org)
	if err != nil {
		return interfaces.Host{}, "", err
	}

	mu := s.lockOrg(org)
	mu.Lock()
	defer mu.Unlock()

	hosts, err := s.loadHosts(org)
	if err != nil {
		return interfaces.Host{}, "", err
	}

	existing := make(map[string]struct{}, len(hosts))
	used := make(map[netip.Addr]struct{}, len(hosts))
	for _, h := range hosts {
		existing[h.Name] = struct{}{}
		if addr, err := netip.ParseAddr(h.Address); err == nil {
			used[addr] = struct{}{}
		}
	}

	final := name.String()
	for suffix := 1; ; suffix++ {
		if _, taken := existing[final]; !taken {
			break
		}
		final = name.String() + strconv.Itoa(suffix)
	}

	addr, err := ipam.AllocateHostAddr(subnet, used)
	if err != nil {
		return interfaces.Host{}, "", err
	}

	host := interfaces.Host{Name: final, Address: addr.String(), Tags: tags}
	hosts = append(hosts, host)
	if err := s.saveHosts(org, hosts); err != nil {
		return interfaces.Host{}, "", err
	}

	s.log.Info("Host registered", "org", org.String(), "host", final, "address", host.Address)
	return host, subnet, nil
}

// Hosts lists the hosts of one organization in registration order.
// An unknown organization yields ErrNotFound. Reads take the same per-org
// lock as CreateHost so they never observe a half-written host list.
func (s *Store) Hosts(org interfaces.OrgName) ([]interfaces.Host, error) {
	ok, err := s.HasOrg(org)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("org %q: %w", org.String(), interfaces.ErrNotFound)
	}

	mu := s.lockOrg(org)
	mu.Lock()
	defer mu.Unlock()
	return s.loadHosts(org)
}

// Host looks up a single host record by organization and name.
func (s *Store) Host(org interfaces.OrgName, name interfaces.HostName) (interfaces.Host, error) {
	hosts, err := s.Hosts(org)
	if err != nil {
		return interfaces.Host{}, err
	}
	for _, h := range hosts {
		if h.Name == name.String() {
			return h, nil
		}
	}
	return interfaces.Host{}, fmt.Errorf("host %q in org %q: %w", name.String(), org.String(), interfaces.ErrNotFound)
}

// AllHosts lists every host across all organizations.
func (s *Store) AllHosts() ([]interfaces.OrgHost, error) {
	orgs, err := s.Orgs()
	if err != nil {
		return nil, err
	}
	var out []interfaces.OrgHost
	for _, org := range orgs {
		name := interfaces.OrgName(org.Name)
		mu := s.lockOrg(name)
		mu.Lock()
		hosts, err := s.loadHosts(name)
		mu.Unlock()
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			out = append(out, interfaces.OrgHost{Org: org.Name, Host: h})
		}
	}
	return out, nil
}

func (s *Store) loadOrgs() (map[string]interfaces.Subnet, error) {
	data, err := os.ReadFile(s.orgsFile())
	if os.IsNotExist(err) {
		return map[string]interfaces.Subnet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read org registry: %w", wrapFSErr(err))
	}
	orgs := map[string]interfaces.Subnet{}
	if err := yaml.Unmarshal(data, &orgs); err != nil {
		return nil, fmt.Errorf("failed to parse org registry: %w", err)
	}
	return orgs, nil
}

func (s *Store) saveOrgs(orgs map[string]interfaces.Subnet) error {
	data, err := yaml.Marshal(orgs)
	if err != nil {
		return fmt.Errorf("failed to encode org registry: %w", err)
	}
	if err := os.WriteFile(s.orgsFile(), data, 0644); err != nil {
		return fmt.Errorf("failed to write org registry: %w", wrapFSErr(err))
	}
	return nil
}

func (s *Store) loadHosts(org interfaces.OrgName) ([]interfaces.Host, error) {
	data, err := os.ReadFile(s.hostsFile(org))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read host list: %w", wrapFSErr(err))
	}
	var hosts []interfaces.Host
	if err := yaml.Unmarshal(data, &hosts); err != nil {
		return nil, fmt.Errorf("failed to parse host list: %w", err)
	}
	return hosts, nil
}

func (s *Store) saveHosts(org interfaces.OrgName, hosts []interfaces.Host) error {
	if err := os.MkdirAll(s.orgDir(org), 0755); err != nil {
		return fmt.Errorf("failed to create org directory: %w", wrapFSErr(err))
	}
	data, err := yaml.Marshal(hosts)
	if err != nil {
		return fmt.Errorf("failed to encode host list: %w", err)
	}
	if err := os.WriteFile(s.hostsFile(org), data, 0644); err != nil {
		return fmt.Errorf("failed to write host list: %w", wrapFSErr(err))
	}
	return nil
}

// wrapFSErr maps permission failures to ErrPermissionDenied so they stay
// distinguishable from missing resources.
func wrapFSErr(err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("%v: %w", err, interfaces.ErrPermissionDenied)
	}
	return err
}
