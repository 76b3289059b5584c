// Package registry implements the durable organization and host registry.
//
// State lives as whole YAML documents under the configured data root:
// orgs/orgs.yaml maps organization names to their assigned /64 subnet, and
// orgs/<org>/hosts.yaml holds the ordered host list of one organization.
// Every read-modify-write sequence is serialized per resource: the
// organization registry has one mutex, and each organization's host list
// has its own, so concurrent creations cannot double-allocate a subnet,
// an address, or a deduplicated host name.
package registry
