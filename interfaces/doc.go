// Package interfaces defines the core types and error taxonomy shared by the
// overlay provisioning components. It provides the contract between the
// registry, invite ledger, credential issuer and HTTP layer without
// implementation details.
package interfaces
