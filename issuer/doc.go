// Package issuer orchestrates the creation of host material: the working
// directory, the network configuration document, the signed certificate
// and key, and a local copy of the CA certificate. The four artifacts are
// one logical unit; MaterialStatus detects bundles left partial by a
// failed issuance.
//
// The package also owns the two one-time setup entry points: CA root
// material generation and lighthouse (rendezvous node) material
// generation. Both refuse to overwrite existing material.
package issuer
