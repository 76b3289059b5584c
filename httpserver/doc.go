/*
Package httpserver implements the HTTP server for the overlay network
provisioning system.

It exposes the API through which administrators manage organizations,
hosts, invitations and the certificate authority, and through which
enrolling machines redeem invitation codes for credential bundles. The
server wires the provisioning facade, the registry, the invite ledger,
the credential issuer and the daemon supervisor behind a single router.

# API Features

  - Organization registration with automatic subnet allocation
  - Host provisioning with certificate issuance and config generation
  - Invitation lifecycle: generate, list, deactivate, redeem
  - Credential bundle downloads as zip archives
  - CA and lighthouse material initialization and inspection
  - Overlay daemon start/stop/status control
  - Health and diagnostics endpoints (livez, readyz, drain, pprof)

# Components

  - Server: HTTP server shell with graceful shutdown and an optional
    metrics sidecar
  - Handler: request handlers mapping the API onto the engine packages
  - Client: typed client for the API, used by the admin CLI

Request failures are mapped onto HTTP status codes by error kind:
validation failures return 400, missing resources 404, state conflicts
409, permission problems 403, and signing-tool failures 502 with the
captured tool output.
*/
package httpserver
