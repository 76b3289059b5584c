package httpserver

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/meshtower/overlay-provisioning-backend/certsigner"
	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/meshtower/overlay-provisioning-backend/invites"
	"github.com/meshtower/overlay-provisioning-backend/issuer"
	"github.com/meshtower/overlay-provisioning-backend/provisioner"
	"github.com/meshtower/overlay-provisioning-backend/registry"
	"github.com/meshtower/overlay-provisioning-backend/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeSignerScript = `#!/bin/sh
mode="$1"; shift
crt=""; key=""
while [ $# -gt 0 ]; do
  case "$1" in
    -out-crt) crt="$2"; shift 2 ;;
    -out-key) key="$2"; shift 2 ;;
    *) shift ;;
  esac
done
case "$mode" in
  ca|sign)
    echo "fake certificate" > "$crt"
    echo "fake key" > "$key"
    ;;
  print)
    echo '{"details":{"name":"fake"}}'
    ;;
esac
`

const fakeDaemonScript = `#!/bin/sh
sleep 60
`

type testStack struct {
	router chi.Router
	ledger *invites.Ledger
	issuer *issuer.Issuer
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dataDir := t.TempDir()

	toolDir := t.TempDir()
	signerPath := filepath.Join(toolDir, "fake-cert")
	require.NoError(t, os.WriteFile(signerPath, []byte(fakeSignerScript), 0o755))
	daemonPath := filepath.Join(toolDir, "fake-daemon")
	require.NoError(t, os.WriteFile(daemonPath, []byte(fakeDaemonScript), 0o755))

	store, err := registry.NewStore(dataDir, logger)
	require.NoError(t, err)
	ledger := invites.NewLedger(dataDir, store, logger)
	signer := certsigner.New(signerPath, logger)
	iss := issuer.New(dataDir, signer, store, "198.51.100.7:4242", logger)
	prov := provisioner.New(store, ledger, iss, logger)
	sup := supervisor.New(daemonPath, logger)
	t.Cleanup(func() { sup.Stop(context.Background()) })

	handler := NewHandler(prov, store, ledger, iss, sup, logger)
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	return &testStack{router: router, ledger: ledger, issuer: iss}
}

func (s *testStack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testStack) initCA(t *testing.T) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/ca", CreateCARequest{Name: "meshtower"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHandleCreateCA(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodGet, "/api/ca", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status issuer.CAStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Exists)

	s.initCA(t)

	rec = s.do(t, http.MethodGet, "/api/ca", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Exists)
	assert.True(t, status.KeyExists)

	// CA is a singleton: a second creation conflicts.
	rec = s.do(t, http.MethodPost, "/api/ca", CreateCARequest{Name: "other"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleCreateCAValidation(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodPost, "/api/ca", CreateCARequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateOrgAndList(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodPost, "/api/orgs/new", CreateOrgRequest{Name: "Acme Corp"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created CreateOrgResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "acmecorp", created.Org)
	assert.Equal(t, interfaces.Subnet("fdc8:d559:029d:0001::/64"), created.Subnet)

	// Creation is idempotent on the normalized name.
	rec = s.do(t, http.MethodPost, "/api/orgs/new", CreateOrgRequest{Name: "acmecorp"})
	require.Equal(t, http.StatusOK, rec.Code)
	var again CreateOrgResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, created.Subnet, again.Subnet)

	rec = s.do(t, http.MethodGet, "/api/orgs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orgs OrgsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orgs))
	require.Len(t, orgs.Orgs, 1)
	assert.Equal(t, "acmecorp", orgs.Orgs[0].Name)
}

func TestHandleCreateOrgInvalidName(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodPost, "/api/orgs/new", CreateOrgRequest{Name: "!!!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateHostFlow(t *testing.T) {
	s := newTestStack(t)
	s.initCA(t)

	rec := s.do(t, http.MethodPost, "/api/hosts/new", CreateHostRequest{Org: "acme", Name: "web", Tags: []string{"db"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result provisioner.HostResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "acme", result.Org)
	assert.Equal(t, "web", result.Host.Name)
	assert.Equal(t, "fdc8:d559:29d:1::1", result.Host.Address)

	rec = s.do(t, http.MethodGet, "/api/orgs/acme/hosts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hosts HostsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hosts))
	require.Len(t, hosts.Hosts, 1)

	rec = s.do(t, http.MethodGet, "/api/hosts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all AllHostsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all.Hosts, 1)
	assert.Equal(t, "acme", all.Hosts[0].Org)
}

func TestHandleCreateHostWithoutCA(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodPost, "/api/hosts/new", CreateHostRequest{Org: "acme", Name: "web"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHostDetail(t *testing.T) {
	s := newTestStack(t)
	s.initCA(t)

	rec := s.do(t, http.MethodPost, "/api/hosts/new", CreateHostRequest{Org: "acme", Name: "web"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orgs/acme/hosts/web", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var detail HostDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "web", detail.Host.Name)
	assert.True(t, detail.Material.Complete)
	assert.NotEmpty(t, detail.Config)
	assert.NotEmpty(t, detail.Cert)
	assert.NotEmpty(t, detail.CertDetails)

	rec = s.do(t, http.MethodGet, "/api/orgs/acme/hosts/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orgs/ghost/hosts/web", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDownloads(t *testing.T) {
	s := newTestStack(t)
	s.initCA(t)

	rec := s.do(t, http.MethodPost, "/api/hosts/new", CreateHostRequest{Org: "acme", Name: "web"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orgs/acme/hosts/web/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "acme_web_config.zip")

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"ca.crt", "config.yaml", "host.crt", "host.key"}, names)

	rec = s.do(t, http.MethodGet, "/api/orgs/acme/hosts/web/download_config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "static_host_map")

	rec = s.do(t, http.MethodGet, "/api/orgs/acme/hosts/ghost/download", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleInviteLifecycle(t *testing.T) {
	s := newTestStack(t)
	s.initCA(t)

	// The target org must exist before invites can be generated for it.
	rec := s.do(t, http.MethodPost, "/api/invites/generate", GenerateInviteRequest{Org: "acme"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/orgs/new", CreateOrgRequest{Name: "acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/invites/generate", GenerateInviteRequest{Org: "acme", DaysValid: intPtr(7), Uses: intPtr(2)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var invResp InviteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invResp))
	assert.Len(t, invResp.Invite.Code, 32)
	assert.Equal(t, 2, invResp.Invite.AvailableUses)
	assert.True(t, invResp.Invite.Active)

	rec = s.do(t, http.MethodGet, "/api/invites?org=acme&active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list InvitesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Invites, 1)

	rec = s.do(t, http.MethodPost, "/api/invites/"+invResp.Invite.Code+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/invites?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Invites)

	// A deactivated invite cannot be redeemed.
	rec = s.do(t, http.MethodPost, "/api/client/redeem_invite", RedeemInviteRequest{InviteCode: invResp.Invite.Code, Name: "laptop"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func intPtr(v int) *int { return &v }

func TestHandleGenerateInviteExplicitZero(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodPost, "/api/orgs/new", CreateOrgRequest{Name: "acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Omitted fields get server defaults, explicit zeroes are rejected.
	rec = s.do(t, http.MethodPost, "/api/invites/generate", GenerateInviteRequest{Org: "acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp InviteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Invite.AvailableUses)

	rec = s.do(t, http.MethodPost, "/api/invites/generate", GenerateInviteRequest{Org: "acme", Uses: intPtr(0)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/invites/generate", GenerateInviteRequest{Org: "acme", DaysValid: intPtr(0)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeactivateInvalidCode(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodPost, "/api/invites/not-a-code!/deactivate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListInvitesBadFilter(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodGet, "/api/invites?active=banana", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRedeemInvite(t *testing.T) {
	s := newTestStack(t)
	s.initCA(t)

	rec := s.do(t, http.MethodPost, "/api/orgs/new", CreateOrgRequest{Name: "acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	invite, err := s.ledger.Generate("acme", 7, 1)
	require.NoError(t, err)

	rec = s.do(t, http.MethodPost, "/api/client/redeem_invite", RedeemInviteRequest{InviteCode: invite.Code, Name: "laptop", Tags: []string{"dev"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	assert.Len(t, zr.File, 4)

	// Single-use invite is now exhausted.
	rec = s.do(t, http.MethodPost, "/api/client/redeem_invite", RedeemInviteRequest{InviteCode: invite.Code, Name: "laptop"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/client/redeem_invite", RedeemInviteRequest{InviteCode: "nosuchcode", Name: "laptop"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLighthouse(t *testing.T) {
	s := newTestStack(t)

	// No CA yet.
	rec := s.do(t, http.MethodPost, "/api/lighthouse/create_config", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.initCA(t)

	rec = s.do(t, http.MethodPost, "/api/lighthouse/create_config", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/lighthouse/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status issuer.LighthouseStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Contains(t, status.Config, "am_lighthouse: true")

	// Lighthouse material is created once.
	rec = s.do(t, http.MethodPost, "/api/lighthouse/create_config", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleDaemonLifecycle(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodGet, "/api/daemon/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status supervisor.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, supervisor.StateStopped, status.State)

	// Start requires the lighthouse config to exist.
	rec = s.do(t, http.MethodPost, "/api/daemon/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.initCA(t)
	rec = s.do(t, http.MethodPost, "/api/lighthouse/create_config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/daemon/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/daemon/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, supervisor.StateRunning, status.State)
	assert.NotZero(t, status.PID)

	rec = s.do(t, http.MethodPost, "/api/daemon/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/daemon/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/daemon/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleMalformedBody(t *testing.T) {
	s := newTestStack(t)
	req := httptest.NewRequest(http.MethodPost, "/api/orgs/new", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
