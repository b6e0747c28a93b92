package http

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/audit"
	"github.com/fleetdeck/fleetdeck/internal/auth"
	"github.com/fleetdeck/fleetdeck/internal/hosts"
	"github.com/fleetdeck/fleetdeck/internal/lifecycle"
	"github.com/fleetdeck/fleetdeck/internal/operators"
	"github.com/fleetdeck/fleetdeck/internal/sshpool"
	"github.com/fleetdeck/fleetdeck/internal/terminal"
	"github.com/fleetdeck/fleetdeck/internal/vault"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type noopRunner struct{}

func (noopRunner) Lease(context.Context, *hosts.Target) (*sshpool.Handle, error) {
	return nil, sshpool.ErrConnection
}
func (noopRunner) Release(*sshpool.Handle) {}
func (noopRunner) Execute(context.Context, *sshpool.Handle, string, time.Duration) (sshpool.ExecResult, error) {
	return sshpool.ExecResult{}, sshpool.ErrConnection
}

type noopPooler struct{}

func (noopPooler) Lease(context.Context, *hosts.Target) (*sshpool.Handle, error) {
	return nil, sshpool.ErrConnection
}
func (noopPooler) Release(*sshpool.Handle) {}
func (noopPooler) Shell(context.Context, *sshpool.Handle, sshpool.PTY) (sshpool.ShellConn, error) {
	return nil, sshpool.ErrConnection
}

func testEngine(t *testing.T) (*gin.Engine, *operators.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := audit.NewRecorder(audit.NewMemoryStore())
	vaultSvc, err := vault.NewService(vault.NewMemoryStore(), recorder, vault.Config{MasterSecret: "test-secret"})
	require.NoError(t, err)
	hostSvc := hosts.NewService(hosts.NewMemoryStore(), recorder)
	operatorSvc := operators.NewService(operators.NewMemoryStore())

	controller := lifecycle.NewController(lifecycle.Config{}, noopRunner{}, hostSvc, lifecycle.NewMemoryStatusStore(), recorder, nil)
	relay := terminal.NewRelay(terminal.DefaultConfig(), noopPooler{}, hostSvc, terminal.NewMemoryStore(), recorder)
	t.Cleanup(relay.Shutdown)

	engine := gin.New()
	SetupRoute(engine, &Services{
		JWTConfig: auth.Config{Secret: "jwt-test-secret"},
		Operators: operatorSvc,
		Vault:     vaultSvc,
		Hosts:     hostSvc,
		Lifecycle: controller,
		Relay:     relay,
		Recorder:  recorder,
	})
	return engine, operatorSvc
}

func loginAs(t *testing.T, engine *gin.Engine, svc *operators.Service, username, role string) string {
	t.Helper()
	_, err := svc.Register(context.Background(), username, "test-password-123", role)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"username": username, "password": "test-password-123"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(nethttp.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	require.Equal(t, nethttp.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func doJSON(engine *gin.Engine, method, path, token string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func testKeyPEM(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	engine, svc := testEngine(t)
	_, err := svc.Register(context.Background(), "alice", "test-password-123", auth.RoleOperator)
	require.NoError(t, err)

	w := doJSON(engine, nethttp.MethodPost, "/auth/login", "",
		map[string]string{"username": "alice", "password": "wrong-password"})
	assert.Equal(t, nethttp.StatusUnauthorized, w.Code)
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	engine, _ := testEngine(t)

	w := doJSON(engine, nethttp.MethodGet, "/api/v1/credentials", "", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, w.Code)
}

func TestCredentialLifecycleOverAPI(t *testing.T) {
	engine, svc := testEngine(t)
	token := loginAs(t, engine, svc, "alice", auth.RoleOperator)

	w := doJSON(engine, nethttp.MethodPost, "/api/v1/credentials", token,
		map[string]string{"name": "prod-deploy", "private_key": testKeyPEM(t)})
	require.Equal(t, nethttp.StatusCreated, w.Code)

	var created struct {
		ID          string `json:"id"`
		Fingerprint string `json:"fingerprint"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Contains(t, created.Fingerprint, "SHA256:")

	w = doJSON(engine, nethttp.MethodGet, "/api/v1/credentials", token, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.ID)
	// Key material never appears in responses.
	assert.NotContains(t, w.Body.String(), "PRIVATE KEY")

	w = doJSON(engine, nethttp.MethodDelete, "/api/v1/credentials/"+created.ID, token, nil)
	assert.Equal(t, nethttp.StatusNoContent, w.Code)

	w = doJSON(engine, nethttp.MethodDelete, "/api/v1/credentials/"+created.ID, token, nil)
	assert.Equal(t, nethttp.StatusNotFound, w.Code)
}

func TestStoreCredentialRejectsGarbage(t *testing.T) {
	engine, svc := testEngine(t)
	token := loginAs(t, engine, svc, "alice", auth.RoleOperator)

	w := doJSON(engine, nethttp.MethodPost, "/api/v1/credentials", token,
		map[string]string{"name": "junk", "private_key": "not a key"})
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
}

func TestViewerCannotMutate(t *testing.T) {
	engine, svc := testEngine(t)
	token := loginAs(t, engine, svc, "bob", auth.RoleViewer)

	w := doJSON(engine, nethttp.MethodPost, "/api/v1/credentials", token,
		map[string]string{"name": "x", "private_key": testKeyPEM(t)})
	assert.Equal(t, nethttp.StatusForbidden, w.Code)

	// Read access stays open to viewers.
	w = doJSON(engine, nethttp.MethodGet, "/api/v1/credentials", token, nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
}

func TestAuditEndpointAdminOnly(t *testing.T) {
	engine, svc := testEngine(t)
	operatorToken := loginAs(t, engine, svc, "alice", auth.RoleOperator)
	adminToken := loginAs(t, engine, svc, "root", auth.RoleAdmin)

	w := doJSON(engine, nethttp.MethodGet, "/api/v1/audit", operatorToken, nil)
	assert.Equal(t, nethttp.StatusForbidden, w.Code)

	w = doJSON(engine, nethttp.MethodGet, "/api/v1/audit", adminToken, nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
}

func TestLifecycleApplyOnUnknownHost(t *testing.T) {
	engine, svc := testEngine(t)
	token := loginAs(t, engine, svc, "alice", auth.RoleOperator)

	w := doJSON(engine, nethttp.MethodPost, "/api/v1/hosts/nope/agent", token,
		map[string]string{"operation": "deploy"})
	assert.Equal(t, nethttp.StatusNotFound, w.Code)

	w = doJSON(engine, nethttp.MethodPost, "/api/v1/hosts/nope/agent", token,
		map[string]string{"operation": "explode"})
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
}

func TestHostSyncAndList(t *testing.T) {
	engine, svc := testEngine(t)
	token := loginAs(t, engine, svc, "alice", auth.RoleOperator)

	w := doJSON(engine, nethttp.MethodPut, "/api/v1/hosts", token, map[string]any{
		"id": "h1", "name": "web-1", "address": "10.0.0.5", "user": "root",
	})
	require.Equal(t, nethttp.StatusOK, w.Code)
	// Default SSH port applies when omitted.
	assert.Contains(t, w.Body.String(), `"port":22`)

	w = doJSON(engine, nethttp.MethodGet, "/api/v1/hosts/h1", token, nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
}
