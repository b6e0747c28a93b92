package vault

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"

	"github.com/fleetdeck/fleetdeck/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *audit.MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	svc, err := NewService(store, audit.NewRecorder(auditStore), Config{
		MasterSecret: "test-master-secret",
		Salt:         "test-salt",
	})
	require.NoError(t, err)
	return svc, store, auditStore
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	raw := testKeyPEM(t)

	cred, err := svc.Store(ctx, "prod-1", raw, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, cred.ID)
	assert.Contains(t, cred.Fingerprint, "SHA256:")
	assert.Equal(t, "ssh-ed25519", cred.Algorithm)
	assert.Len(t, cred.IV, 12)
	assert.Len(t, cred.Tag, 16)
	assert.NotEmpty(t, cred.Ciphertext)

	material, err := svc.Retrieve(ctx, cred.ID, "test")
	require.NoError(t, err)
	require.NotNil(t, material.Signer())
	assert.Equal(t, cred.Fingerprint, ssh.FingerprintSHA256(material.Signer().PublicKey()))
	assert.Equal(t, raw, material.raw)

	material.Destroy()
	assert.Nil(t, material.Signer())
}

func TestStoreInvalidKeyFormat(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Store(context.Background(), "bad", []byte("not a key"), "alice")
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)
}

func TestFingerprintStableAcrossNames(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	raw := testKeyPEM(t)

	first, err := svc.Store(ctx, "prod-1", raw, "alice")
	require.NoError(t, err)
	second, err := svc.Store(ctx, "staging-1", raw, "alice")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestRetrieveCorruptedTag(t *testing.T) {
	svc, store, auditStore := newTestService(t)
	ctx := context.Background()

	cred, err := svc.Store(ctx, "prod-1", testKeyPEM(t), "alice")
	require.NoError(t, err)

	store.Corrupt(cred.ID, true)

	material, err := svc.Retrieve(ctx, cred.ID, "test")
	assert.ErrorIs(t, err, ErrCredentialIntegrity)
	assert.Nil(t, material)

	entries, err := auditStore.Query(ctx, audit.Filter{Action: audit.ActionCredentialIntegrity})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, cred.ID, entries[0].TargetID)
}

func TestRetrieveCorruptedCiphertext(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	cred, err := svc.Store(ctx, "prod-1", testKeyPEM(t), "alice")
	require.NoError(t, err)

	store.Corrupt(cred.ID, false)

	material, err := svc.Retrieve(ctx, cred.ID, "test")
	assert.ErrorIs(t, err, ErrCredentialIntegrity)
	assert.Nil(t, material)
}

func TestSoftDelete(t *testing.T) {
	svc, _, auditStore := newTestService(t)
	ctx := context.Background()

	cred, err := svc.Store(ctx, "prod-1", testKeyPEM(t), "alice")
	require.NoError(t, err)

	require.NoError(t, svc.SoftDelete(ctx, cred.ID, "alice"))

	_, err = svc.Retrieve(ctx, cred.ID, "test")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	err = svc.SoftDelete(ctx, cred.ID, "alice")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	creates, err := auditStore.Query(ctx, audit.Filter{Action: audit.ActionCredentialCreate, TargetID: cred.ID})
	require.NoError(t, err)
	assert.Len(t, creates, 1)
	deletes, err := auditStore.Query(ctx, audit.Filter{Action: audit.ActionCredentialDelete, TargetID: cred.ID})
	require.NoError(t, err)
	assert.Len(t, deletes, 1)
}

func TestVerify(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cred, err := svc.Store(ctx, "prod-1", testKeyPEM(t), "alice")
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, cred.ID))

	require.NoError(t, svc.SoftDelete(ctx, cred.ID, "alice"))
	assert.ErrorIs(t, svc.Verify(ctx, cred.ID), ErrCredentialNotFound)

	assert.ErrorIs(t, svc.Verify(ctx, "does-not-exist"), ErrCredentialNotFound)
}

func TestRetrieveUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Retrieve(context.Background(), "does-not-exist", "test")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestListNeverReturnsKeyMaterial(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	stored, err := svc.Store(ctx, "prod-1", testKeyPEM(t), "alice")
	require.NoError(t, err)
	deleted, err := svc.Store(ctx, "gone", testKeyPEM(t), "alice")
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(ctx, deleted.ID, "alice"))

	creds, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, stored.ID, creds[0].ID)
	assert.Nil(t, creds[0].Ciphertext)
	assert.Nil(t, creds[0].IV)
	assert.Nil(t, creds[0].Tag)
	assert.Equal(t, stored.Fingerprint, creds[0].Fingerprint)
}
