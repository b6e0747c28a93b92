package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/audit"
	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ssh"
)

var (
	ErrInvalidKeyFormat     = errors.New("private key does not parse as a supported format")
	ErrCredentialIntegrity  = errors.New("credential failed integrity verification")
	ErrCredentialNotFound   = errors.New("credential not found")
	ErrEncryptedKeyRejected = errors.New("passphrase-protected private keys are not supported")
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	defaultIterations = 120000
)

type Config struct {
	MasterSecret string
	Salt         string
	Iterations   int
}

// Service encrypts credentials at rest and decrypts them transiently on
// demand. Plaintext key material never reaches the store or the logs.
type Service struct {
	store     Store
	recorder  *audit.Recorder
	masterKey []byte
}

func NewService(store Store, recorder *audit.Recorder, cfg Config) (*Service, error) {
	if cfg.MasterSecret == "" {
		return nil, fmt.Errorf("vault master secret is not configured")
	}
	iterations := cfg.Iterations
	if iterations < defaultIterations {
		iterations = defaultIterations
	}

	return &Service{
		store:     store,
		recorder:  recorder,
		masterKey: pbkdf2.Key([]byte(cfg.MasterSecret), []byte(cfg.Salt), iterations, keySize, sha256.New),
	}, nil
}

// Store validates and encrypts a raw private key. The fingerprint is
// derived from the public component so stored keys can be identified
// without ever being decrypted.
func (s *Service) Store(ctx context.Context, name string, rawKey []byte, createdBy string) (*Credential, error) {
	signer, err := ssh.ParsePrivateKey(rawKey)
	if err != nil {
		var passErr *ssh.PassphraseMissingError
		if errors.As(err, &passErr) {
			return nil, ErrEncryptedKeyRejected
		}
		return nil, ErrInvalidKeyFormat
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := s.aead()
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, rawKey, nil)
	boundary := len(sealed) - tagSize

	cred := &Credential{
		ID:          uuid.New().String(),
		Name:        name,
		Ciphertext:  sealed[:boundary],
		IV:          nonce,
		Tag:         sealed[boundary:],
		Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()),
		Algorithm:   signer.PublicKey().Type(),
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.Insert(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	if err := s.recorder.Record(ctx, createdBy, audit.ActionCredentialCreate, audit.TargetCredential, cred.ID,
		map[string]any{"name": name, "fingerprint": cred.Fingerprint, "algorithm": cred.Algorithm}); err != nil {
		return nil, err
	}

	slog.Info("Credential stored", "credential_id", cred.ID, "fingerprint", cred.Fingerprint, "algorithm", cred.Algorithm)
	return cred, nil
}

// Retrieve decrypts a credential for one operation. Tag verification
// happens before any plaintext is returned; a mismatch fails closed and
// is recorded as a security-relevant audit entry. The caller must call
// Destroy on the returned material as soon as the handshake completes.
func (s *Service) Retrieve(ctx context.Context, id string, purpose string) (*KeyMaterial, error) {
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred.DeletedAt != nil {
		return nil, ErrCredentialNotFound
	}

	aead, err := s.aead()
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(cred.Ciphertext)+len(cred.Tag))
	sealed = append(sealed, cred.Ciphertext...)
	sealed = append(sealed, cred.Tag...)

	plaintext, err := aead.Open(nil, cred.IV, sealed, nil)
	if err != nil {
		s.recorder.RecordBestEffort(ctx, "system", audit.ActionCredentialIntegrity, audit.TargetCredential, id,
			map[string]any{"purpose": purpose})
		slog.Error("Credential integrity verification failed", "credential_id", id, "purpose", purpose)
		return nil, ErrCredentialIntegrity
	}

	signer, err := ssh.ParsePrivateKey(plaintext)
	if err != nil {
		zero(plaintext)
		return nil, ErrCredentialIntegrity
	}

	slog.Debug("Credential decrypted", "credential_id", id, "purpose", purpose)
	return &KeyMaterial{raw: plaintext, signer: signer}, nil
}

// Verify reports whether a credential is still live, without decrypting
// it. Consumers that reuse previously-established state (pooled
// connections) call this before handing it out again.
func (s *Service) Verify(ctx context.Context, id string) error {
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if cred.DeletedAt != nil {
		return ErrCredentialNotFound
	}
	return nil
}

// SoftDelete marks a credential deleted. Connections and sessions that
// already completed a handshake with it are unaffected; new leases fail
// with ErrCredentialNotFound.
func (s *Service) SoftDelete(ctx context.Context, id string, actor string) error {
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if cred.DeletedAt != nil {
		return ErrCredentialNotFound
	}

	if err := s.store.MarkDeleted(ctx, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark credential deleted: %w", err)
	}

	if err := s.recorder.Record(ctx, actor, audit.ActionCredentialDelete, audit.TargetCredential, id,
		map[string]any{"name": cred.Name, "fingerprint": cred.Fingerprint}); err != nil {
		return err
	}

	slog.Info("Credential soft-deleted", "credential_id", id, "actor", actor)
	return nil
}

// List returns metadata for all live credentials, never key material.
func (s *Service) List(ctx context.Context) ([]Credential, error) {
	creds, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	// Strip ciphertext so callers cannot leak it accidentally.
	for i := range creds {
		creds[i].Ciphertext = nil
		creds[i].IV = nil
		creds[i].Tag = nil
	}
	return creds, nil
}

func (s *Service) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}

// KeyMaterial holds a decrypted private key for the duration of a single
// SSH handshake.
type KeyMaterial struct {
	raw    []byte
	signer ssh.Signer
}

func (m *KeyMaterial) Signer() ssh.Signer {
	return m.signer
}

// Destroy zeroes the plaintext buffer. The ssh.Signer keeps its own
// parsed copy until it is garbage collected; zeroing the raw PEM is the
// best the process can do.
func (m *KeyMaterial) Destroy() {
	zero(m.raw)
	m.raw = nil
	m.signer = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
