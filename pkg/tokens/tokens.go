/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tokens issues and verifies the two client credentials: short
// lived HS256 access tokens and long lived HMAC signed API keys. Signing
// material lives in the ledger wrapped by KMS and is cached in memory
// after an explicit Init.
package tokens

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/golang-jwt/jwt/v5"

	"github.com/DEVunderdog/NeuroStash/pkg/aws/sdk"
	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
)

const keyMaterialBytes = 32

type Ledger interface {
	CreateEncryptionKey(ctx context.Context, material []byte, active bool) (ledger.EncryptionKey, error)
	GetActiveEncryptionKey(ctx context.Context) (ledger.EncryptionKey, error)
	GetEncryptionKey(ctx context.Context, id int64) (ledger.EncryptionKey, error)
	ListVerificationKeys(ctx context.Context) ([]ledger.EncryptionKey, error)
	RotateEncryptionKey(ctx context.Context, material []byte, grace time.Duration) (ledger.EncryptionKey, error)
	CreateAPIKey(ctx context.Context, userID, keyID int64, credential, signature []byte) (ledger.APIKey, error)
	GetAPIKeyByCredential(ctx context.Context, credential []byte) (ledger.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, id int64) error
}

type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

type Options struct {
	Issuer   string
	Audience string
	TokenTTL time.Duration
	KMSKeyID string
	GraceTTL time.Duration
}

// Manager signs and verifies credentials against the ledger's key ring.
// A nil KMS client runs the manager in plaintext mode for local setups.
type Manager struct {
	ledger Ledger
	kms    sdk.KMSAPI
	opts   Options

	mu       sync.RWMutex
	keys     map[int64][]byte
	activeID int64
}

func NewManager(ldg Ledger, kmsClient sdk.KMSAPI, opts Options) *Manager {
	return &Manager{
		ledger: ldg,
		kms:    kmsClient,
		opts:   opts,
		keys:   make(map[int64][]byte),
	}
}

// Init loads every verification key into the cache, minting the first
// active key if the ring is empty. Callers run it once before serving.
func (m *Manager) Init(ctx context.Context) error {
	if _, err := m.ledger.GetActiveEncryptionKey(ctx); nserrors.IsNotFound(err) {
		material, err := m.mintMaterial(ctx)
		if err != nil {
			return err
		}
		if _, err := m.ledger.CreateEncryptionKey(ctx, material, true); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return m.refresh(ctx)
}

// Rotate retires the active key, keeps it verifiable for the grace window
// and activates freshly minted material.
func (m *Manager) Rotate(ctx context.Context) error {
	material, err := m.mintMaterial(ctx)
	if err != nil {
		return err
	}
	if _, err := m.ledger.RotateEncryptionKey(ctx, material, m.opts.GraceTTL); err != nil {
		return err
	}
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) error {
	rows, err := m.ledger.ListVerificationKeys(ctx)
	if err != nil {
		return err
	}
	keys := make(map[int64][]byte, len(rows))
	var activeID int64
	for _, row := range rows {
		material, err := m.unwrap(ctx, row.Material)
		if err != nil {
			return fmt.Errorf("unwrapping key %d, %w", row.ID, err)
		}
		keys[row.ID] = material
		if row.IsActive {
			activeID = row.ID
		}
	}
	if activeID == 0 {
		return nserrors.ErrKeyNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = keys
	m.activeID = activeID
	return nil
}

// IssueAccessToken signs an HS256 token with the active key, carrying the
// key id in the header so verification survives rotation.
func (m *Manager) IssueAccessToken(userID int64, email string) (string, error) {
	keyID, material, err := m.activeKey()
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.opts.Issuer,
			Audience:  jwt.ClaimStrings{m.opts.Audience},
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.opts.TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = strconv.FormatInt(keyID, 10)
	signed, err := token.SignedString(material)
	if err != nil {
		return "", fmt.Errorf("signing access token, %w", err)
	}
	return signed, nil
}

// VerifyAccessToken validates signature, issuer, audience and expiry, and
// returns the embedded claims.
func (m *Manager) VerifyAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, m.lookupKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.opts.Issuer),
		jwt.WithAudience(m.opts.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, nserrors.ErrUnauthorized
	}
	return claims, nil
}

func (m *Manager) lookupKey(token *jwt.Token) (any, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token missing kid header")
	}
	keyID, err := strconv.ParseInt(kid, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing kid %q, %w", kid, err)
	}
	m.mu.RLock()
	material, ok := m.keys[keyID]
	m.mu.RUnlock()
	if ok {
		return material, nil
	}
	// Cache miss: another instance may have rotated since the last refresh.
	// jwt's keyfunc carries no context, so the lookup runs uncancelled.
	row, err := m.ledger.GetEncryptionKey(context.Background(), keyID)
	if err != nil {
		return nil, err
	}
	if !row.IsActive && (row.ExpiredAt == nil || row.ExpiredAt.Before(time.Now())) {
		return nil, nserrors.ErrKeyNotFound
	}
	material, err = m.unwrap(context.Background(), row.Material)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.keys[keyID] = material
	m.mu.Unlock()
	return material, nil
}

// GenerateAPIKey mints a credential of the form "<random>.<signature>",
// both base64url, persists the pair and returns the presented form. Only
// the signature proves possession; the random half is the lookup handle.
func (m *Manager) GenerateAPIKey(ctx context.Context, userID int64) (string, ledger.APIKey, error) {
	keyID, material, err := m.activeKey()
	if err != nil {
		return "", ledger.APIKey{}, err
	}
	credential := make([]byte, keyMaterialBytes)
	if _, err := rand.Read(credential); err != nil {
		return "", ledger.APIKey{}, fmt.Errorf("generating api key credential, %w", err)
	}
	signature := sign(material, credential)
	row, err := m.ledger.CreateAPIKey(ctx, userID, keyID, credential, signature)
	if err != nil {
		return "", ledger.APIKey{}, err
	}
	presented := base64.RawURLEncoding.EncodeToString(credential) + "." + base64.RawURLEncoding.EncodeToString(signature)
	return presented, row, nil
}

// VerifyAPIKey checks a presented key against the stored row with a
// constant time comparison and returns the owning user.
func (m *Manager) VerifyAPIKey(ctx context.Context, presented string) (int64, error) {
	credential, signature, err := splitAPIKey(presented)
	if err != nil {
		return 0, nserrors.ErrUnauthorized
	}
	row, err := m.ledger.GetAPIKeyByCredential(ctx, credential)
	if err != nil {
		return 0, err
	}
	m.mu.RLock()
	material, ok := m.keys[row.KeyID]
	m.mu.RUnlock()
	if !ok {
		return 0, nserrors.ErrUnauthorized
	}
	if !hmac.Equal(sign(material, credential), signature) || !hmac.Equal(row.KeySignature, signature) {
		return 0, nserrors.ErrUnauthorized
	}
	return row.UserID, nil
}

func (m *Manager) RevokeAPIKey(ctx context.Context, userID, id int64) error {
	return m.ledger.DeleteAPIKey(ctx, userID, id)
}

func (m *Manager) activeKey() (int64, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	material, ok := m.keys[m.activeID]
	if !ok {
		return 0, nil, nserrors.ErrKeyNotFound
	}
	return m.activeID, material, nil
}

// mintMaterial draws fresh random material and wraps it for storage.
func (m *Manager) mintMaterial(ctx context.Context) ([]byte, error) {
	material := make([]byte, keyMaterialBytes)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generating key material, %w", err)
	}
	return m.wrap(ctx, material)
}

func (m *Manager) wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	if m.kms == nil {
		return plaintext, nil
	}
	out, err := m.kms.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(m.opts.KMSKeyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypting key material, %w", err)
	}
	return out.CiphertextBlob, nil
}

func (m *Manager) unwrap(ctx context.Context, stored []byte) ([]byte, error) {
	if m.kms == nil {
		return stored, nil
	}
	out, err := m.kms.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(m.opts.KMSKeyID),
		CiphertextBlob: stored,
	})
	if err != nil {
		return nil, fmt.Errorf("decrypting key material, %w", err)
	}
	return out.Plaintext, nil
}

func sign(material, credential []byte) []byte {
	mac := hmac.New(sha256.New, material)
	mac.Write(credential)
	return mac.Sum(nil)
}

func splitAPIKey(presented string) (credential, signature []byte, err error) {
	parts := strings.Split(presented, ".")
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("malformed api key")
	}
	if credential, err = base64.RawURLEncoding.DecodeString(parts[0]); err != nil {
		return nil, nil, err
	}
	if signature, err = base64.RawURLEncoding.DecodeString(parts[1]); err != nil {
		return nil, nil, err
	}
	return credential, signature, nil
}
