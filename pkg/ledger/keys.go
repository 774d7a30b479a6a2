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

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

func (s *Store) CreateEncryptionKey(ctx context.Context, material []byte, active bool) (EncryptionKey, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO encryption_keys (material, is_active)
		VALUES ($1, $2)
		RETURNING id, material, is_active, expired_at, created_at`, material, active)
	return scanEncryptionKey(row)
}

// GetActiveEncryptionKey returns the single key new signatures use. The
// partial unique index guarantees at most one row qualifies.
func (s *Store) GetActiveEncryptionKey(ctx context.Context) (EncryptionKey, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, material, is_active, expired_at, created_at
		FROM encryption_keys WHERE is_active`)
	key, err := scanEncryptionKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return EncryptionKey{}, nserrors.ErrKeyNotFound
	}
	return key, err
}

func (s *Store) GetEncryptionKey(ctx context.Context, id int64) (EncryptionKey, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, material, is_active, expired_at, created_at
		FROM encryption_keys WHERE id = $1`, id)
	key, err := scanEncryptionKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return EncryptionKey{}, nserrors.ErrKeyNotFound
	}
	return key, err
}

// ListVerificationKeys returns the active key plus retired keys still inside
// their verification window.
func (s *Store) ListVerificationKeys(ctx context.Context) ([]EncryptionKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, material, is_active, expired_at, created_at
		FROM encryption_keys
		WHERE is_active OR expired_at > now()
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing verification keys, %w", err)
	}
	defer rows.Close()
	var out []EncryptionKey
	for rows.Next() {
		key, err := scanEncryptionKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// RotateEncryptionKey retires the current active key, keeping it verifiable
// for the grace window, and activates a new one in the same transaction.
func (s *Store) RotateEncryptionKey(ctx context.Context, material []byte, grace time.Duration) (EncryptionKey, error) {
	var key EncryptionKey
	err := s.execTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE encryption_keys
			SET is_active = FALSE, expired_at = now() + $1
			WHERE is_active`, grace); err != nil {
			return fmt.Errorf("retiring active key, %w", err)
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO encryption_keys (material, is_active)
			VALUES ($1, TRUE)
			RETURNING id, material, is_active, expired_at, created_at`, material)
		var err error
		key, err = scanEncryptionKey(row)
		return err
	})
	if err != nil {
		return EncryptionKey{}, err
	}
	return key, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, userID, keyID int64, credential, signature []byte) (APIKey, error) {
	var k APIKey
	if err := s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (user_id, key_id, key_credential, key_signature)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, key_id, key_credential, key_signature, created_at`,
		userID, keyID, credential, signature).Scan(
		&k.ID, &k.UserID, &k.KeyID, &k.KeyCredential, &k.KeySignature, &k.CreatedAt); err != nil {
		return APIKey{}, fmt.Errorf("creating api key, %w", err)
	}
	return k, nil
}

func (s *Store) GetAPIKeyByCredential(ctx context.Context, credential []byte) (APIKey, error) {
	var k APIKey
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, key_id, key_credential, key_signature, created_at
		FROM api_keys WHERE key_credential = $1`, credential).Scan(
		&k.ID, &k.UserID, &k.KeyID, &k.KeyCredential, &k.KeySignature, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, nserrors.ErrUnauthorized
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("reading api key, %w", err)
	}
	return k, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, userID, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting api key %d, %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nserrors.ErrUnauthorized
	}
	return nil
}

func scanEncryptionKey(row rowScanner) (EncryptionKey, error) {
	var key EncryptionKey
	if err := row.Scan(&key.ID, &key.Material, &key.IsActive, &key.ExpiredAt, &key.CreatedAt); err != nil {
		return EncryptionKey{}, err
	}
	return key, nil
}
