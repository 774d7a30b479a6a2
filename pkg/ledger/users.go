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

	"github.com/jackc/pgx/v5"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

func (s *Store) CreateUser(ctx context.Context, email string, role ClientRole) (UserClient, error) {
	var u UserClient
	if err := s.pool.QueryRow(ctx, `
		INSERT INTO user_clients (email, role)
		VALUES ($1, $2)
		RETURNING id, email, role, created_at`, email, role).Scan(
		&u.ID, &u.Email, &u.Role, &u.CreatedAt); err != nil {
		return UserClient{}, fmt.Errorf("creating user, %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (UserClient, error) {
	var u UserClient
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, role, created_at FROM user_clients WHERE email = $1`, email).Scan(
		&u.ID, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserClient{}, nserrors.ErrUnauthorized
	}
	if err != nil {
		return UserClient{}, fmt.Errorf("reading user by email, %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (UserClient, error) {
	var u UserClient
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, role, created_at FROM user_clients WHERE id = $1`, id).Scan(
		&u.ID, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserClient{}, nserrors.ErrUnauthorized
	}
	if err != nil {
		return UserClient{}, fmt.Errorf("reading user, %w", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]UserClient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, role, created_at FROM user_clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users, %w", err)
	}
	defer rows.Close()
	var out []UserClient
	for rows.Next() {
		var u UserClient
		if err := rows.Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user row, %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
