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

// Package users covers the client lifecycle: registration hands out an API
// key, and a presented API key exchanges for a short-lived access token.
package users

import (
	"context"

	"github.com/go-playground/validator/v10"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
)

type Ledger interface {
	CreateUser(ctx context.Context, email string, role ledger.ClientRole) (ledger.UserClient, error)
	GetUser(ctx context.Context, id int64) (ledger.UserClient, error)
	ListUsers(ctx context.Context) ([]ledger.UserClient, error)
}

// TokenIssuer is the slice of the token manager this service drives.
type TokenIssuer interface {
	GenerateAPIKey(ctx context.Context, userID int64) (string, ledger.APIKey, error)
	VerifyAPIKey(ctx context.Context, presented string) (int64, error)
	IssueAccessToken(userID int64, email string) (string, error)
	RevokeAPIKey(ctx context.Context, userID, id int64) error
}

type RegisterRequest struct {
	Email string `validate:"required,email,max=255"`
}

// Registration carries the one-time presentation of a fresh API key. The
// plaintext key is never reconstructable afterward.
type Registration struct {
	User   ledger.UserClient
	APIKey string
	KeyID  int64
}

type Service struct {
	ledger   Ledger
	tokens   TokenIssuer
	validate *validator.Validate
}

func NewService(ldg Ledger, tokens TokenIssuer) *Service {
	return &Service{
		ledger:   ldg,
		tokens:   tokens,
		validate: validator.New(),
	}
}

// Register creates the user row and mints their first API key. A duplicate
// email surfaces as a conflict from the unique constraint.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Registration, error) {
	if err := s.validate.Struct(req); err != nil {
		return Registration{}, nserrors.NewValidation("validating registration, %w", err)
	}
	user, err := s.ledger.CreateUser(ctx, req.Email, ledger.RoleUser)
	if err != nil {
		return Registration{}, err
	}
	presented, row, err := s.tokens.GenerateAPIKey(ctx, user.ID)
	if err != nil {
		return Registration{}, err
	}
	return Registration{User: user, APIKey: presented, KeyID: row.ID}, nil
}

// IssueToken exchanges a valid API key for a signed access token.
func (s *Service) IssueToken(ctx context.Context, apiKey string) (string, error) {
	userID, err := s.tokens.VerifyAPIKey(ctx, apiKey)
	if err != nil {
		return "", err
	}
	user, err := s.ledger.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.tokens.IssueAccessToken(user.ID, user.Email)
}

// RotateAPIKey mints a replacement key and revokes the old one, so a client
// is never left without a working credential mid-rotation.
func (s *Service) RotateAPIKey(ctx context.Context, userID, oldKeyID int64) (Registration, error) {
	user, err := s.ledger.GetUser(ctx, userID)
	if err != nil {
		return Registration{}, err
	}
	presented, row, err := s.tokens.GenerateAPIKey(ctx, user.ID)
	if err != nil {
		return Registration{}, err
	}
	if err := s.tokens.RevokeAPIKey(ctx, userID, oldKeyID); err != nil {
		return Registration{}, err
	}
	return Registration{User: user, APIKey: presented, KeyID: row.ID}, nil
}

func (s *Service) List(ctx context.Context) ([]ledger.UserClient, error) {
	return s.ledger.ListUsers(ctx)
}
