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

package knowledgebase

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
)

type Ledger interface {
	BindKnowledgeBase(ctx context.Context, userID int64, name, category string) (ledger.KnowledgeBase, string, error)
	DeleteKnowledgeBase(ctx context.Context, userID, kbID int64) error
	GetKnowledgeBaseBinding(ctx context.Context, userID, kbID int64) (ledger.KnowledgeBaseBinding, error)
	ListKnowledgeBases(ctx context.Context, userID int64) ([]ledger.KnowledgeBase, error)
	ListKnowledgeBaseDocuments(ctx context.Context, userID, kbID int64) ([]ledger.KnowledgeBaseDocument, error)
}

// Provisioner is the trigger surface of the pool controller.
type Provisioner interface {
	TriggerReconcile()
	TriggerCleanup()
}

type CreateRequest struct {
	Name     string `validate:"required,max=255"`
	Category string `validate:"required,max=100"`
}

// Service owns the knowledge base lifecycle: creation binds a warm pool
// collection, deletion parks it for cleanup.
type Service struct {
	ledger      Ledger
	provisioner Provisioner
	validate    *validator.Validate
}

func NewService(ldg Ledger, provisioner Provisioner) *Service {
	return &Service{
		ledger:      ldg,
		provisioner: provisioner,
		validate:    validator.New(),
	}
}

// Create claims an AVAILABLE collection and nudges the pool to top back up.
// An empty pool surfaces ErrNoAvailableCollection, the caller's 503; the
// reconcile trigger still fires so the pool refills for the retry.
func (s *Service) Create(ctx context.Context, userID int64, req CreateRequest) (ledger.KnowledgeBase, error) {
	if err := s.validate.Struct(req); err != nil {
		return ledger.KnowledgeBase{}, nserrors.NewValidation("validating knowledge base request, %s", err)
	}
	kb, _, err := s.ledger.BindKnowledgeBase(ctx, userID, req.Name, req.Category)
	if err != nil {
		if errors.Is(err, nserrors.ErrNoAvailableCollection) {
			s.provisioner.TriggerReconcile()
		}
		return ledger.KnowledgeBase{}, err
	}
	s.provisioner.TriggerReconcile()
	return kb, nil
}

// Delete removes the knowledge base and hands the bound collection to the
// cleanup pass for the physical drop.
func (s *Service) Delete(ctx context.Context, userID, kbID int64) error {
	if err := s.ledger.DeleteKnowledgeBase(ctx, userID, kbID); err != nil {
		return err
	}
	s.provisioner.TriggerCleanup()
	return nil
}

// Get resolves a knowledge base to its bound collection, scoped to the owner.
func (s *Service) Get(ctx context.Context, userID, kbID int64) (ledger.KnowledgeBaseBinding, error) {
	return s.ledger.GetKnowledgeBaseBinding(ctx, userID, kbID)
}

func (s *Service) List(ctx context.Context, userID int64) ([]ledger.KnowledgeBase, error) {
	return s.ledger.ListKnowledgeBases(ctx, userID)
}

func (s *Service) ListDocuments(ctx context.Context, userID, kbID int64) ([]ledger.KnowledgeBaseDocument, error) {
	return s.ledger.ListKnowledgeBaseDocuments(ctx, userID, kbID)
}
