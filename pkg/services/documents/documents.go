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

package documents

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/objectstore"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/logging"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/names"
)

type Ledger interface {
	RegisterDocument(ctx context.Context, userID int64, fileName, objectKey string) (ledger.Document, error)
	FinalizeDocument(ctx context.Context, userID, docID int64, success bool) (ledger.Document, error)
	ListDocuments(ctx context.Context, userID int64) ([]ledger.Document, error)
	LockDocumentsForDeletion(ctx context.Context, userID int64, docIDs []int64) ([]ledger.Document, error)
	DeleteLockedDocuments(ctx context.Context, userID int64, docIDs []int64) error
	UnlockDocuments(ctx context.Context, docIDs []int64) error
}

type ObjectStore interface {
	PresignUpload(ctx context.Context, key, fileName string) (objectstore.PresignedUpload, error)
	DeleteMany(ctx context.Context, keys []string) error
}

// Upload pairs the registered row with the URL the client PUTs to.
type Upload struct {
	Document  ledger.Document
	Presigned objectstore.PresignedUpload
}

// Service owns the document lifecycle around the object store: presigned
// upload admission, the confirmation callback, and two-phase deletion.
type Service struct {
	ledger      Ledger
	objectStore ObjectStore
}

func NewService(ldg Ledger, objectStore ObjectStore) *Service {
	return &Service{ledger: ldg, objectStore: objectStore}
}

// RegisterUpload validates the extension, issues the presigned PUT and
// inserts the locked PENDING row the client later finalizes.
func (s *Service) RegisterUpload(ctx context.Context, userID int64, fileName string) (Upload, error) {
	if _, err := objectstore.ContentTypeFor(fileName); err != nil {
		return Upload{}, err
	}
	key := names.RandomObjectKey(userID, filepath.Ext(fileName))
	presigned, err := s.objectStore.PresignUpload(ctx, key, fileName)
	if err != nil {
		return Upload{}, err
	}
	doc, err := s.ledger.RegisterDocument(ctx, userID, fileName, key)
	if err != nil {
		return Upload{}, err
	}
	return Upload{Document: doc, Presigned: presigned}, nil
}

// FinalizeUpload is the client's confirmation callback: the row unlocks and
// settles into SUCCESS or FAILED.
func (s *Service) FinalizeUpload(ctx context.Context, userID, docID int64, success bool) (ledger.Document, error) {
	return s.ledger.FinalizeDocument(ctx, userID, docID, success)
}

func (s *Service) List(ctx context.Context, userID int64) ([]ledger.Document, error) {
	return s.ledger.ListDocuments(ctx, userID)
}

// Delete removes documents in two phases: lock the rows, delete the objects,
// then delete the rows. A failed object delete unlocks the rows as FAILED so
// the caller can retry and the reaper can reconcile.
func (s *Service) Delete(ctx context.Context, userID int64, docIDs []int64) error {
	docs, err := s.ledger.LockDocumentsForDeletion(ctx, userID, docIDs)
	if err != nil {
		return err
	}
	keys := lo.Map(docs, func(d ledger.Document, _ int) string { return d.ObjectKey })
	if err := s.objectStore.DeleteMany(ctx, keys); err != nil {
		ids := lo.Map(docs, func(d ledger.Document, _ int) int64 { return d.ID })
		if unlockErr := s.ledger.UnlockDocuments(ctx, ids); unlockErr != nil {
			logging.FromContext(ctx).Errorf("unlocking documents after failed object delete, %s", unlockErr)
		}
		return fmt.Errorf("deleting objects, %w", err)
	}
	return s.ledger.DeleteLockedDocuments(ctx, userID, docIDs)
}
