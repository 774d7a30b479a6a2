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
	"time"

	"github.com/google/uuid"
)

type ClientRole string

const (
	RoleUser  ClientRole = "USER"
	RoleAdmin ClientRole = "ADMIN"
)

type OperationStatus string

const (
	StatusPending OperationStatus = "PENDING"
	StatusSuccess OperationStatus = "SUCCESS"
	StatusFailed  OperationStatus = "FAILED"
)

type CollectionStatus string

const (
	CollectionProvisioning CollectionStatus = "PROVISIONING"
	CollectionAvailable    CollectionStatus = "AVAILABLE"
	CollectionAssigned     CollectionStatus = "ASSIGNED"
	CollectionCleanup      CollectionStatus = "CLEANUP"
	CollectionFailed       CollectionStatus = "FAILED"
)

type UserClient struct {
	ID        int64
	Email     string
	Role      ClientRole
	CreatedAt time.Time
}

type EncryptionKey struct {
	ID        int64
	Material  []byte
	IsActive  bool
	ExpiredAt *time.Time
	CreatedAt time.Time
}

type APIKey struct {
	ID            int64
	UserID        int64
	KeyID         int64
	KeyCredential []byte
	KeySignature  []byte
	CreatedAt     time.Time
}

type Document struct {
	ID         int64
	UserID     int64
	FileName   string
	ObjectKey  string
	LockStatus bool
	OpStatus   OperationStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type VectorCollection struct {
	ID             int64
	CollectionName string
	Status         CollectionStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type KnowledgeBase struct {
	ID           int64
	UserID       int64
	Name         string
	Category     string
	CollectionID int64
	CreatedAt    time.Time
}

type KnowledgeBaseDocument struct {
	ID         int64
	KbID       int64
	DocumentID int64
	Status     OperationStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type IngestionJob struct {
	ID         int64
	KbID       int64
	ResourceID uuid.UUID
	OpStatus   OperationStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FileRef is one manifest entry handed from admission to the worker.
type FileRef struct {
	KbDocID   int64  `json:"kb_doc_id"`
	DocID     int64  `json:"doc_id"`
	FileName  string `json:"file_name"`
	ObjectKey string `json:"object_key"`
}

// LinkResult is the per-file outcome of a processed message.
type LinkResult struct {
	KbDocID int64
	Status  OperationStatus
}

// PoolStats is a point-in-time census of the collection pool.
type PoolStats struct {
	Provisioning int64 `json:"provisioning"`
	Available    int64 `json:"available"`
	Assigned     int64 `json:"assigned"`
	Cleanup      int64 `json:"cleanup"`
	Failed       int64 `json:"failed"`
}
