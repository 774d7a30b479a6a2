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

// Package messages defines the wire schema of ingestion job messages. No
// broker-specific types appear here; the queue provider owns those.
package messages

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
)

// Envelope is the JSON body of one queued ingestion job. Exactly one of the
// two lists is populated in normal operation. Unknown fields are ignored on
// parse so the schema can grow.
type Envelope struct {
	IngestionJobID int64            `json:"ingestion_job_id"`
	KbID           int64            `json:"kb_id"`
	CollectionName string           `json:"collection_name"`
	Category       string           `json:"category"`
	UserID         int64            `json:"user_id"`
	IndexKbDocID   []ledger.FileRef `json:"index_kb_doc_id"`
	DeleteKbDocID  []ledger.FileRef `json:"delete_kb_doc_id"`
}

// NewIndexEnvelope builds the message for an indexing admission.
func NewIndexEnvelope(userID int64, adm ledger.Admission) Envelope {
	return Envelope{
		IngestionJobID: adm.Job.ID,
		KbID:           adm.Binding.KbID,
		CollectionName: adm.Binding.CollectionName,
		Category:       adm.Binding.Category,
		UserID:         userID,
		IndexKbDocID:   adm.Refs,
	}
}

// NewDeleteEnvelope builds the message for a deletion admission.
func NewDeleteEnvelope(userID int64, adm ledger.Admission) Envelope {
	return Envelope{
		IngestionJobID: adm.Job.ID,
		KbID:           adm.Binding.KbID,
		CollectionName: adm.Binding.CollectionName,
		Category:       adm.Binding.Category,
		UserID:         userID,
		DeleteKbDocID:  adm.Refs,
	}
}

func (e Envelope) Validate() error {
	if e.IngestionJobID <= 0 {
		return fmt.Errorf("missing ingestion job id")
	}
	if e.CollectionName == "" {
		return fmt.Errorf("missing collection name")
	}
	if len(e.IndexKbDocID) == 0 && len(e.DeleteKbDocID) == 0 {
		return fmt.Errorf("message carries no work")
	}
	return nil
}

func (e Envelope) Marshal() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope, %w", err)
	}
	return raw, nil
}

func Unmarshal(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("unmarshaling envelope, %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating envelope, %w", err)
	}
	return e, nil
}

// Fingerprint hashes the envelope content, independent of delivery metadata,
// so the worker can short-circuit immediate redeliveries.
func (e Envelope) Fingerprint() (string, error) {
	hash, err := hashstructure.Hash(e, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing envelope, %w", err)
	}
	return fmt.Sprintf("%d-%x", e.IngestionJobID, hash), nil
}
