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

package ingestion

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue/messages"
)

// AdmissionLedger is the slice of the store admission drives. The publish
// callback runs inside the admission transaction, before commit.
type AdmissionLedger interface {
	AdmitIngestion(ctx context.Context, params ledger.AdmitParams, publish ledger.PublishFunc) (ledger.Admission, error)
	AdmitDeletion(ctx context.Context, params ledger.AdmitParams, publish ledger.PublishFunc) (ledger.Admission, error)
	GetIngestionJob(ctx context.Context, userID, jobID int64) (ledger.IngestionJob, error)
}

type AdmitRequest struct {
	KbID    int64   `validate:"required,gt=0"`
	FileIDs []int64 `validate:"required,min=1,dive,gt=0"`
}

// Admitter is the synchronous admission path: ledger prep and queue publish
// succeed together or not at all.
type Admitter struct {
	ledger   AdmissionLedger
	queue    queue.Provider
	validate *validator.Validate
}

func NewAdmitter(ldg AdmissionLedger, q queue.Provider) *Admitter {
	return &Admitter{
		ledger:   ldg,
		queue:    q,
		validate: validator.New(),
	}
}

// AdmitIngestion creates the job, resets the document links to PENDING and
// enqueues the index message. A queue failure rolls everything back. File
// ids are deduplicated so a repeated id cannot touch the same ledger row
// twice in one statement.
func (a *Admitter) AdmitIngestion(ctx context.Context, userID int64, req AdmitRequest) (ledger.IngestionJob, error) {
	if err := a.validate.Struct(req); err != nil {
		return ledger.IngestionJob{}, nserrors.NewValidation("validating ingestion request, %s", err)
	}
	adm, err := a.ledger.AdmitIngestion(ctx, ledger.AdmitParams{
		UserID:  userID,
		KbID:    req.KbID,
		FileIDs: lo.Uniq(req.FileIDs),
	}, func(ctx context.Context, adm ledger.Admission) error {
		_, err := a.queue.Send(ctx, messages.NewIndexEnvelope(userID, adm))
		return err
	})
	if err != nil {
		return ledger.IngestionJob{}, err
	}
	admittedJobs.WithLabelValues("index").Inc()
	return adm.Job, nil
}

// AdmitDeletion enqueues the removal of previously ingested files from the
// knowledge base, with the same all-or-nothing semantics.
func (a *Admitter) AdmitDeletion(ctx context.Context, userID int64, req AdmitRequest) (ledger.IngestionJob, error) {
	if err := a.validate.Struct(req); err != nil {
		return ledger.IngestionJob{}, nserrors.NewValidation("validating deletion request, %s", err)
	}
	adm, err := a.ledger.AdmitDeletion(ctx, ledger.AdmitParams{
		UserID:  userID,
		KbID:    req.KbID,
		FileIDs: lo.Uniq(req.FileIDs),
	}, func(ctx context.Context, adm ledger.Admission) error {
		_, err := a.queue.Send(ctx, messages.NewDeleteEnvelope(userID, adm))
		return err
	})
	if err != nil {
		return ledger.IngestionJob{}, err
	}
	admittedJobs.WithLabelValues("delete").Inc()
	return adm.Job, nil
}

// JobStatus reads back an admitted job, scoped to its owner.
func (a *Admitter) JobStatus(ctx context.Context, userID, jobID int64) (ledger.IngestionJob, error) {
	return a.ledger.GetIngestionJob(ctx, userID, jobID)
}
