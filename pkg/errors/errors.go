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

package errors

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolationCode = "23505"

// Sentinel failures surfaced across package boundaries. Callers branch on
// these with errors.Is rather than matching provider-specific errors.
var (
	ErrNoAvailableCollection = errors.New("no available collection in pool")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrDocumentLocked        = errors.New("document locked by another operation")
	ErrDocumentNotLoaded     = errors.New("no loader registered for document")
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
	ErrJobNotFound           = errors.New("ingestion job not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrKeyNotFound           = errors.New("encryption key not found")
)

// DocsNotFoundError carries the ids an admission referenced that do not
// exist, belong to someone else, or are locked mid-operation.
type DocsNotFoundError struct {
	IDs []int64
}

func (e *DocsNotFoundError) Error() string {
	return fmt.Sprintf("documents not found: %v", e.IDs)
}

func (e *DocsNotFoundError) Is(target error) bool {
	return target == ErrDocumentNotFound
}

// ConflictError marks a request that lost a uniqueness or ownership race.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string { return e.Err.Error() }

func (e *ConflictError) Unwrap() error { return e.Err }

func NewConflict(format string, args ...interface{}) error {
	return &ConflictError{Err: fmt.Errorf(format, args...)}
}

func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var cErr *ConflictError
	if errors.As(err, &cErr) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// ValidationError marks malformed caller input. Never retried.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func NewValidation(format string, args ...interface{}) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// TransientError marks a dependency failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var tErr *TransientError
	if errors.As(err, &tErr) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "Throttling", "RequestTimeout", "ServiceUnavailable", "InternalError", "SlowDown":
			return true
		}
	}
	return false
}

// IsNotFound reports whether err means the requested row or object is absent,
// covering both our sentinels and a bare pgx.ErrNoRows from a query.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrKnowledgeBaseNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrKeyNotFound)
}

// IgnoreNotFound is useful for deletes where a missing target is success.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}
