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

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/samber/lo"

	"github.com/DEVunderdog/NeuroStash/pkg/aws/sdk"
	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
)

// PresignedUpload is what the upload admission API hands back to the client.
type PresignedUpload struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

type Provider interface {
	PresignUpload(ctx context.Context, key, fileName string) (PresignedUpload, error)
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
}

type DefaultProvider struct {
	client    sdk.S3API
	presigner sdk.S3Presigner

	bucket        string
	presignExpiry time.Duration
}

func NewDefaultProvider(client sdk.S3API, presigner sdk.S3Presigner, bucket string, presignExpiry time.Duration) *DefaultProvider {
	return &DefaultProvider{
		client:        client,
		presigner:     presigner,
		bucket:        bucket,
		presignExpiry: presignExpiry,
	}
}

// PresignUpload issues a time-boxed PUT URL with the content type pinned to
// the registered extension, so the stored object matches what was admitted.
func (p *DefaultProvider) PresignUpload(ctx context.Context, key, fileName string) (PresignedUpload, error) {
	contentType, err := ContentTypeFor(fileName)
	if err != nil {
		return PresignedUpload{}, err
	}
	req, err := p.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(o *s3.PresignOptions) {
		o.Expires = p.presignExpiry
	})
	if err != nil {
		return PresignedUpload{}, nserrors.NewTransient(fmt.Errorf("presigning upload for %q, %w", key, err))
	}
	return PresignedUpload{
		URL:       req.URL,
		Method:    req.Method,
		ExpiresAt: time.Now().Add(p.presignExpiry),
	}, nil
}

// Exists probes the object with a HEAD request.
func (p *DefaultProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("heading object %q, %w", key, err)
	}
	return true, nil
}

// Download streams the object to a unique temp path, preserving the
// extension so the loader registry can key off it. The caller removes the
// file when done.
func (p *DefaultProvider) Download(ctx context.Context, key string) (string, error) {
	result, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nserrors.NewTransient(fmt.Errorf("getting object %q, %w", key, err))
	}
	defer result.Body.Close()

	f, err := os.CreateTemp("", "neurostash-*"+filepath.Ext(key))
	if err != nil {
		return "", fmt.Errorf("creating temp file, %w", err)
	}
	if _, err := io.Copy(f, result.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing object %q to temp file, %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("closing temp file, %w", err)
	}
	return f.Name(), nil
}

func (p *DefaultProvider) Delete(ctx context.Context, key string) error {
	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nserrors.NewTransient(fmt.Errorf("deleting object %q, %w", key, err))
	}
	return nil
}

// DeleteMany removes up to 1000 keys per call, the broker's batch limit.
func (p *DefaultProvider) DeleteMany(ctx context.Context, keys []string) error {
	for _, batch := range lo.Chunk(keys, 1000) {
		objects := lo.Map(batch, func(key string, _ int) s3types.ObjectIdentifier {
			return s3types.ObjectIdentifier{Key: aws.String(key)}
		})
		result, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(p.bucket),
			Delete: &s3types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return nserrors.NewTransient(fmt.Errorf("deleting objects, %w", err))
		}
		if len(result.Errors) > 0 {
			first := result.Errors[0]
			return nserrors.NewTransient(fmt.Errorf("deleting %d objects, first failure %q: %s",
				len(result.Errors), aws.ToString(first.Key), aws.ToString(first.Message)))
		}
	}
	return nil
}
