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

package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/DEVunderdog/NeuroStash/pkg/aws/sdk"
)

// S3Behavior must be reset between tests otherwise tests will
// pollute each other.
type S3Behavior struct {
	HeadObjectBehavior    MockedFunction[s3.HeadObjectInput, s3.HeadObjectOutput]
	GetObjectBehavior     MockedFunction[s3.GetObjectInput, s3.GetObjectOutput]
	DeleteObjectBehavior  MockedFunction[s3.DeleteObjectInput, s3.DeleteObjectOutput]
	DeleteObjectsBehavior MockedFunction[s3.DeleteObjectsInput, s3.DeleteObjectsOutput]
}

// S3API backs the behaviors with an in-memory object map so uploads
// staged by tests are visible to head, get and delete calls.
type S3API struct {
	sdk.S3API
	S3Behavior

	mu      sync.RWMutex
	objects map[string][]byte
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (s *S3API) Reset() {
	s.HeadObjectBehavior.Reset()
	s.GetObjectBehavior.Reset()
	s.DeleteObjectBehavior.Reset()
	s.DeleteObjectsBehavior.Reset()
	s.mu.Lock()
	s.objects = nil
	s.mu.Unlock()
}

// PutObject stages an object the way a presigned client upload would.
func (s *S3API) PutObject(key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = body
}

func (s *S3API) HasObject(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

func (s *S3API) HeadObject(_ context.Context, input *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return s.HeadObjectBehavior.Invoke(input, func(input *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		body, ok := s.objects[aws.ToString(input.Key)]
		if !ok {
			return nil, &s3types.NotFound{}
		}
		return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
	})
}

func (s *S3API) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return s.GetObjectBehavior.Invoke(input, func(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		body, ok := s.objects[aws.ToString(input.Key)]
		if !ok {
			return nil, &s3types.NoSuchKey{}
		}
		return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
	})
}

func (s *S3API) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return s.DeleteObjectBehavior.Invoke(input, func(input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.objects, aws.ToString(input.Key))
		return &s3.DeleteObjectOutput{}, nil
	})
}

func (s *S3API) DeleteObjects(_ context.Context, input *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	return s.DeleteObjectsBehavior.Invoke(input, func(input *s3.DeleteObjectsInput) (*s3.DeleteObjectsOutput, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, obj := range input.Delete.Objects {
			delete(s.objects, aws.ToString(obj.Key))
		}
		return &s3.DeleteObjectsOutput{}, nil
	})
}

// S3Presigner satisfies the presign seam without signing anything.
type S3Presigner struct {
	PresignPutObjectBehavior MockedFunction[s3.PutObjectInput, v4.PresignedHTTPRequest]
}

func (p *S3Presigner) Reset() {
	p.PresignPutObjectBehavior.Reset()
}

func (p *S3Presigner) PresignPutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return p.PresignPutObjectBehavior.Invoke(input, func(input *s3.PutObjectInput) (*v4.PresignedHTTPRequest, error) {
		return &v4.PresignedHTTPRequest{
			URL:    fmt.Sprintf("https://%s.s3.amazonaws.com/%s?signed", aws.ToString(input.Bucket), aws.ToString(input.Key)),
			Method: "PUT",
		}, nil
	})
}
