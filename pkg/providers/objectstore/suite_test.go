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

package objectstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
	"github.com/DEVunderdog/NeuroStash/pkg/fake"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/objectstore"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestObjectStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Object Store Provider")
}

var ctx context.Context
var s3api *fake.S3API
var presigner *fake.S3Presigner
var provider *objectstore.DefaultProvider

var _ = BeforeEach(func() {
	ctx = context.Background()
	s3api = &fake.S3API{}
	presigner = &fake.S3Presigner{}
	provider = objectstore.NewDefaultProvider(s3api, presigner, "neurostash-docs", 10*time.Minute)
})

var _ = AfterEach(func() {
	s3api.Reset()
	presigner.Reset()
})

var _ = Describe("ContentTypeFor", func() {
	It("should map registered extensions case-insensitively", func() {
		contentType, err := objectstore.ContentTypeFor("Report.PDF")
		Expect(err).ToNot(HaveOccurred())
		Expect(contentType).To(Equal("application/pdf"))
	})
	It("should reject unregistered extensions as validation failures", func() {
		_, err := objectstore.ContentTypeFor("binary.exe")
		Expect(nserrors.IsValidation(err)).To(BeTrue())
	})
	It("should reject names without an extension", func() {
		_, err := objectstore.ContentTypeFor("README")
		Expect(nserrors.IsValidation(err)).To(BeTrue())
	})
})

var _ = Describe("PresignUpload", func() {
	It("should pin the registered content type on the signed request", func() {
		upload, err := provider.PresignUpload(ctx, "documents/1/abc.txt", "notes.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(upload.Method).To(Equal("PUT"))
		Expect(upload.URL).To(ContainSubstring("documents/1/abc.txt"))
		Expect(upload.ExpiresAt).To(BeTemporally(">", time.Now()))

		input := presigner.PresignPutObjectBehavior.CalledWithInput.Pop()
		Expect(aws.ToString(input.ContentType)).To(Equal("text/plain"))
		Expect(aws.ToString(input.Bucket)).To(Equal("neurostash-docs"))
	})
	It("should refuse to presign a disallowed extension", func() {
		_, err := provider.PresignUpload(ctx, "documents/1/abc.exe", "tool.exe")
		Expect(nserrors.IsValidation(err)).To(BeTrue())
		Expect(presigner.PresignPutObjectBehavior.Calls()).To(Equal(0))
	})
})

var _ = Describe("Exists", func() {
	It("should report present objects", func() {
		s3api.PutObject("documents/1/abc.txt", []byte("hello"))
		present, err := provider.Exists(ctx, "documents/1/abc.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeTrue())
	})
	It("should report missing objects without error", func() {
		present, err := provider.Exists(ctx, "documents/1/missing.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeFalse())
	})
})

var _ = Describe("Download", func() {
	It("should write the object to a temp file keeping the extension", func() {
		s3api.PutObject("documents/1/abc.txt", []byte("file contents"))
		path, err := provider.Download(ctx, "documents/1/abc.txt")
		Expect(err).ToNot(HaveOccurred())
		defer os.Remove(path)
		Expect(path).To(HaveSuffix(".txt"))
		raw, err := os.ReadFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(raw)).To(Equal("file contents"))
	})
	It("should surface missing objects as transient", func() {
		_, err := provider.Download(ctx, "documents/1/missing.txt")
		Expect(nserrors.IsTransient(err)).To(BeTrue())
	})
})

var _ = Describe("DeleteMany", func() {
	It("should remove every key in one batch", func() {
		s3api.PutObject("a", []byte("1"))
		s3api.PutObject("b", []byte("2"))
		Expect(provider.DeleteMany(ctx, []string{"a", "b"})).To(Succeed())
		Expect(s3api.HasObject("a")).To(BeFalse())
		Expect(s3api.HasObject("b")).To(BeFalse())
	})
	It("should be a no-op for no keys", func() {
		Expect(provider.DeleteMany(ctx, nil)).To(Succeed())
		Expect(s3api.DeleteObjectsBehavior.Calls()).To(Equal(0))
	})
	It("should surface batch failures as transient", func() {
		s3api.DeleteObjectsBehavior.Error.Set(fmt.Errorf("denied"), fake.MaxCalls(1))
		err := provider.DeleteMany(ctx, []string{"a"})
		Expect(nserrors.IsTransient(err)).To(BeTrue())
	})
})
