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

	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/DEVunderdog/NeuroStash/pkg/aws/sdk"
)

// wrapPrefix marks ciphertext produced by the fake so Decrypt can reject
// blobs it never wrapped.
var wrapPrefix = []byte("kms-wrapped:")

// KMSBehavior must be reset between tests otherwise tests will
// pollute each other.
type KMSBehavior struct {
	EncryptBehavior MockedFunction[kms.EncryptInput, kms.EncryptOutput]
	DecryptBehavior MockedFunction[kms.DecryptInput, kms.DecryptOutput]
}

type KMSAPI struct {
	sdk.KMSAPI
	KMSBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (k *KMSAPI) Reset() {
	k.EncryptBehavior.Reset()
	k.DecryptBehavior.Reset()
}

func (k *KMSAPI) Encrypt(_ context.Context, input *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	return k.EncryptBehavior.Invoke(input, func(input *kms.EncryptInput) (*kms.EncryptOutput, error) {
		return &kms.EncryptOutput{
			CiphertextBlob: append(append([]byte{}, wrapPrefix...), input.Plaintext...),
		}, nil
	})
}

func (k *KMSAPI) Decrypt(_ context.Context, input *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	return k.DecryptBehavior.Invoke(input, func(input *kms.DecryptInput) (*kms.DecryptOutput, error) {
		if !bytes.HasPrefix(input.CiphertextBlob, wrapPrefix) {
			return nil, fmt.Errorf("ciphertext not produced by this key")
		}
		return &kms.DecryptOutput{
			Plaintext: bytes.TrimPrefix(input.CiphertextBlob, wrapPrefix),
		}, nil
	})
}
