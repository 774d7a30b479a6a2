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
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/DEVunderdog/NeuroStash/pkg/aws/sdk"
)

// SQSBehavior must be reset between tests otherwise tests will
// pollute each other.
type SQSBehavior struct {
	SendMessageBehavior    MockedFunction[sqs.SendMessageInput, sqs.SendMessageOutput]
	ReceiveMessageBehavior MockedFunction[sqs.ReceiveMessageInput, sqs.ReceiveMessageOutput]
	DeleteMessageBehavior  MockedFunction[sqs.DeleteMessageInput, sqs.DeleteMessageOutput]
}

// SQSAPI backs the behaviors with an in-memory queue so send, receive
// and delete compose like the real service within a test.
type SQSAPI struct {
	sdk.SQSAPI
	SQSBehavior

	mu       sync.Mutex
	messages []sqstypes.Message
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (s *SQSAPI) Reset() {
	s.SendMessageBehavior.Reset()
	s.ReceiveMessageBehavior.Reset()
	s.DeleteMessageBehavior.Reset()
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

func (s *SQSAPI) SendMessage(_ context.Context, input *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return s.SendMessageBehavior.Invoke(input, func(input *sqs.SendMessageInput) (*sqs.SendMessageOutput, error) {
		id := uuid.New().String()
		s.mu.Lock()
		s.messages = append(s.messages, sqstypes.Message{
			MessageId:     aws.String(id),
			ReceiptHandle: aws.String("receipt-" + id),
			Body:          input.MessageBody,
		})
		s.mu.Unlock()
		return &sqs.SendMessageOutput{MessageId: aws.String(id)}, nil
	})
}

func (s *SQSAPI) ReceiveMessage(_ context.Context, input *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return s.ReceiveMessageBehavior.Invoke(input, func(input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		n := int(input.MaxNumberOfMessages)
		if n <= 0 || n > len(s.messages) {
			n = len(s.messages)
		}
		batch := make([]sqstypes.Message, n)
		copy(batch, s.messages[:n])
		s.messages = s.messages[n:]
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	})
}

func (s *SQSAPI) DeleteMessage(_ context.Context, input *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return s.DeleteMessageBehavior.Invoke(input, func(_ *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
		return &sqs.DeleteMessageOutput{}, nil
	})
}

// Enqueue places a raw body on the in-memory queue, bypassing SendMessage
// bookkeeping, for tests that start from a delivered message.
func (s *SQSAPI) Enqueue(body string) {
	id := uuid.New().String()
	s.mu.Lock()
	s.messages = append(s.messages, sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(fmt.Sprintf("receipt-%s", id)),
		Body:          aws.String(body),
	})
	s.mu.Unlock()
}

// QueueLen reports messages still waiting to be received.
func (s *SQSAPI) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
