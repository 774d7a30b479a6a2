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

package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/samber/lo"

	"github.com/DEVunderdog/NeuroStash/pkg/aws/sdk"
	nserrors "github.com/DEVunderdog/NeuroStash/pkg/errors"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue/messages"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/logging"
)

// Hard broker caps on a single receive call.
const (
	maxReceiveBatch = 10
	maxWaitSeconds  = 20
)

// Message is one received envelope plus the handle needed to ack it.
type Message struct {
	Envelope      messages.Envelope
	MessageID     string
	ReceiptHandle string
}

type Provider interface {
	Name() string
	Send(context.Context, messages.Envelope) (string, error)
	Receive(ctx context.Context, maxN int, waitSeconds int) ([]Message, error)
	Ack(ctx context.Context, receiptHandle string) error
}

type DefaultProvider struct {
	client sdk.SQSAPI

	queueURL string
}

func NewDefaultProvider(client sdk.SQSAPI, queueURL string) *DefaultProvider {
	return &DefaultProvider{
		client:   client,
		queueURL: queueURL,
	}
}

func (p *DefaultProvider) Name() string {
	ss := strings.Split(p.queueURL, "/")
	return ss[len(ss)-1]
}

// Send enqueues one envelope. Failures surface as transient so admission can
// roll back and the caller can retry.
func (p *DefaultProvider) Send(ctx context.Context, envelope messages.Envelope) (string, error) {
	raw, err := envelope.Marshal()
	if err != nil {
		return "", err
	}
	input := &sqs.SendMessageInput{
		MessageBody: aws.String(string(raw)),
		QueueUrl:    aws.String(p.queueURL),
	}
	var result *sqs.SendMessageOutput
	err = retry.Do(func() error {
		var sendErr error
		result, sendErr = p.client.SendMessage(ctx, input)
		return sendErr
	}, retry.Attempts(3), retry.Delay(200*time.Millisecond), retry.LastErrorOnly(true))
	if err != nil {
		return "", nserrors.NewTransient(fmt.Errorf("sending message to sqs queue, %w", err))
	}
	sentMessages.Inc()
	return aws.ToString(result.MessageId), nil
}

// Receive long-polls up to maxN messages. Bodies that fail to parse are
// logged and skipped; unacked, they age into the broker's dead-letter policy.
func (p *DefaultProvider) Receive(ctx context.Context, maxN int, waitSeconds int) ([]Message, error) {
	input := &sqs.ReceiveMessageInput{
		MaxNumberOfMessages: int32(lo.Clamp(maxN, 1, maxReceiveBatch)),
		WaitTimeSeconds:     int32(lo.Clamp(waitSeconds, 0, maxWaitSeconds)),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameSentTimestamp,
		},
		QueueUrl: aws.String(p.queueURL),
	}
	result, err := p.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, nserrors.NewTransient(fmt.Errorf("receiving sqs messages, %w", err))
	}
	var out []Message
	for _, msg := range result.Messages {
		envelope, err := messages.Unmarshal([]byte(aws.ToString(msg.Body)))
		if err != nil {
			logging.FromContext(ctx).With("queue", p.Name(), "message-id", aws.ToString(msg.MessageId)).
				Errorf("skipping unparseable message, %s", err)
			skippedMessages.Inc()
			continue
		}
		out = append(out, Message{
			Envelope:      envelope,
			MessageID:     aws.ToString(msg.MessageId),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	receivedMessages.Add(float64(len(out)))
	return out, nil
}

// Ack deletes the message. Deleting an already-deleted handle is a no-op on
// the broker side, so the call is idempotent from the caller's view.
func (p *DefaultProvider) Ack(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}
	if _, err := p.client.DeleteMessage(ctx, input); err != nil {
		return nserrors.NewTransient(fmt.Errorf("deleting message from sqs queue, %w", err))
	}
	ackedMessages.Inc()
	return nil
}
