package queue

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQS struct {
	sent     []string
	deleted  []string
	released []string
	inbox    []types.Message
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{Messages: f.inbox}
	f.inbox = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.released = append(f.released, aws.ToString(in.ReceiptHandle))
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestSQSQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := &fakeSQS{}
	q := NewSQSQueue(client, "https://sqs.local/refunds", 1, 30)

	if err := q.Publish(ctx, testMessage()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected one sent message, got %d", len(client.sent))
	}

	client.inbox = []types.Message{
		{
			Body:          aws.String(client.sent[0]),
			ReceiptHandle: aws.String("r-1"),
			Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
		},
		{Body: aws.String("garbage"), ReceiptHandle: aws.String("r-2")},
	}
	ds, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(ds) != 1 || ds[0].Attempt != 3 || ds[0].Message != testMessage() {
		t.Fatalf("unexpected deliveries %+v", ds)
	}

	if err := q.Nack(ctx, ds[0]); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if err := q.Ack(ctx, ds[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if len(client.released) != 1 || len(client.deleted) != 1 || client.deleted[0] != "r-1" {
		t.Fatalf("unexpected calls released=%v deleted=%v", client.released, client.deleted)
	}
}
