package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestSettlementKey(t *testing.T) {
	at := time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC)
	if got := SettlementKey(at, "RF20261019-000001"); got != "refunds/2026-10-19/RF20261019-000001.json" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLocalArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, err := NewLocalArchive(t.TempDir())
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	key := "refunds/2026-10-19/RF1.json"
	if err := a.Put(ctx, key, strings.NewReader(`{"approved":true}`), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := a.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != `{"approved":true}` {
		t.Fatalf("unexpected body %s", body)
	}
	if _, err := a.Get(ctx, "refunds/missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestS3Archive(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{objects: map[string][]byte{}}
	a := NewS3Archive(client, "settlements")

	if err := a.Put(ctx, "k.json", strings.NewReader("{}"), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := client.objects["settlements/k.json"]; !ok {
		t.Fatalf("object not written to bucket: %v", client.objects)
	}
	if _, err := a.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
