package sync

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Destination_Write(t *testing.T) {
	fake := &fakeS3{}
	d := newS3Destination(fake, "exports", "relaymux/{date}/events.jsonl")
	d.now = func() time.Time { return time.Date(2026, 3, 4, 23, 0, 0, 0, time.FixedZone("x", -5*3600)) }

	if err := d.Write(context.Background(), []byte("{}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := aws.ToString(fake.input.Bucket); got != "exports" {
		t.Errorf("bucket = %q", got)
	}
	if got := aws.ToString(fake.input.Key); got != "relaymux/2026-03-05/events.jsonl" {
		t.Errorf("key = %q", got)
	}
	if got := aws.ToString(fake.input.ContentType); got != "application/x-ndjson" {
		t.Errorf("content type = %q", got)
	}
	if string(fake.body) != "{}\n" {
		t.Errorf("body = %q", fake.body)
	}
}

func TestS3Destination_Error(t *testing.T) {
	d := newS3Destination(&fakeS3{err: errors.New("access denied")}, "b", "k")
	if err := d.Write(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}
