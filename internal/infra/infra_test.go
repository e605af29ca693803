package infra

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/kompanio/timebank/internal/config"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0", "timebank-test")
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()
	if client.Options().ClientName != "timebank-test" {
		t.Fatalf("unexpected client name %q", client.Options().ClientName)
	}

	if _, err := NewRedisClient(context.Background(), "", ""); err == nil {
		t.Fatalf("expected an error for an empty url")
	}
	if _, err := NewRedisClient(context.Background(), "not a url", ""); err == nil {
		t.Fatalf("expected an error for a bad url")
	}
}

func TestNewPostgresPoolValidatesURL(t *testing.T) {
	if _, err := NewPostgresPool(context.Background(), "", PoolOptions{}); err == nil {
		t.Fatalf("expected an error for an empty url")
	}
	if _, err := NewPostgresPool(context.Background(), "postgres://%zz", PoolOptions{}); err == nil {
		t.Fatalf("expected an error for a bad url")
	}
}

func TestNewS3ClientRequiresBucket(t *testing.T) {
	if _, err := NewS3Client(context.Background(), config.S3Config{}); err == nil {
		t.Fatalf("expected an error without a bucket")
	}

	client, err := NewS3Client(context.Background(), config.S3Config{
		Bucket:    "photos",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio-secret",
	})
	if err != nil {
		t.Fatalf("NewS3Client: %v", err)
	}
	if !client.Options().UsePathStyle {
		t.Fatalf("expected path-style addressing with a custom endpoint")
	}
}
