package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNewS3ClientValidation(t *testing.T) {
	if _, err := NewS3Client(Config{}); err == nil {
		t.Error("Expected an error without endpoint")
	}
	if _, err := NewS3Client(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("Expected an error without credentials")
	}
	if _, err := NewS3Client(Config{Endpoint: "https://s3.example.com", AccessKey: "a", SecretKey: "b"}); err != nil {
		t.Errorf("Unexpected error for URL endpoint: %v", err)
	}
}

func TestS3ClientAgainstMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start minio: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	endpoint, err := c.PortEndpoint(ctx, "9000/tcp", "")
	if err != nil {
		t.Fatalf("Failed to resolve endpoint: %v", err)
	}

	client, err := NewS3Client(Config{Endpoint: endpoint, AccessKey: "minioadmin", SecretKey: "minioadmin"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	fs, err := NewFileStore(ctx, client, "dicomweb")
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	if _, err := NewFileStore(ctx, client, "dicomweb"); err != nil {
		t.Fatalf("Ensuring an existing bucket should succeed: %v", err)
	}

	if err := fs.AddFile(ctx, testID, strings.NewReader("DICM"), false); err != nil {
		t.Fatalf("Failed to add file: %v", err)
	}
	if err := fs.AddFile(ctx, testID, strings.NewReader("DICM"), false); err == nil {
		t.Fatal("Expected a conflict on second add")
	}

	rc, err := fs.GetFile(ctx, testID)
	if err != nil {
		t.Fatalf("Failed to get file: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "DICM" {
		t.Errorf("Expected 'DICM', got '%s'", data)
	}

	if err := fs.DeleteFileIfExists(ctx, testID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := client.GetObject(ctx, "dicomweb", FileKey(testID)); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Expected ErrObjectNotFound, got %v", err)
	}
}
