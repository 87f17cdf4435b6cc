package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/rhuss/plotwise/pkg/api"
)

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLocalStore_RoundTrip(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Put(ctx, "runs/run_1/a.png", "image/png", []byte("png")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "runs/run_1/a.png")
	if err != nil || string(got) != "png" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := s.Delete(ctx, "runs/run_1/a.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "runs/run_1/a.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
	if err := s.Delete(ctx, "runs/run_1/a.png"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s := newLocal(t)
	for _, key := range []string{"", "../outside", "/etc/passwd", "runs/../../x"} {
		if err := s.Put(context.Background(), key, "", []byte("x")); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}

func TestLocalStore_CancelledContext(t *testing.T) {
	s := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Put(ctx, "k", "", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Put: %v", err)
	}
}

func TestNewLocalStore_NeedsRoot(t *testing.T) {
	if _, err := NewLocalStore(""); err == nil {
		t.Error("expected error")
	}
}

func TestNewKey(t *testing.T) {
	a := NewKey("run_1", "graph_1.png")
	b := NewKey("run_1", "graph_1.png")
	if a == b {
		t.Error("keys should be unique")
	}
	if !strings.HasPrefix(a, "runs/run_1/") || !strings.HasSuffix(a, "-graph_1.png") {
		t.Errorf("key = %q", a)
	}
	if k := NewKey("run_1", "../../etc/passwd"); strings.Contains(k, "..") || !strings.HasPrefix(k, "runs/run_1/") {
		t.Errorf("unsafe name kept: %q", k)
	}
}

func TestOffloadAndLoad(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	in := []api.Artifact{
		{Name: "main.png", Format: "png", Size: 3, Data: []byte("one")},
		{Name: "graph_1.svg", Format: "svg", Key: "runs/old/graph_1.svg"},
	}
	out, err := Offload(ctx, s, "run_1", in)
	if err != nil {
		t.Fatalf("Offload: %v", err)
	}
	if in[0].Data == nil {
		t.Error("input artifacts must not be modified")
	}
	if out[0].Data != nil || out[0].Key == "" {
		t.Errorf("offloaded = %+v", out[0])
	}
	if out[1].Key != "runs/old/graph_1.svg" {
		t.Errorf("existing key changed: %+v", out[1])
	}

	data, err := Load(ctx, s, &out[0])
	if err != nil || string(data) != "one" {
		t.Errorf("Load = %q, %v", data, err)
	}
	if data, _ := Load(ctx, nil, &in[0]); string(data) != "one" {
		t.Errorf("in-memory Load = %q", data)
	}
	if _, err := Load(ctx, s, &api.Artifact{Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load without data or key: %v", err)
	}
	if _, err := Load(ctx, nil, &out[0]); err == nil {
		t.Error("Load of offloaded artifact without store should fail")
	}
}

type failingStore struct {
	*LocalStore
	failOn  string
	deleted []string
}

func (f *failingStore) Put(ctx context.Context, key, ct string, data []byte) error {
	if strings.HasSuffix(key, f.failOn) {
		return errors.New("disk full")
	}
	return f.LocalStore.Put(ctx, key, ct, data)
}

func (f *failingStore) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return f.LocalStore.Delete(ctx, key)
}

func TestOffload_RollsBackOnError(t *testing.T) {
	fs := &failingStore{LocalStore: newLocal(t), failOn: "graph_2.png"}
	in := []api.Artifact{
		{Name: "graph_1.png", Data: []byte("1")},
		{Name: "graph_2.png", Data: []byte("2")},
	}
	if _, err := Offload(context.Background(), fs, "run_1", in); err == nil {
		t.Fatal("expected error")
	}
	if len(fs.deleted) != 1 {
		t.Fatalf("deleted = %v", fs.deleted)
	}
	if _, err := os.Stat(filepath.Join(fs.root, filepath.FromSlash(fs.deleted[0]))); !os.IsNotExist(err) {
		t.Errorf("rolled back object still present: %v", err)
	}
}

func TestClassifyMinioError(t *testing.T) {
	err := classifyMinioError(minio.ErrorResponse{Code: "NoSuchKey", Message: "gone"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("NoSuchKey: %v", err)
	}
	err = classifyMinioError(minio.ErrorResponse{Code: "AccessDenied"})
	if errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "credentials") {
		t.Errorf("AccessDenied: %v", err)
	}
	if classifyMinioError(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestNewS3Store(t *testing.T) {
	if _, err := NewS3Store(S3Config{Bucket: "b"}); err == nil {
		t.Error("missing endpoint should fail")
	}
	if _, err := NewS3Store(S3Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("missing bucket should fail")
	}
	s, err := NewS3Store(S3Config{Endpoint: "https://minio.example.com", Bucket: "charts", AccessKey: "a", SecretKey: "b"})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	if s.client.EndpointURL().Host != "minio.example.com" || s.client.EndpointURL().Scheme != "https" {
		t.Errorf("endpoint = %v", s.client.EndpointURL())
	}
}
