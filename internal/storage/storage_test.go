package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

var testID = ledger.MustObjectID("0xab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12")

func TestFileSystemStore_Layout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSystemStore(root)
	if err != nil {
		t.Fatalf("NewFileSystemStore failed: %v", err)
	}

	data := []byte("raw media bytes")
	loc, err := s.Put(context.Background(), testID, bytes.NewReader(data), false)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	want := filepath.Join(root, "ab", testID.Bare()[2:])
	if loc != want {
		t.Errorf("Expected location %s, got %s", want, loc)
	}

	// Stored verbatim, no header
	onDisk, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Error("Stored bytes differ from input")
	}

	// No temporary files left behind
	entries, _ := os.ReadDir(filepath.Join(root, "ab"))
	if len(entries) != 1 {
		t.Errorf("Expected 1 file in prefix directory, got %d", len(entries))
	}
}

func TestFileSystemStore_OpenAndList(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore failed: %v", err)
	}

	if _, err := s.Open(ctx, testID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if ok, _ := s.Has(ctx, testID); ok {
		t.Error("Has should be false before Put")
	}

	other := ledger.MustObjectID("0x01")
	for _, id := range []ledger.ObjectID{testID, other} {
		if _, err := s.Put(ctx, id, strings.NewReader(id.Hex()), false); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	r, err := s.Open(ctx, testID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, _ := io.ReadAll(r)
	r.Close()
	if string(got) != testID.Hex() {
		t.Errorf("Unexpected payload %q", got)
	}

	// Stray files are ignored
	os.WriteFile(filepath.Join(s.Root(), "README"), []byte("x"), 0644)
	os.MkdirAll(filepath.Join(s.Root(), "zz"), 0755)
	os.WriteFile(filepath.Join(s.Root(), "zz", "short"), []byte("x"), 0644)

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != other || ids[1] != testID {
		t.Errorf("Unexpected ids %v", ids)
	}
}

func TestFileSystemStore_NoSilentOverwrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore failed: %v", err)
	}

	if _, err := s.Put(ctx, testID, strings.NewReader("first"), false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Put(ctx, testID, strings.NewReader("second"), false); !errors.Is(err, ErrExists) {
		t.Errorf("Expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, testID, strings.NewReader("third"), true); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	data, _ := os.ReadFile(s.Path(testID))
	if string(data) != "third" {
		t.Errorf("Expected overwritten payload, got %q", data)
	}
}

func TestFileSystemStore_CancelledPut(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, testID, strings.NewReader("data"), false); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if ok, _ := s.Has(context.Background(), testID); ok {
		t.Error("Cancelled Put must not leave a payload")
	}
}

func TestPutFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "song.mp3")
	os.WriteFile(src, []byte("ID3"), 0644)

	s, err := NewFileSystemStore(filepath.Join(dir, "media"))
	if err != nil {
		t.Fatalf("NewFileSystemStore failed: %v", err)
	}
	if _, err := PutFile(context.Background(), s, testID, src, false); err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}
	if ok, _ := s.Has(context.Background(), testID); !ok {
		t.Error("Expected payload after PutFile")
	}
}

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &apiError{code: "PreconditionFailed"}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: make(map[string][]byte)}
	s := NewS3StoreWithClient(fake, "media", "/tuno/")

	// Non-seekable input is spooled
	loc, err := s.Put(ctx, testID, io.MultiReader(strings.NewReader("abc")), false)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !strings.HasSuffix(loc, "tuno/ab/"+testID.Bare()[2:]) {
		t.Errorf("Unexpected location %s", loc)
	}

	if _, err := s.Put(ctx, testID, strings.NewReader("xyz"), false); !errors.Is(err, ErrExists) {
		t.Errorf("Expected ErrExists, got %v", err)
	}

	r, err := s.Open(ctx, testID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "abc" {
		t.Errorf("Unexpected payload %q", data)
	}

	missing := ledger.MustObjectID("0x02")
	if _, err := s.Open(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if ok, err := s.Has(ctx, missing); ok || err != nil {
		t.Errorf("Has(missing) = %v, %v", ok, err)
	}

	fake.objects["tuno/not-an-id"] = []byte("x")
	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != testID {
		t.Errorf("Unexpected ids %v", ids)
	}
}
