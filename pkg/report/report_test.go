package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func sampleReport() *Report {
	return &Report{
		StartedAt:  time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Duration:   1500 * time.Millisecond,
		Goroutines: 4,
		Iterations: 100,
		Results: []Result{
			{Name: "no-lost-updates", Passed: true, Duration: time.Second},
			{Name: "reader-wakes", Passed: false, Detail: "reader stuck at generation 3"},
		},
	}
}

func TestReportPassed(t *testing.T) {
	r := sampleReport()
	if r.Passed() {
		t.Error("report with a failure should not pass")
	}
	if f := r.Failed(); len(f) != 1 || f[0].Name != "reader-wakes" {
		t.Errorf("Failed() = %+v", f)
	}

	r.Results[1].Passed = true
	if !r.Passed() || r.Failed() != nil {
		t.Error("all-passing report should pass")
	}
	if !(&Report{}).Passed() {
		t.Error("empty report should pass")
	}
}

func TestName(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	if got := Name(at); got != "stress-20260102T020405Z" {
		t.Errorf("Name() = %q", got)
	}
	if err := checkName(Name(at)); err != nil {
		t.Errorf("generated name should be valid: %v", err)
	}
}

func TestCheckName(t *testing.T) {
	for _, name := range []string{"", "../x", "a/b", ".hidden", "sp ace"} {
		if err := checkName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("checkName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
	for _, name := range []string{"a", "run-1", "v1.2_final"} {
		if err := checkName(name); err != nil {
			t.Errorf("checkName(%q) = %v", name, err)
		}
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	loc, err := store.Put(ctx, "run-b", sampleReport())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if loc != filepath.Join(dir, "run-b.json") {
		t.Errorf("location = %q", loc)
	}
	if _, err := store.Put(ctx, "run-a", sampleReport()); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "run-b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Results) != 2 || got.Results[1].Detail != "reader stuck at generation 3" {
		t.Errorf("Get = %+v", got)
	}
	if !got.StartedAt.Equal(sampleReport().StartedAt) || got.Duration != 1500*time.Millisecond {
		t.Errorf("times lost: %v %v", got.StartedAt, got.Duration)
	}

	// Stray files are ignored.
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, ".run-c-123.tmp"), []byte("x"), 0644)

	names, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "run-a,run-b" {
		t.Errorf("List = %v", names)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v", err)
	}
	if _, err := store.Put(ctx, "../escape", sampleReport()); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Put bad name = %v", err)
	}
}

func TestFileStoreCanceledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, "x", sampleReport()); !errors.Is(err, context.Canceled) {
		t.Errorf("Put = %v, want context.Canceled", err)
	}
}

// fakeS3 is an in-memory S3API that pages List results two at a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(in.Bucket) + "/"
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, bucket+aws.ToString(in.Prefix)) {
			keys = append(keys, strings.TrimPrefix(k, bucket))
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3Store(fake, "bucket", "reactor/")

	for _, name := range []string{"run-c", "run-a", "run-b"} {
		loc, err := store.Put(ctx, name, sampleReport())
		if err != nil {
			t.Fatalf("Put %s: %v", name, err)
		}
		if loc != "s3://bucket/reactor/"+name+".json" {
			t.Errorf("location = %q", loc)
		}
	}
	if ct := fake.types["bucket/reactor/run-a.json"]; ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	// Objects outside the prefix level or not JSON are skipped.
	fake.objects["bucket/reactor/old/run-z.json"] = []byte("{}")
	fake.objects["bucket/reactor/readme.txt"] = []byte("x")
	fake.objects["bucket/other/run-q.json"] = []byte("{}")

	names, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(names, ",") != "run-a,run-b,run-c" {
		t.Errorf("List = %v", names)
	}

	got, err := store.Get(ctx, "run-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Goroutines != 4 || len(got.Results) != 2 {
		t.Errorf("Get = %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v", err)
	}
}

func TestS3StorePutError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	store := NewS3Store(fake, "bucket", "")

	_, err := store.Put(context.Background(), "run", sampleReport())
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("Put = %v", err)
	}
	if _, err := store.Put(context.Background(), "a/b", sampleReport()); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Put bad name = %v", err)
	}
}

func TestEnvCredentials(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	if _, err := envCredentials(context.Background()); err == nil {
		t.Error("expected error without credentials")
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "AKID")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_SESSION_TOKEN", "token")
	creds, err := envCredentials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessKeyID != "AKID" || creds.SecretAccessKey != "secret" || creds.SessionToken != "token" {
		t.Errorf("creds = %+v", creds)
	}

	if NewS3Client(S3ClientConfig{Region: "us-east-1", Endpoint: "http://localhost:9000", PathStyle: true}) == nil {
		t.Error("NewS3Client returned nil")
	}
}
