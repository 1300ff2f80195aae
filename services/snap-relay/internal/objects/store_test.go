package objects

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

type fakeObject struct {
	body        []byte
	contentType string
	acl         types.ObjectCannedACL
	modified    time.Time
}

// fakeS3API keeps objects in memory and pages listings by pageSize.
type fakeS3API struct {
	mu sync.Mutex

	objects  map[string]fakeObject
	pageSize int

	deleteObjectsCalls int
	putErr             error
	deleteErrKeys      map[string]bool
}

func newFakeS3() *fakeS3API {
	return &fakeS3API{objects: map[string]fakeObject{}, pageSize: 2}
}

func (f *fakeS3API) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{body: body, contentType: aws.ToString(in.ContentType), acl: in.ACL, modified: time.Now()}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3API) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3API) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteObjectsCalls++
	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		key := aws.ToString(id.Key)
		if f.deleteErrKeys[key] {
			out.Errors = append(out.Errors, types.Error{Key: id.Key, Message: aws.String("AccessDenied")})
			continue
		}
		delete(f.objects, key)
	}
	return out, nil
}

func (f *fakeS3API) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	for i, k := range keys {
		if i == f.pageSize {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(keys[i-1])
			break
		}
		o := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(o.body))),
			LastModified: aws.Time(o.modified),
		})
	}
	return out, nil
}

func (f *fakeS3API) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3API) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func TestStore_PutAndDelete(t *testing.T) {
	f := newFakeS3()
	s := New(f, "snaps", "us-east-1")
	ctx := context.Background()

	if err := s.Put(ctx, "1/snap/1_a.png", []byte{1, 2, 3}, "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := f.objects["1/snap/1_a.png"]; got.contentType != "image/png" || len(got.body) != 3 || got.acl != types.ObjectCannedACLPublicRead {
		t.Fatalf("unexpected object %+v", got)
	}

	if err := s.Delete(ctx, "1/snap/1_a.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.has("1/snap/1_a.png") {
		t.Fatal("object still present")
	}
	if err := s.Delete(ctx, "1/snap/1_a.png"); err != nil {
		t.Fatalf("second delete should succeed: %v", err)
	}
}

func TestStore_PutPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	f := newFakeS3()
	f.putErr = boom
	s := New(f, "snaps", "us-east-1")
	if err := s.Put(context.Background(), "k", []byte("x"), ""); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := s.Put(context.Background(), "", []byte("x"), ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestStore_DeleteByPrefixPagesAndKeepsOtherUsers(t *testing.T) {
	f := newFakeS3()
	s := New(f, "snaps", "us-east-1")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.Put(ctx, fmt.Sprintf("1/snap/%d.png", i), []byte("x"), "image/png")
	}
	_ = s.Put(ctx, "11/snap/0.png", []byte("x"), "image/png")

	n, err := s.DeleteByPrefix(ctx, UserPrefix(1))
	if err != nil {
		t.Fatalf("delete by prefix: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 deleted, got %d", n)
	}
	if !f.has("11/snap/0.png") {
		t.Fatal("other user's object deleted")
	}
	remaining, _ := s.List(ctx, UserPrefix(1))
	if len(remaining) != 0 {
		t.Fatalf("expected nothing left, got %v", remaining)
	}
}

func TestStore_DeleteByPrefixReportsKeyErrors(t *testing.T) {
	f := newFakeS3()
	f.deleteErrKeys = map[string]bool{"2/snap/b.png": true}
	s := New(f, "snaps", "us-east-1")
	ctx := context.Background()
	_ = s.Put(ctx, "2/snap/a.png", []byte("x"), "")
	_ = s.Put(ctx, "2/snap/b.png", []byte("x"), "")

	if _, err := s.DeleteByPrefix(ctx, UserPrefix(2)); err == nil || !strings.Contains(err.Error(), "2/snap/b.png") {
		t.Fatalf("expected per-key error, got %v", err)
	}
	if _, err := s.DeleteByPrefix(ctx, "/"); err == nil {
		t.Fatal("expected refusal for empty prefix")
	}
}

func TestStore_ListSnaps(t *testing.T) {
	f := newFakeS3()
	s := New(f, "snaps", "eu-west-1")
	ctx := context.Background()
	_ = s.Put(ctx, "3/snap/1_a.jpg", []byte("abcd"), "image/jpeg")
	_ = s.Put(ctx, "3/pfp/me.jpg", []byte("abcd"), "image/jpeg")

	snaps, err := s.ListSnaps(ctx, 3)
	if err != nil {
		t.Fatalf("list snaps: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snap, got %d", len(snaps))
	}
	if snaps[0].ImgURL != "https://snaps.s3.eu-west-1.amazonaws.com/3/snap/1_a.jpg" || snaps[0].FileSize != 4 {
		t.Fatalf("unexpected snap %+v", snaps[0])
	}
}

func TestSnapKey(t *testing.T) {
	id := uuid.MustParse("0b9d5d0e-4c57-4a8c-9d1c-0f5c2a0f6f11")
	now := time.Unix(1767225600, 0)
	got := SnapKey(42, "Beach.JPG", now, id)
	want := "42/snap/1767225600_0b9d5d0e-4c57-4a8c-9d1c-0f5c2a0f6f11.jpg"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
