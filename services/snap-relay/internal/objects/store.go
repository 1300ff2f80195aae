// Package objects is the S3 adapter for snap images.
package objects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3 caps DeleteObjects at 1000 keys per request.
const deleteChunk = 1000

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Object is one listed key.
type Object struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// Snap is a listed object with its public URL.
type Snap struct {
	ImgURL    string    `json:"img_url"`
	CreatedAt time.Time `json:"created_at"`
	FileSize  int64     `json:"file_size"`
	S3Key     string    `json:"s3_key"`
}

type Store struct {
	client s3API
	bucket string
	region string
}

func New(client s3API, bucket, region string) *Store {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("bucket is required")
	}
	return &Store{client: client, bucket: bucket, region: region}
}

func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if key == "" {
		return errors.New("empty key")
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		// Snap URLs are handed to clients unsigned.
		ACL: types.ObjectCannedACLPublicRead,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return nil
}

// Delete removes one object. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("empty key")
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3 object key=%q: %w", key, err)
	}
	return nil
}

// DeleteByPrefix removes every object under prefix and returns how many were deleted.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if strings.Trim(prefix, "/") == "" {
		return 0, errors.New("refusing to delete with an empty prefix")
	}
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(objects); start += deleteChunk {
		end := start + deleteChunk
		if end > len(objects) {
			end = len(objects)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, o := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(o.Key)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("delete s3 objects prefix=%q: %w", prefix, err)
		}
		if out != nil && len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted, fmt.Errorf("delete s3 objects prefix=%q: %d key(s) failed, first %q: %s",
				prefix, len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
		deleted += len(ids)
	}
	return deleted, nil
}

// List returns every object under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 objects prefix=%q: %w", prefix, err)
		}
		for _, o := range page.Contents {
			out = append(out, Object{
				Key:          aws.ToString(o.Key),
				LastModified: aws.ToTime(o.LastModified),
				Size:         aws.ToInt64(o.Size),
			})
		}
	}
	return out, nil
}

// ListSnaps lists a user's snaps with their public URLs.
func (s *Store) ListSnaps(ctx context.Context, userID int64) ([]Snap, error) {
	objects, err := s.List(ctx, SnapPrefix(userID))
	if err != nil {
		return nil, err
	}
	snaps := make([]Snap, 0, len(objects))
	for _, o := range objects {
		snaps = append(snaps, Snap{
			ImgURL:    SnapURL(s.bucket, s.region, o.Key),
			CreatedAt: o.LastModified,
			FileSize:  o.Size,
			S3Key:     o.Key,
		})
	}
	return snaps, nil
}

// URL is the public URL of key in this store's bucket.
func (s *Store) URL(key string) string {
	return SnapURL(s.bucket, s.region, key)
}

func (s *Store) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		return err
	}
}

// UserPrefix holds every object a user owns.
func UserPrefix(userID int64) string {
	return strconv.FormatInt(userID, 10) + "/"
}

func SnapPrefix(userID int64) string {
	return UserPrefix(userID) + "snap/"
}

// SnapKey builds "<user>/snap/<unix>_<uuid><ext>" with a lowercased extension.
func SnapKey(userID int64, filename string, now time.Time, id uuid.UUID) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("%s%d_%s%s", SnapPrefix(userID), now.Unix(), id.String(), ext)
}

func SnapURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}
