// Package intents turns application requests into relay envelopes. Each method validates
// its input, fills in generated identifiers, and publishes; none of them touch a store.
package intents

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/firesnaps/snaprelay/services/snap-relay/internal/envelope"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/objects"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/sessions"
	"github.com/google/uuid"
)

const maxCaptionLen = 300

var (
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrInvalidCaption   = errors.New("caption must be 1 to 300 characters")
	ErrEmptyUpload      = errors.New("upload is empty")
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

type Publisher interface {
	Publish(ctx context.Context, op envelope.Operation) error
}

type Intents struct {
	pub    Publisher
	bucket string
	region string

	now   func() time.Time
	newID func() uuid.UUID
}

func New(pub Publisher, bucket, region string) *Intents {
	if pub == nil {
		panic("publisher is required")
	}
	return &Intents{
		pub:    pub,
		bucket: bucket,
		region: region,
		now:    time.Now,
		newID:  uuid.New,
	}
}

// AddNewSession publishes a fresh session for userID and returns its key. The session
// is readable only once the relay has applied it.
func (i *Intents) AddNewSession(ctx context.Context, userID int64) (string, error) {
	key := sessions.SessionKey(i.newID().String())
	err := i.pub.Publish(ctx, envelope.AddNewSession{
		SessionKey: key,
		UserID:     userID,
		CreatedAt:  envelope.At(i.now().UTC()),
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (i *Intents) PlaceThumbnailImgURL(ctx context.Context, sessionKey, url string) error {
	return i.pub.Publish(ctx, envelope.PlaceThumbnailImgURL{SessionKey: sessionKey, ThumbnailImgURL: url})
}

func (i *Intents) DeleteSession(ctx context.Context, sessionKey string) error {
	return i.pub.Publish(ctx, envelope.DeleteSession{SessionKey: sessionKey})
}

func (i *Intents) AddOTP(ctx context.Context, email, otp string) error {
	return i.pub.Publish(ctx, envelope.AddOTP{Email: strings.ToLower(strings.TrimSpace(email)), OTP: otp})
}

// Upload is what UploadSnap hands back: where the snap will live once applied.
type Upload struct {
	S3Key string
	URL   string
}

func (i *Intents) UploadSnap(ctx context.Context, userID int64, filename, contentType string, body []byte) (Upload, error) {
	ext := strings.ToLower(path.Ext(filename))
	if !imageExtensions[ext] {
		return Upload{}, fmt.Errorf("%w: %q", ErrUnsupportedImage, ext)
	}
	if len(body) == 0 {
		return Upload{}, ErrEmptyUpload
	}
	key := objects.SnapKey(userID, filename, i.now(), i.newID())
	if err := i.pub.Publish(ctx, envelope.UploadSnap{
		S3Key:       key,
		FileContent: body,
		ContentType: contentType,
	}); err != nil {
		return Upload{}, err
	}
	return Upload{S3Key: key, URL: objects.SnapURL(i.bucket, i.region, key)}, nil
}

func (i *Intents) DeleteSnap(ctx context.Context, s3Key string) error {
	return i.pub.Publish(ctx, envelope.DeleteSnap{S3Key: s3Key})
}

func (i *Intents) DeleteAllSnaps(ctx context.Context, userID int64) error {
	return i.pub.Publish(ctx, envelope.DeleteAllSnaps{UserID: userID})
}

// AddImgTags registers a freshly uploaded snap's tags with an empty caption.
func (i *Intents) AddImgTags(ctx context.Context, userID int64, s3Key string, tags []string) error {
	return i.pub.Publish(ctx, envelope.AddImgTags{
		UserID:    userID,
		S3Key:     s3Key,
		Tags:      tags,
		CreatedAt: envelope.At(i.now().UTC()),
	})
}

func (i *Intents) WriteImgCaption(ctx context.Context, s3Key, caption string) error {
	if n := utf8.RuneCountInString(caption); n == 0 || n > maxCaptionLen {
		return ErrInvalidCaption
	}
	return i.pub.Publish(ctx, envelope.WriteImgCaption{S3Key: s3Key, Caption: caption})
}

func (i *Intents) DeleteImgTagsAndCaptions(ctx context.Context, s3Key string) error {
	return i.pub.Publish(ctx, envelope.DeleteImgTagsAndCaptions{S3Key: s3Key})
}

func (i *Intents) DeleteAllUserImgTagsAndCaptions(ctx context.Context, userID int64) error {
	return i.pub.Publish(ctx, envelope.DeleteAllUserImgTagsAndCaptions{UserID: userID})
}

// DeleteAccount removes everything a user owns: snaps, their tags and the current session.
// Each effect travels on its own channel, so they are applied independently.
func (i *Intents) DeleteAccount(ctx context.Context, userID int64, sessionKey string) error {
	if err := i.DeleteAllSnaps(ctx, userID); err != nil {
		return err
	}
	if err := i.DeleteAllUserImgTagsAndCaptions(ctx, userID); err != nil {
		return err
	}
	if sessionKey == "" {
		return nil
	}
	return i.DeleteSession(ctx, sessionKey)
}
