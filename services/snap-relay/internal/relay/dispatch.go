package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/firesnaps/snaprelay/services/snap-relay/internal/envelope"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/objects"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/sessions"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/tagging"
)

type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

type SessionStore interface {
	HashSet(ctx context.Context, key string, fields map[string]string) error
	HashSetExisting(ctx context.Context, key, field, value string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type DocumentStore interface {
	InsertOne(ctx context.Context, doc tagging.ImageTags) error
	UpdateCaption(ctx context.Context, s3Key, caption string) (bool, error)
	DeleteOne(ctx context.Context, s3Key string) error
	DeleteMany(ctx context.Context, userID int64) (int64, error)
}

var (
	_ ObjectStore   = (*objects.Store)(nil)
	_ SessionStore  = (*sessions.Store)(nil)
	_ DocumentStore = (*tagging.Store)(nil)
)

// Dispatcher applies one decoded operation to the store that owns it.
type Dispatcher struct {
	objects   ObjectStore
	sessions  SessionStore
	documents DocumentStore
	logger    *slog.Logger
}

func NewDispatcher(objectStore ObjectStore, sessionStore SessionStore, documentStore DocumentStore, logger *slog.Logger) *Dispatcher {
	if objectStore == nil || sessionStore == nil || documentStore == nil {
		panic("relay dispatcher requires object, session and document stores")
	}
	return &Dispatcher{
		objects:   objectStore,
		sessions:  sessionStore,
		documents: documentStore,
		logger:    logger,
	}
}

// Apply performs op. Every variant of envelope.Operation has a case here; the default
// branch only fires if a variant is added without one.
func (d *Dispatcher) Apply(ctx context.Context, op envelope.Operation) error {
	switch o := op.(type) {
	case envelope.UploadSnap:
		return d.objects.Put(ctx, o.S3Key, o.FileContent, o.ContentType)

	case envelope.DeleteSnap:
		return d.objects.Delete(ctx, o.S3Key)

	case envelope.DeleteAllSnaps:
		n, err := d.objects.DeleteByPrefix(ctx, objects.UserPrefix(o.UserID))
		if err != nil {
			return err
		}
		d.logger.DebugContext(ctx, "snaps deleted", "user_id", o.UserID, "count", n)
		return nil

	case envelope.AddNewSession:
		if err := d.sessions.HashSet(ctx, o.SessionKey, map[string]string{
			sessions.FieldUserID:          strconv.FormatInt(o.UserID, 10),
			sessions.FieldThumbnailImgURL: o.ThumbnailImgURL,
			sessions.FieldCreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		return d.sessions.Expire(ctx, o.SessionKey, sessions.SessionTTL)

	case envelope.PlaceThumbnailImgURL:
		ok, err := d.sessions.HashSetExisting(ctx, o.SessionKey, sessions.FieldThumbnailImgURL, o.ThumbnailImgURL)
		if err != nil {
			return err
		}
		if !ok {
			d.logger.WarnContext(ctx, "thumbnail for missing session dropped", "session_key", o.SessionKey)
		}
		return nil

	case envelope.DeleteSession:
		return d.sessions.Delete(ctx, o.SessionKey)

	case envelope.AddOTP:
		return d.sessions.SetWithTTL(ctx, sessions.OTPKey(o.Email), o.OTP, sessions.OTPTTL)

	case envelope.AddImgTags:
		return d.documents.InsertOne(ctx, tagging.ImageTags{
			UserID:    o.UserID,
			S3Key:     o.S3Key,
			Tags:      o.Tags,
			Caption:   o.Caption,
			CreatedAt: o.CreatedAt.Time,
		})

	case envelope.WriteImgCaption:
		ok, err := d.documents.UpdateCaption(ctx, o.S3Key, o.Caption)
		if err != nil {
			return err
		}
		if !ok {
			d.logger.WarnContext(ctx, "caption for missing image dropped", "s3_key", o.S3Key)
		}
		return nil

	case envelope.DeleteImgTagsAndCaptions:
		return d.documents.DeleteOne(ctx, o.S3Key)

	case envelope.DeleteAllUserImgTagsAndCaptions:
		n, err := d.documents.DeleteMany(ctx, o.UserID)
		if err != nil {
			return err
		}
		d.logger.DebugContext(ctx, "image tags deleted", "user_id", o.UserID, "count", n)
		return nil

	default:
		return fmt.Errorf("no handler for operation %q", op.Kind())
	}
}
