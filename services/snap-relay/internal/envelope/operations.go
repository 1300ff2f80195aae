package envelope

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Operation is one state-changing side effect. The set of implementations is closed:
// the unexported validate method keeps other packages from adding variants.
type Operation interface {
	Kind() Kind
	// PartitionKey orders envelopes: same key, same partition, publish order preserved.
	PartitionKey() string
	validate() error
}

// ErrInvalid is wrapped by every payload validation failure.
var ErrInvalid = errors.New("invalid envelope payload")

func invalid(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, kind, fmt.Sprintf(format, args...))
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// HexBytes travels as lowercase hex text so binary bodies stay valid JSON.
type HexBytes []byte

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode hex body: %w", err)
	}
	*b = raw
	return nil
}

type UploadSnap struct {
	S3Key       string   `json:"s3_key"`
	FileContent HexBytes `json:"file_content"`
	ContentType string   `json:"content_type"`
}

func (UploadSnap) Kind() Kind             { return KindUploadSnap }
func (o UploadSnap) PartitionKey() string { return o.S3Key }
func (o UploadSnap) validate() error {
	if strings.TrimSpace(o.S3Key) == "" {
		return invalid(o.Kind(), "s3_key is required")
	}
	if len(o.FileContent) == 0 {
		return invalid(o.Kind(), "file_content is empty")
	}
	return nil
}

type DeleteSnap struct {
	S3Key string `json:"s3_key"`
}

func (DeleteSnap) Kind() Kind             { return KindDeleteSnap }
func (o DeleteSnap) PartitionKey() string { return o.S3Key }
func (o DeleteSnap) validate() error {
	if strings.TrimSpace(o.S3Key) == "" {
		return invalid(o.Kind(), "s3_key is required")
	}
	return nil
}

type DeleteAllSnaps struct {
	UserID int64 `json:"user_id"`
}

func (DeleteAllSnaps) Kind() Kind             { return KindDeleteAllSnaps }
func (o DeleteAllSnaps) PartitionKey() string { return userKey(o.UserID) }
func (o DeleteAllSnaps) validate() error {
	if o.UserID <= 0 {
		return invalid(o.Kind(), "user_id must be positive")
	}
	return nil
}

type AddNewSession struct {
	SessionKey      string    `json:"session_key"`
	UserID          int64     `json:"user_id"`
	ThumbnailImgURL string    `json:"thumbnail_img_url"`
	CreatedAt       Timestamp `json:"created_at"`
}

func (AddNewSession) Kind() Kind             { return KindAddNewSession }
func (o AddNewSession) PartitionKey() string { return o.SessionKey }
func (o AddNewSession) validate() error {
	if strings.TrimSpace(o.SessionKey) == "" {
		return invalid(o.Kind(), "session_key is required")
	}
	if o.UserID <= 0 {
		return invalid(o.Kind(), "user_id must be positive")
	}
	if o.CreatedAt.IsZero() {
		return invalid(o.Kind(), "created_at is required")
	}
	return nil
}

type PlaceThumbnailImgURL struct {
	SessionKey      string `json:"session_key"`
	ThumbnailImgURL string `json:"thumbnail_img_url"`
}

func (PlaceThumbnailImgURL) Kind() Kind             { return KindPlaceThumbnailImgURL }
func (o PlaceThumbnailImgURL) PartitionKey() string { return o.SessionKey }
func (o PlaceThumbnailImgURL) validate() error {
	if strings.TrimSpace(o.SessionKey) == "" {
		return invalid(o.Kind(), "session_key is required")
	}
	return nil
}

type DeleteSession struct {
	SessionKey string `json:"session_key"`
}

func (DeleteSession) Kind() Kind             { return KindDeleteSession }
func (o DeleteSession) PartitionKey() string { return o.SessionKey }
func (o DeleteSession) validate() error {
	if strings.TrimSpace(o.SessionKey) == "" {
		return invalid(o.Kind(), "session_key is required")
	}
	return nil
}

type AddOTP struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (AddOTP) Kind() Kind             { return KindAddOTP }
func (o AddOTP) PartitionKey() string { return o.Email }
func (o AddOTP) validate() error {
	if !strings.Contains(o.Email, "@") {
		return invalid(o.Kind(), "email %q is not an address", o.Email)
	}
	if strings.TrimSpace(o.OTP) == "" {
		return invalid(o.Kind(), "otp is required")
	}
	return nil
}

type AddImgTags struct {
	UserID    int64     `json:"user_id"`
	S3Key     string    `json:"s3_key"`
	Tags      []string  `json:"tags"`
	Caption   string    `json:"caption"`
	CreatedAt Timestamp `json:"created_at"`
}

func (AddImgTags) Kind() Kind             { return KindAddImgTags }
func (o AddImgTags) PartitionKey() string { return o.S3Key }
func (o AddImgTags) validate() error {
	if o.UserID <= 0 {
		return invalid(o.Kind(), "user_id must be positive")
	}
	if strings.TrimSpace(o.S3Key) == "" {
		return invalid(o.Kind(), "s3_key is required")
	}
	if o.CreatedAt.IsZero() {
		return invalid(o.Kind(), "created_at is required")
	}
	return nil
}

type WriteImgCaption struct {
	S3Key   string `json:"s3_key"`
	Caption string `json:"caption"`
}

func (WriteImgCaption) Kind() Kind             { return KindWriteImgCaption }
func (o WriteImgCaption) PartitionKey() string { return o.S3Key }
func (o WriteImgCaption) validate() error {
	if strings.TrimSpace(o.S3Key) == "" {
		return invalid(o.Kind(), "s3_key is required")
	}
	return nil
}

type DeleteImgTagsAndCaptions struct {
	S3Key string `json:"s3_key"`
}

func (DeleteImgTagsAndCaptions) Kind() Kind             { return KindDeleteImgTagsAndCaptions }
func (o DeleteImgTagsAndCaptions) PartitionKey() string { return o.S3Key }
func (o DeleteImgTagsAndCaptions) validate() error {
	if strings.TrimSpace(o.S3Key) == "" {
		return invalid(o.Kind(), "s3_key is required")
	}
	return nil
}

type DeleteAllUserImgTagsAndCaptions struct {
	UserID int64 `json:"user_id"`
}

func (DeleteAllUserImgTagsAndCaptions) Kind() Kind             { return KindDeleteAllUserImgTagsAndCaptions }
func (o DeleteAllUserImgTagsAndCaptions) PartitionKey() string { return userKey(o.UserID) }
func (o DeleteAllUserImgTagsAndCaptions) validate() error {
	if o.UserID <= 0 {
		return invalid(o.Kind(), "user_id must be positive")
	}
	return nil
}
