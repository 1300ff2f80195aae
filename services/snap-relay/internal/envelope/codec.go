package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is wrapped when a record value is not a JSON envelope.
var ErrMalformed = errors.New("malformed envelope")

// UnknownOperationError reports an "operation" tag outside the closed set.
// Operation holds the literal value received.
type UnknownOperationError struct {
	Operation string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Operation)
}

var decoders = map[Kind]func([]byte) (Operation, error){
	KindUploadSnap:                      decodeAs[UploadSnap],
	KindDeleteSnap:                      decodeAs[DeleteSnap],
	KindDeleteAllSnaps:                  decodeAs[DeleteAllSnaps],
	KindAddNewSession:                   decodeAs[AddNewSession],
	KindPlaceThumbnailImgURL:            decodeAs[PlaceThumbnailImgURL],
	KindDeleteSession:                   decodeAs[DeleteSession],
	KindAddOTP:                          decodeAs[AddOTP],
	KindAddImgTags:                      decodeAs[AddImgTags],
	KindWriteImgCaption:                 decodeAs[WriteImgCaption],
	KindDeleteImgTagsAndCaptions:        decodeAs[DeleteImgTagsAndCaptions],
	KindDeleteAllUserImgTagsAndCaptions: decodeAs[DeleteAllUserImgTagsAndCaptions],
}

func decodeAs[T Operation](value []byte) (Operation, error) {
	var op T
	if err := json.Unmarshal(value, &op); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return op, nil
}

// Encode validates op and renders {"operation": kind, ...payload}.
func Encode(op Operation) ([]byte, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: nil operation", ErrInvalid)
	}
	if err := op.validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", op.Kind(), err)
	}
	tag, err := json.Marshal(op.Kind())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", op.Kind(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + len(tag) + 16)
	buf.WriteString(`{"operation":`)
	buf.Write(tag)
	if len(payload) > 2 {
		buf.WriteByte(',')
		buf.Write(payload[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses a record value. key is the record key; it fills the envelope's own key
// field when the payload omits it.
func Decode(key, value []byte) (Operation, error) {
	var head struct {
		Operation *string `json:"operation"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Operation == nil {
		return nil, fmt.Errorf("%w: missing operation", ErrMalformed)
	}

	decode, ok := decoders[Kind(*head.Operation)]
	if !ok {
		return nil, &UnknownOperationError{Operation: *head.Operation}
	}
	op, err := decode(value)
	if err != nil {
		return nil, err
	}
	op = withRecordKey(op, string(key))
	if err := op.validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func withRecordKey(op Operation, key string) Operation {
	if key == "" {
		return op
	}
	switch o := op.(type) {
	case UploadSnap:
		if o.S3Key == "" {
			o.S3Key = key
		}
		return o
	case DeleteSnap:
		if o.S3Key == "" {
			o.S3Key = key
		}
		return o
	case AddNewSession:
		if o.SessionKey == "" {
			o.SessionKey = key
		}
		return o
	case PlaceThumbnailImgURL:
		if o.SessionKey == "" {
			o.SessionKey = key
		}
		return o
	case DeleteSession:
		if o.SessionKey == "" {
			o.SessionKey = key
		}
		return o
	case AddOTP:
		if o.Email == "" {
			o.Email = key
		}
		return o
	case AddImgTags:
		if o.S3Key == "" {
			o.S3Key = key
		}
		return o
	case WriteImgCaption:
		if o.S3Key == "" {
			o.S3Key = key
		}
		return o
	case DeleteImgTagsAndCaptions:
		if o.S3Key == "" {
			o.S3Key = key
		}
		return o
	default:
		return op
	}
}
