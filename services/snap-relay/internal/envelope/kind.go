// Package envelope defines the side-effect requests the relay carries and their wire format.
package envelope

// Kind is the operation tag carried in the "operation" field of every envelope.
type Kind string

const (
	KindUploadSnap                      Kind = "upload_snap"
	KindDeleteSnap                      Kind = "delete_snap"
	KindDeleteAllSnaps                  Kind = "delete_all_snaps"
	KindAddNewSession                   Kind = "add_new_session"
	KindPlaceThumbnailImgURL            Kind = "place_thumbnail_img_url"
	KindDeleteSession                   Kind = "delete_session"
	KindAddOTP                          Kind = "add_otp"
	KindAddImgTags                      Kind = "add_img_tags"
	KindWriteImgCaption                 Kind = "write_img_caption"
	KindDeleteImgTagsAndCaptions        Kind = "delete_img_tags_and_captions"
	KindDeleteAllUserImgTagsAndCaptions Kind = "delete_all_user_img_tags_and_captions"
)

// Store names the backing store an operation mutates. It doubles as the topic prefix.
type Store string

const (
	StoreObjects   Store = "s3"
	StoreSessions  Store = "redis"
	StoreDocuments Store = "mongodb"
)

var kindStores = map[Kind]Store{
	KindUploadSnap:                      StoreObjects,
	KindDeleteSnap:                      StoreObjects,
	KindDeleteAllSnaps:                  StoreObjects,
	KindAddNewSession:                   StoreSessions,
	KindPlaceThumbnailImgURL:            StoreSessions,
	KindDeleteSession:                   StoreSessions,
	KindAddOTP:                          StoreSessions,
	KindAddImgTags:                      StoreDocuments,
	KindWriteImgCaption:                 StoreDocuments,
	KindDeleteImgTagsAndCaptions:        StoreDocuments,
	KindDeleteAllUserImgTagsAndCaptions: StoreDocuments,
}

// Kinds returns every operation kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindUploadSnap,
		KindDeleteSnap,
		KindDeleteAllSnaps,
		KindAddNewSession,
		KindPlaceThumbnailImgURL,
		KindDeleteSession,
		KindAddOTP,
		KindAddImgTags,
		KindWriteImgCaption,
		KindDeleteImgTagsAndCaptions,
		KindDeleteAllUserImgTagsAndCaptions,
	}
}

// Known reports whether k is part of the closed operation set.
func (k Kind) Known() bool {
	_, ok := kindStores[k]
	return ok
}

func (k Kind) Store() Store {
	return kindStores[k]
}

// Topic is the channel name, "<store>.<operation>".
func (k Kind) Topic() string {
	return string(k.Store()) + "." + string(k)
}

// Topics returns the channel of every operation kind, the consumer's default subscription.
func Topics() []string {
	kinds := Kinds()
	topics := make([]string, 0, len(kinds))
	for _, k := range kinds {
		topics = append(topics, k.Topic())
	}
	return topics
}
