package types

import "time"

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindPDF   MediaKind = "pdf"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindPDF
}

type Channel struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MediaRecord is one discovered attachment. S3Key stays nil until the record
// is approved and the bytes are materialized in object storage.
type MediaRecord struct {
	ID              int64     `json:"id"`
	MessageID       int64     `json:"message_id"`
	ChannelUsername string    `json:"channel_username"`
	FileName        string    `json:"file_name"`
	FileType        MediaKind `json:"file_type"`
	S3Key           *string   `json:"s3_key"`
	DownloadedAt    time.Time `json:"downloaded_at"`
	Approved        bool      `json:"approved"`
}

// NewMedia carries the fields the ingestion engine knows at discovery time.
type NewMedia struct {
	MessageID       int64
	ChannelUsername string
	FileName        string
	FileType        MediaKind
}

type MediaFilter struct {
	Kind         MediaKind
	ApprovedOnly bool
	PendingOnly  bool
	Channel      string
}

type Page struct {
	Skip  int
	Limit int
}

type MediaPage struct {
	Items []MediaRecord `json:"items"`
	Total int           `json:"total"`
	Skip  int           `json:"skip"`
	Limit int           `json:"limit"`
}

type CatalogCounts struct {
	TotalChannels  int `json:"total_channels"`
	ActiveChannels int `json:"active_channels"`
	TotalMedia     int `json:"total_media"`
	PendingMedia   int `json:"pending_media"`
	ApprovedMedia  int `json:"approved_media"`
}

type CreateChannelRequest struct {
	Username string `json:"username" validate:"required"`
}

type ListMediaQuery struct {
	Skip         int       `validate:"min=0"`
	Limit        int       `validate:"min=1,max=1000"`
	MediaType    MediaKind `validate:"omitempty,oneof=audio pdf"`
	ApprovedOnly bool
}

type DownloadURLQuery struct {
	Expiration int `validate:"min=60,max=604800"`
}

type BatchApproveRequest struct {
	MediaIDs []int64 `json:"media_ids" validate:"required,min=1,max=100"`
}

// MessagePreview is the lightweight metadata returned when previewing a
// channel; nothing is persisted.
type MessagePreview struct {
	MessageID int64     `json:"message_id"`
	Date      time.Time `json:"date"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	FileSize  int64     `json:"file_size"`
	Text      string    `json:"text"`
}
