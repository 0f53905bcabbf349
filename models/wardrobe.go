package models

import "github.com/lib/pq"

type WardrobeItem struct {
	JsonModel
	Name        string      `json:"name"`
	Description *string     `gorm:"type:text" json:"description"`
	Category    string      `json:"category"` // top, bottom, outerwear, footwear, accessory
	Owner       UserAccount `json:"-"`
	OwnerID     uint        `json:"-"`
	ImageStatus string      `json:"image_status"` // draft, uploaded
	ImageKey    *string     `json:"-"`

	// filled by the analysis worker
	Colors              pq.StringArray `gorm:"type:text[]" json:"colors"`
	Pattern             *string        `json:"pattern"`
	Material            *string        `json:"material"`
	ProcessingStatus    string         `json:"processing_status"` // idle, analyzing, completed, failed
	ProcessRetryTimes   int            `json:"process_retry_times"`
	ProcessErrorMessage *string        `json:"process_error_message"`
	// asynq task id of the queued analysis, for broker-side status lookups
	AnalysisTaskID *string `json:"-"`
}

type WardrobeItemIn struct {
	Name     string  `json:"name" validate:"required,max=200"`
	Category string  `json:"category" validate:"required,max=50"`
	FileName *string `json:"file_name" validate:"omitempty,max=1000"`
}

type WardrobeItemOut struct {
	WardrobeItem
	ImageURL *string `json:"image_url"`
}

type SetWardrobeUploadFileRequest struct {
	FileName *string `json:"file_name" validate:"required,max=1000"`
}
