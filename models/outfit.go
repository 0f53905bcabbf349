package models

import "github.com/lib/pq"

// OutfitRequest is one row of recommendation history. The fingerprint of
// the uploaded garment photo is kept alongside the stored result so that
// a re-upload of the same (or near-same) photo can be answered from here
// without touching the LLM again.
type OutfitRequest struct {
	JsonModel
	Owner   UserAccount `json:"-"`
	OwnerID uint        `gorm:"index" json:"-"`

	// 64-bit perceptual hash, 16 hex chars
	Fingerprint   string `gorm:"size:16;index" json:"fingerprint"`
	DuplicateOfID *uint  `json:"duplicate_of_id"`

	GarmentImageKey *string `json:"-"`

	// analysis of the uploaded garment
	ItemType         string         `json:"item_type"`
	Colors           pq.StringArray `gorm:"type:text[]" json:"colors"`
	Pattern          *string        `json:"pattern"`
	Material         *string        `json:"material"`
	StyleDescriptors pq.StringArray `gorm:"type:text[]" json:"style_descriptors"`

	// suggested outfit slots
	Top       string `json:"top"`
	Bottom    string `json:"bottom"`
	Outerwear string `json:"outerwear"`
	Footwear  string `json:"footwear"`
	Accessory string `json:"accessory"`
	Reasoning string `gorm:"type:text" json:"reasoning"`
	// the suggestion came from the stock fallback set
	Degraded bool `json:"degraded"`

	Occasion     string `json:"occasion"`
	Season       string `json:"season"`
	Location     string `json:"location"`
	WardrobeOnly bool   `json:"wardrobe_only"`

	// visualization outcome
	GeneratedImageKey      *string  `json:"-"`
	GenerationProvider     *string  `json:"generation_provider"`
	GenerationErrorMessage *string  `json:"generation_error_message"`
	Duration               *float64 `json:"duration"` // in seconds

	LLMModel            *string `json:"llm_model"`
	LLMInputTokenCount  *int32  `json:"llm_input_token_usage"`
	LLMOutputTokenCount *int32  `json:"llm_output_token_usage"`
	LLMTotalTokenCount  *int32  `json:"llm_total_token_usage"`
}

type OutfitQueryIn struct {
	Image     string `json:"image" validate:"required"` // base64
	ImageMime string `json:"image_mime"`

	Occasion string `json:"occasion" validate:"omitempty,max=200"`
	Season   string `json:"season" validate:"omitempty,max=100"`
	Location string `json:"location" validate:"omitempty,max=200"`

	// free text takes over the structured filters entirely when set
	Preferences  string   `json:"preferences" validate:"omitempty,max=2000"`
	Styles       []string `json:"styles"`
	Colors       []string `json:"colors"`
	Avoid        []string `json:"avoid"`
	WardrobeOnly bool     `json:"wardrobe_only"`

	WithImage         bool   `json:"with_image"`
	PreferredProvider string `json:"preferred_provider" validate:"omitempty,max=50"`
}

type DuplicateCheckIn struct {
	Image     string `json:"image" validate:"required"`
	ImageMime string `json:"image_mime"`
}

type DuplicateCheckOut struct {
	Duplicate bool  `json:"duplicate"`
	Distance  *int  `json:"distance"`
	MatchedID *uint `json:"matched_id"`
}

type OutfitSlotOut struct {
	Description     string  `json:"description"`
	WardrobeItemID  *uint   `json:"wardrobe_item_id"`
	WardrobeItemURL *string `json:"wardrobe_item_url"`
}

type ProviderOutcomeOut struct {
	Provider  string  `json:"provider"`
	State     string  `json:"state"`
	Error     *string `json:"error"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

type OutfitSuggestOut struct {
	Id        uint                     `json:"id"`
	Duplicate bool                     `json:"duplicate"`
	Degraded  bool                     `json:"degraded"`
	ItemType  string                   `json:"item_type"`
	Colors    []string                 `json:"colors"`
	Pattern   *string                  `json:"pattern"`
	Material  *string                  `json:"material"`
	Slots     map[string]OutfitSlotOut `json:"slots"`
	Reasoning string                   `json:"reasoning"`
	ImageURL  *string                  `json:"image_url"`
	Providers []ProviderOutcomeOut     `json:"providers"`
}

type OutfitHistoryOut struct {
	OutfitRequest
	ImageURL        *string `json:"image_url"`
	GarmentImageURL *string `json:"garment_image_url"`
}
