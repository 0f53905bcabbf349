package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"stylistapi/models"
)

const historyScanLimit = 500

// StylistConfig carries the orchestration knobs, all overridable from
// the environment.
type StylistConfig struct {
	SimilarityThreshold     int
	GenerationProviderOrder []string
	PerRequestDeadlineMs    int
	PerProviderTimeoutMs    int
	GarmentBucket           string
	GeneratedBucket         string
}

func LoadStylistConfig() StylistConfig {
	return StylistConfig{
		SimilarityThreshold:     envInt("SIMILARITY_THRESHOLD", DefaultSimilarityThreshold),
		GenerationProviderOrder: strings.Split(GetEnv("GENERATION_PROVIDER_ORDER", "gemini,seedream,sdxl"), ","),
		PerRequestDeadlineMs:    envInt("PER_REQUEST_DEADLINE_MS", 120000),
		PerProviderTimeoutMs:    envInt("PER_PROVIDER_TIMEOUT_MS", 45000),
		GarmentBucket:           GetEnv("R2_GARMENT_BUCKET", "stylist-garments"),
		GeneratedBucket:         GetEnv("R2_GENERATED_BUCKET", "stylist-generated"),
	}
}

func envInt(key string, fallback int) int {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Printf("[Config] invalid %s=%q, using %d\n", key, raw, fallback)
		return fallback
	}
	return v
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SuggestResult is the orchestrator's answer before DTO shaping.
type SuggestResult struct {
	Record          *models.OutfitRequest
	Analysis        *GarmentAnalysis
	Outfit          *OutfitSuggestion
	Duplicate       bool
	WardrobeMatches map[string]*models.WardrobeItem
	Outcomes        []ProviderOutcome
}

// StylistOrchestrator runs the whole recommendation pipeline:
// fingerprint, dedup short-circuit, garment analysis, outfit
// recommendation, optional visualization, wardrobe slot mapping.
type StylistOrchestrator struct {
	Gateway *RecommendationGateway
	Chain   *GenerationChain
	AWS     AWSServiceProvider
	Config  StylistConfig
}

func NewStylistOrchestrator(vision VisionProvider, aws AWSServiceProvider, config StylistConfig) *StylistOrchestrator {
	return &StylistOrchestrator{
		Gateway: &RecommendationGateway{Vision: vision},
		Chain:   BuildGenerationChain(config.GenerationProviderOrder, config.PerProviderTimeoutMs),
		AWS:     aws,
		Config:  config,
	}
}

// CheckDuplicate fingerprints the image and scans the user's history.
func (o *StylistOrchestrator) CheckDuplicate(db *gorm.DB, user *models.UserAccount, imageData []byte) (Fingerprint, *CandidateMatch, error) {
	fp, err := ComputeFingerprint(imageData)
	if err != nil {
		return 0, nil, err
	}
	entries, err := o.loadHistoryEntries(db, user)
	if err != nil {
		return fp, nil, err
	}
	return fp, FindMatch(entries, fp, o.Config.SimilarityThreshold), nil
}

func (o *StylistOrchestrator) loadHistoryEntries(db *gorm.DB, user *models.UserAccount) ([]HistoryEntry, error) {
	var rows []models.OutfitRequest
	r := db.Select("id", "fingerprint", "created_at").
		Where("owner_id = ? AND duplicate_of_id IS NULL", user.ID).
		Order("created_at desc").Limit(historyScanLimit).Find(&rows)
	if r.Error != nil {
		return nil, r.Error
	}
	entries := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		fp, err := ParseFingerprint(row.Fingerprint)
		if err != nil {
			fmt.Printf("[Outfit: %v] skipping unreadable fingerprint %q\n", row.ID, row.Fingerprint)
			continue
		}
		entries = append(entries, HistoryEntry{ID: row.ID, Fingerprint: fp, CreatedAt: row.CreatedAt})
	}
	return entries, nil
}

// Suggest runs the full pipeline for one uploaded garment photo.
func (o *StylistOrchestrator) Suggest(ctx context.Context, db *gorm.DB, user *models.UserAccount, req models.OutfitQueryIn) (*SuggestResult, error) {
	imageData, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64 image", Err: err}
	}

	started := time.Now()
	fp, match, err := o.CheckDuplicate(db, user, imageData)
	if err != nil {
		return nil, err
	}

	// duplicate short-circuit: answer from history, no model calls
	if match != nil {
		var cached models.OutfitRequest
		r := db.Where("id = ? AND owner_id = ?", match.EntryID, user.ID).Limit(1).Find(&cached)
		if r.Error == nil && r.RowsAffected > 0 {
			fmt.Printf("[Outfit] duplicate of %v at distance %d, serving cached result\n", cached.ID, match.Distance)
			// thin history row, excluded from future matching by DuplicateOfID
			dup := &models.OutfitRequest{
				OwnerID:            user.ID,
				Fingerprint:        fp.Hex(),
				DuplicateOfID:      &cached.ID,
				GarmentImageKey:    cached.GarmentImageKey,
				ItemType:           cached.ItemType,
				Colors:             cached.Colors,
				Pattern:            cached.Pattern,
				Material:           cached.Material,
				StyleDescriptors:   cached.StyleDescriptors,
				Top:                cached.Top,
				Bottom:             cached.Bottom,
				Outerwear:          cached.Outerwear,
				Footwear:           cached.Footwear,
				Accessory:          cached.Accessory,
				Reasoning:          cached.Reasoning,
				Degraded:           cached.Degraded,
				Occasion:           req.Occasion,
				Season:             req.Season,
				Location:           req.Location,
				WardrobeOnly:       req.WardrobeOnly,
				GeneratedImageKey:  cached.GeneratedImageKey,
				GenerationProvider: cached.GenerationProvider,
				Duration:           Float64Pointer(time.Since(started).Seconds()),
			}
			if cr := db.Create(dup); cr.Error != nil {
				fmt.Printf("[Outfit] failed to record duplicate hit: %v\n", cr.Error)
				sentry.CaptureException(cr.Error)
			}
			outfit := &OutfitSuggestion{
				Top:       cached.Top,
				Bottom:    cached.Bottom,
				Outerwear: cached.Outerwear,
				Footwear:  cached.Footwear,
				Accessory: cached.Accessory,
				Reasoning: cached.Reasoning,
				Degraded:  cached.Degraded,
			}
			analysis := &GarmentAnalysis{
				ItemType:         cached.ItemType,
				Colors:           cached.Colors,
				StyleDescriptors: cached.StyleDescriptors,
			}
			if cached.Pattern != nil {
				analysis.Pattern = *cached.Pattern
			}
			if cached.Material != nil {
				analysis.Material = *cached.Material
			}
			wardrobe, _ := o.loadWardrobe(db, user)
			return &SuggestResult{
				Record:          &cached,
				Analysis:        analysis,
				Outfit:          outfit,
				Duplicate:       true,
				WardrobeMatches: MatchWardrobe(outfit, wardrobe),
			}, nil
		}
		if r.Error != nil {
			return nil, r.Error
		}
	}

	if o.Config.PerRequestDeadlineMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, msDuration(o.Config.PerRequestDeadlineMs))
		defer cancel()
	}

	wardrobe, err := o.loadWardrobe(db, user)
	if err != nil {
		return nil, err
	}
	spec := buildPromptSpec(req, wardrobe)

	usage := &TokenUsage{}
	analysis, u, err := o.Gateway.AnalyzeGarment(ctx, imageData, req.ImageMime)
	usage.add(u)
	if err != nil {
		return nil, err
	}

	outfit, u, err := o.Gateway.RecommendOutfit(ctx, spec, analysis)
	usage.add(u)
	if err != nil {
		return nil, err
	}

	record := &models.OutfitRequest{
		OwnerID:          user.ID,
		Fingerprint:      fp.Hex(),
		ItemType:         analysis.ItemType,
		Colors:           analysis.Colors,
		Pattern:          StrPointer(analysis.Pattern),
		Material:         StrPointer(analysis.Material),
		StyleDescriptors: analysis.StyleDescriptors,
		Top:              outfit.Top,
		Bottom:           outfit.Bottom,
		Outerwear:        outfit.Outerwear,
		Footwear:         outfit.Footwear,
		Accessory:        outfit.Accessory,
		Reasoning:        outfit.Reasoning,
		Degraded:         outfit.Degraded,
		Occasion:         req.Occasion,
		Season:           req.Season,
		Location:         req.Location,
		WardrobeOnly:     req.WardrobeOnly,
	}
	if usage.Model != "" {
		record.LLMModel = StrPointer(usage.Model)
		record.LLMInputTokenCount = Int32Pointer(usage.Input)
		record.LLMOutputTokenCount = Int32Pointer(usage.Output)
		record.LLMTotalTokenCount = Int32Pointer(usage.Total)
	}

	// keep the original photo for the history screen, non-fatal
	garmentKey := fmt.Sprintf("garments/%d/%d.jpg", user.ID, time.Now().UnixNano())
	if err := o.AWS.UploadBytes(ctx, o.Config.GarmentBucket, garmentKey, imageData); err != nil {
		fmt.Printf("[Outfit] failed to store garment image: %v\n", err)
		sentry.CaptureException(err)
	} else {
		record.GarmentImageKey = &garmentKey
	}

	var outcomes []ProviderOutcome
	if req.WithImage {
		prompt := ComposeGenerationPrompt(spec, outfit, analysis)
		image, provider, chainOutcomes, genErr := o.Chain.Generate(ctx, prompt, req.PreferredProvider)
		outcomes = chainOutcomes
		if genErr != nil {
			// degrade gracefully: the outfit still ships without a picture
			fmt.Printf("[Outfit] visualization unavailable: %v\n", genErr)
			record.GenerationErrorMessage = StrPointer(genErr.Error())
		} else {
			key := fmt.Sprintf("outfits/%d/%d.png", user.ID, time.Now().UnixNano())
			if err := o.AWS.UploadBytes(ctx, o.Config.GeneratedBucket, key, image); err != nil {
				fmt.Printf("[Outfit] failed to store generated image: %v\n", err)
				sentry.CaptureException(err)
				record.GenerationErrorMessage = StrPointer(err.Error())
			} else {
				record.GeneratedImageKey = &key
				record.GenerationProvider = &provider
			}
		}
	}
	record.Duration = Float64Pointer(time.Since(started).Seconds())

	if r := db.Create(record); r.Error != nil {
		return nil, r.Error
	}

	return &SuggestResult{
		Record:          record,
		Analysis:        analysis,
		Outfit:          outfit,
		WardrobeMatches: MatchWardrobe(outfit, wardrobe),
		Outcomes:        outcomes,
	}, nil
}

func (o *StylistOrchestrator) loadWardrobe(db *gorm.DB, user *models.UserAccount) ([]models.WardrobeItem, error) {
	var items []models.WardrobeItem
	r := db.Where("owner_id = ?", user.ID).Order("created_at desc").Find(&items)
	return items, r.Error
}

func buildPromptSpec(req models.OutfitQueryIn, wardrobe []models.WardrobeItem) PromptSpec {
	spec := PromptSpec{
		Occasion:     req.Occasion,
		Season:       req.Season,
		Location:     req.Location,
		Preferences:  req.Preferences,
		Styles:       req.Styles,
		Colors:       req.Colors,
		Avoid:        req.Avoid,
		WardrobeOnly: req.WardrobeOnly,
	}
	for _, item := range wardrobe {
		promptItem := WardrobePromptItem{
			Name:     item.Name,
			Category: item.Category,
			Colors:   item.Colors,
		}
		if item.Description != nil {
			promptItem.Description = *item.Description
		}
		spec.WardrobeItems = append(spec.WardrobeItems, promptItem)
	}
	return spec
}
