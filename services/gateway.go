package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	"google.golang.org/genai"
)

type LLMModelName int

const (
	Pro25 LLMModelName = iota
	Flash25
	FlashLite25
	Flash20
	Flash25Image
)

func (t LLMModelName) String() string {
	switch t {
	case Pro25:
		return "gemini-2.5-pro"
	case Flash25:
		return "gemini-2.5-flash"
	case FlashLite25:
		return "gemini-2.5-flash-lite-preview-06-17"
	case Flash25Image:
		return "gemini-2.5-flash-image-preview"
	case Flash20:
		return "gemini-2.0-flash"
	default:
		return "gemini-2.0-flash"
	}
}

func floatPointer(f float32) *float32 {
	return &f
}

// GarmentAnalysis is the structured description of an uploaded garment.
type GarmentAnalysis struct {
	ItemType         string   `json:"item_type"`
	Colors           []string `json:"colors"`
	Pattern          string   `json:"pattern"`
	Material         string   `json:"material"`
	StyleDescriptors []string `json:"style_descriptors"`
	Fit              string   `json:"fit"`
}

// OutfitSuggestion is the five-slot recommendation. Degraded marks the
// stock fallback set used after repeated malformed model responses.
type OutfitSuggestion struct {
	Top       string `json:"top"`
	Bottom    string `json:"bottom"`
	Outerwear string `json:"outerwear"`
	Footwear  string `json:"footwear"`
	Accessory string `json:"accessory"`
	Reasoning string `json:"reasoning"`
	Degraded  bool   `json:"-"`
}

type TokenUsage struct {
	Model  string
	Input  int32
	Output int32
	Total  int32
}

func (u *TokenUsage) add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.Model = other.Model
	u.Input += other.Input
	u.Output += other.Output
	u.Total += other.Total
}

// MalformedResponseError reports a model response that was not the
// strict JSON the prompt demanded, or was missing required fields.
type MalformedResponseError struct {
	Detail string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %s", e.Detail)
}

// VisionProvider is the thin LLM boundary the gateway talks through.
// Image is optional, nil means text-only.
type VisionProvider interface {
	GenerateJSON(ctx context.Context, prompt string, image []byte, mime string) (string, *TokenUsage, error)
}

type GeminiVisionProvider struct {
	Model LLMModelName
}

func (g GeminiVisionProvider) GenerateJSON(ctx context.Context, prompt string, image []byte, mime string) (string, *TokenUsage, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  os.Getenv("GOOGLE_API_KEY"),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", nil, err
	}

	var parts []*genai.Part
	if len(image) > 0 {
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: mime,
				Data:     image,
			},
		})
	}
	parts = append(parts, &genai.Part{Text: prompt})

	result, err := client.Models.GenerateContent(ctx, g.Model.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		MaxOutputTokens: 8192,
		Temperature:     floatPointer(0.2),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: "You are a professional fashion stylist. Always answer with the exact JSON structure the prompt asks for."},
			},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return "", nil, err
	}

	if result.PromptFeedback != nil {
		fmt.Println(result.PromptFeedback.BlockReason)
		fmt.Println(result.PromptFeedback.BlockReasonMessage)
		return "", nil, fmt.Errorf("content violation: %s", result.PromptFeedback.BlockReasonMessage)
	}

	usage := &TokenUsage{Model: g.Model.String()}
	if result.UsageMetadata != nil {
		usage.Input = result.UsageMetadata.PromptTokenCount
		usage.Output = result.UsageMetadata.CandidatesTokenCount
		usage.Total = result.UsageMetadata.TotalTokenCount
		fmt.Println("Input token count:", usage.Input)
		fmt.Println("Output token count:", usage.Output)
		fmt.Println("Total token count:", usage.Total)
	}

	for _, c := range result.Candidates {
		for _, rating := range c.SafetyRatings {
			if rating.Blocked {
				return "", usage, fmt.Errorf("content violation: response blocked for %s", rating.Category)
			}
		}
	}
	return result.Text(), usage, nil
}

// RecommendationGateway validates and retries around the vision model.
type RecommendationGateway struct {
	Vision VisionProvider
}

// AnalyzeGarment describes the uploaded garment. A malformed response is
// retried exactly once with a stricter format reminder; the second
// failure surfaces as MalformedResponseError.
func (g *RecommendationGateway) AnalyzeGarment(ctx context.Context, image []byte, mime string) (*GarmentAnalysis, *TokenUsage, error) {
	usage := &TokenUsage{}
	prompt := ComposeAnalysisPrompt()

	raw, u, err := g.Vision.GenerateJSON(ctx, prompt, image, mime)
	usage.add(u)
	if err != nil {
		return nil, usage, err
	}
	analysis, perr := parseGarmentAnalysis(raw)
	if perr == nil {
		return analysis, usage, nil
	}

	fmt.Println("[Note: malformed analysis response, retrying once]", perr)
	raw, u, err = g.Vision.GenerateJSON(ctx, StricterFormatPrompt(prompt), image, mime)
	usage.add(u)
	if err != nil {
		return nil, usage, err
	}
	analysis, perr = parseGarmentAnalysis(raw)
	if perr != nil {
		sentry.CaptureException(perr)
		return nil, usage, perr
	}
	return analysis, usage, nil
}

// RecommendOutfit asks for the five-slot outfit. One retry on malformed
// output; if the retry is also malformed the stock default outfit is
// returned flagged Degraded, the request itself does not fail.
func (g *RecommendationGateway) RecommendOutfit(ctx context.Context, spec PromptSpec, analysis *GarmentAnalysis) (*OutfitSuggestion, *TokenUsage, error) {
	usage := &TokenUsage{}
	prompt := ComposeRecommendationPrompt(spec, analysis)

	raw, u, err := g.Vision.GenerateJSON(ctx, prompt, nil, "")
	usage.add(u)
	if err != nil {
		return nil, usage, err
	}
	outfit, perr := parseOutfitSuggestion(raw)
	if perr == nil {
		return outfit, usage, nil
	}

	fmt.Println("[Note: malformed outfit response, retrying once]", perr)
	raw, u, err = g.Vision.GenerateJSON(ctx, StricterFormatPrompt(prompt), nil, "")
	usage.add(u)
	if err != nil {
		return nil, usage, err
	}
	outfit, perr = parseOutfitSuggestion(raw)
	if perr != nil {
		sentry.CaptureException(perr)
		fmt.Println("[Note: outfit response malformed twice, serving stock suggestion]", perr)
		return defaultOutfitSuggestion(), usage, nil
	}
	return outfit, usage, nil
}

func cleanAIResponseText(text string) string {
	cleanContent := strings.ReplaceAll(text, "```json", "")
	cleanContent = strings.ReplaceAll(cleanContent, "```", "")
	return strings.TrimSpace(cleanContent)
}

// extractJSONObject cuts the outermost object out of a response that may
// carry stray prose around the JSON.
func extractJSONObject(raw string) (string, error) {
	cleaned := cleanAIResponseText(raw)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object found")
	}
	return cleaned[start : end+1], nil
}

func parseGarmentAnalysis(raw string) (*GarmentAnalysis, error) {
	jsonStr, err := extractJSONObject(raw)
	if err != nil {
		return nil, &MalformedResponseError{Detail: err.Error(), Raw: raw}
	}
	var analysis GarmentAnalysis
	if err := json.Unmarshal([]byte(jsonStr), &analysis); err != nil {
		return nil, &MalformedResponseError{Detail: err.Error(), Raw: raw}
	}
	if strings.TrimSpace(analysis.ItemType) == "" {
		return nil, &MalformedResponseError{Detail: "missing item_type", Raw: raw}
	}
	if len(analysis.Colors) == 0 {
		return nil, &MalformedResponseError{Detail: "missing colors", Raw: raw}
	}
	return &analysis, nil
}

// legacy slot names older model snapshots answer with
var legacySlotAliases = map[string]string{
	"shirt":   "top",
	"trouser": "bottom",
	"blazer":  "outerwear",
	"shoes":   "footwear",
	"belt":    "accessory",
}

func parseOutfitSuggestion(raw string) (*OutfitSuggestion, error) {
	jsonStr, err := extractJSONObject(raw)
	if err != nil {
		return nil, &MalformedResponseError{Detail: err.Error(), Raw: raw}
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return nil, &MalformedResponseError{Detail: err.Error(), Raw: raw}
	}
	normalized := make(map[string]string, len(fields))
	for k, v := range fields {
		key := strings.ToLower(strings.TrimSpace(k))
		if canonical, ok := legacySlotAliases[key]; ok {
			key = canonical
		}
		normalized[key] = strings.TrimSpace(v)
	}
	for _, slot := range OutfitSlots {
		if normalized[slot] == "" {
			return nil, &MalformedResponseError{Detail: fmt.Sprintf("missing or empty slot %q", slot), Raw: raw}
		}
	}
	if normalized["reasoning"] == "" {
		return nil, &MalformedResponseError{Detail: "missing reasoning", Raw: raw}
	}
	return &OutfitSuggestion{
		Top:       normalized["top"],
		Bottom:    normalized["bottom"],
		Outerwear: normalized["outerwear"],
		Footwear:  normalized["footwear"],
		Accessory: normalized["accessory"],
		Reasoning: normalized["reasoning"],
	}, nil
}

func defaultOutfitSuggestion() *OutfitSuggestion {
	return &OutfitSuggestion{
		Top:       "Classic white dress shirt",
		Bottom:    "Dark navy dress trousers",
		Outerwear: "Charcoal gray blazer",
		Footwear:  "Black leather dress shoes",
		Accessory: "Black leather belt",
		Reasoning: "A classic professional look that works for most business occasions.",
		Degraded:  true,
	}
}
