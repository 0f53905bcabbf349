package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"google.golang.org/genai"
)

// GetAllInlineImages collects every inline image part of a genai
// response, refusing safety-blocked candidates.
func GetAllInlineImages(result *genai.GenerateContentResponse) ([][]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("empty response")
	}

	var allImageData [][]byte
	for _, cand := range result.Candidates {
		for _, rating := range cand.SafetyRatings {
			if rating.Blocked {
				return nil, fmt.Errorf("content blocked by safety setting: %s", rating.Category)
			}
		}
		if cand.Content == nil || len(cand.Content.Parts) == 0 {
			continue
		}
		for _, part := range cand.Content.Parts {
			inlineData := part.InlineData
			if inlineData != nil && strings.HasPrefix(inlineData.MIMEType, "image/") && len(inlineData.Data) > 0 {
				allImageData = append(allImageData, inlineData.Data)
			}
		}
	}
	if len(allImageData) == 0 {
		return nil, nil
	}
	return allImageData, nil
}

// GeminiImageProvider renders through the Gemini image model.
type GeminiImageProvider struct {
	Model LLMModelName
}

func (GeminiImageProvider) Name() string { return "gemini" }

func (g GeminiImageProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  os.Getenv("GOOGLE_API_KEY"),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	result, err := client.Models.GenerateContent(ctx, g.Model.String(), []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
	}}, &genai.GenerateContentConfig{
		MaxOutputTokens: 50000,
		Temperature:     floatPointer(1),
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return nil, err
	}
	if result.PromptFeedback != nil {
		return nil, fmt.Errorf("content violation: %s", result.PromptFeedback.BlockReasonMessage)
	}

	images, err := GetAllInlineImages(result)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no image returned by %s", g.Model.String())
	}
	return images[0], nil
}

// SeedreamProvider talks to the Seedream generation REST API.
type SeedreamProvider struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func (SeedreamProvider) Name() string { return "seedream" }

type seedreamRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type seedreamResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s SeedreamProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = GetEnv("SEEDREAM_API_URL", "https://ark.ap-southeast.bytepluses.com/api/v3/images/generations")
	}
	payload, err := json.Marshal(seedreamRequest{
		Model:          GetEnv("SEEDREAM_MODEL", "seedream-4-0-250828"),
		Prompt:         prompt,
		Size:           "1024x1792", // tall portrait for head-to-toe shots
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("seedream API status %d: %s", resp.StatusCode, truncateForLog(string(body)))
	}

	var parsed seedreamResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("seedream API response: %v", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("seedream API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("seedream API returned no image")
	}
	if parsed.Data[0].B64JSON != "" {
		return base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	}
	if parsed.Data[0].URL != "" {
		return ReadFileFromUrl(parsed.Data[0].URL)
	}
	return nil, fmt.Errorf("seedream API returned neither base64 nor url")
}

// SDXLProvider runs Stable Diffusion XL through the Replicate API.
type SDXLProvider struct {
	APIToken string
	Client   *http.Client
}

func (SDXLProvider) Name() string { return "sdxl" }

type replicatePrediction struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  *string         `json:"error"`
}

func (s SDXLProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"version": GetEnv("SDXL_MODEL_VERSION", "39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"),
		"input": map[string]interface{}{
			"prompt":        prompt,
			"num_outputs":   1,
			"aspect_ratio":  "9:16",
			"output_format": "png",
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := GetEnv("REPLICATE_API_URL", "https://api.replicate.com/v1/predictions")
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIToken)
	req.Header.Set("Content-Type", "application/json")
	// block until the prediction resolves instead of polling
	req.Header.Set("Prefer", "wait")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("replicate API status %d: %s", resp.StatusCode, truncateForLog(string(body)))
	}

	var prediction replicatePrediction
	if err := json.Unmarshal(body, &prediction); err != nil {
		return nil, fmt.Errorf("replicate API response: %v", err)
	}
	if prediction.Error != nil && *prediction.Error != "" {
		return nil, fmt.Errorf("replicate API error: %s", *prediction.Error)
	}

	// output is either a single url string or a list of urls
	imageURL := ""
	var single string
	if err := json.Unmarshal(prediction.Output, &single); err == nil {
		imageURL = single
	} else {
		var many []string
		if err := json.Unmarshal(prediction.Output, &many); err == nil && len(many) > 0 {
			imageURL = many[0]
		}
	}
	if imageURL == "" {
		return nil, fmt.Errorf("replicate API returned no image url")
	}
	return ReadFileFromUrl(imageURL)
}

func truncateForLog(s string) string {
	if len(s) > 300 {
		return s[:300]
	}
	return s
}

// BuildGenerationChain assembles the provider chain from the configured
// order. Unknown names are skipped with a note.
func BuildGenerationChain(order []string, perProviderTimeout int) *GenerationChain {
	var providers []ImageProvider
	for _, name := range order {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "gemini":
			providers = append(providers, GeminiImageProvider{Model: Flash25Image})
		case "seedream":
			providers = append(providers, SeedreamProvider{APIKey: os.Getenv("SEEDREAM_API_KEY")})
		case "sdxl":
			providers = append(providers, SDXLProvider{APIToken: os.Getenv("REPLICATE_API_TOKEN")})
		case "":
		default:
			fmt.Printf("[Generation] unknown provider in order: %q\n", name)
		}
	}
	return &GenerationChain{
		Providers:          providers,
		PerProviderTimeout: msDuration(perProviderTimeout),
	}
}
