package controllers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylistapi/dbhelper"
	"stylistapi/models"
	"stylistapi/services"
	"stylistapi/test"
)

func garmentImageBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestOrchestrator(vision services.VisionProvider, aws services.AWSServiceProvider) *services.StylistOrchestrator {
	return services.NewStylistOrchestrator(vision, aws, services.LoadStylistConfig())
}

func TestSuggestOk(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{Responses: []string{test.MockAnalysisResponse, test.MockOutfitResponse}}
	awsMock := &test.AWSProviderMock{MockUrl: "https://fakebucketurl.com/read"}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)

	reqBody := models.OutfitQueryIn{
		Image:    garmentImageBase64(t),
		Occasion: "casual friday",
		Season:   "summer",
	}
	req := test.NewJSONAuthRequest("POST", "/outfits/suggest", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response models.OutfitSuggestOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.False(t, response.Duplicate)
	assert.False(t, response.Degraded)
	assert.Equal(t, "shirt", response.ItemType)
	assert.Equal(t, "Navy striped shirt", response.Slots["top"].Description)
	assert.Equal(t, "White chino trousers", response.Slots["bottom"].Description)
	assert.Equal(t, "Crisp nautical look for warm days.", response.Reasoning)
	// one analysis call plus one recommendation call
	assert.Equal(t, 2, vision.Calls)

	var row models.OutfitRequest
	require.NoError(t, db.Where("owner_id = ?", user.ID).First(&row).Error)
	assert.Len(t, row.Fingerprint, 16)
	assert.Nil(t, row.DuplicateOfID)
	assert.Equal(t, "casual friday", row.Occasion)
	require.NotNil(t, row.GarmentImageKey)
	_, stored := awsMock.Uploads[*row.GarmentImageKey]
	assert.True(t, stored, "uploaded garment photo should be stored for history")
}

func TestSuggestWithImageStoresGeneratedResult(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{Responses: []string{test.MockAnalysisResponse, test.MockOutfitResponse}}
	awsMock := &test.AWSProviderMock{MockUrl: "https://fakebucketurl.com/generated"}
	orchestrator := newTestOrchestrator(vision, awsMock)
	provider := &test.MockImageProvider{ProviderName: "gemini", Image: []byte("rendered-outfit-png")}
	orchestrator.Chain.Providers = []services.ImageProvider{provider}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, orchestrator)
	user := test.FakeUser(db)

	reqBody := models.OutfitQueryIn{
		Image:     garmentImageBase64(t),
		WithImage: true,
	}
	req := test.NewJSONAuthRequest("POST", "/outfits/suggest", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response models.OutfitSuggestOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.NotNil(t, response.ImageURL)
	assert.Equal(t, awsMock.MockUrl, *response.ImageURL)
	require.Len(t, response.Providers, 1)
	assert.Equal(t, "gemini", response.Providers[0].Provider)
	assert.Equal(t, string(services.ProviderSucceeded), response.Providers[0].State)
	assert.Equal(t, 1, provider.Calls)

	var row models.OutfitRequest
	require.NoError(t, db.Where("owner_id = ?", user.ID).First(&row).Error)
	require.NotNil(t, row.GeneratedImageKey)
	assert.Equal(t, []byte("rendered-outfit-png"), awsMock.Uploads[*row.GeneratedImageKey])
	require.NotNil(t, row.GenerationProvider)
	assert.Equal(t, "gemini", *row.GenerationProvider)
	assert.Nil(t, row.GenerationErrorMessage)
}

func TestSuggestWithImageDegradesWhenAllProvidersFail(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{Responses: []string{test.MockAnalysisResponse, test.MockOutfitResponse}}
	awsMock := &test.AWSProviderMock{}
	orchestrator := newTestOrchestrator(vision, awsMock)
	first := &test.MockImageProvider{ProviderName: "gemini", Err: errors.New("quota exhausted")}
	second := &test.MockImageProvider{ProviderName: "seedream", Err: errors.New("upstream 500")}
	orchestrator.Chain.Providers = []services.ImageProvider{first, second}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, orchestrator)
	user := test.FakeUser(db)

	reqBody := models.OutfitQueryIn{
		Image:     garmentImageBase64(t),
		WithImage: true,
	}
	req := test.NewJSONAuthRequest("POST", "/outfits/suggest", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	// the outfit still ships, just without a picture
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response models.OutfitSuggestOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Nil(t, response.ImageURL)
	assert.Equal(t, "Navy striped shirt", response.Slots["top"].Description)
	require.Len(t, response.Providers, 2)
	assert.Equal(t, string(services.ProviderFailed), response.Providers[0].State)
	assert.Equal(t, string(services.ProviderFailed), response.Providers[1].State)
	require.NotNil(t, response.Providers[0].Error)
	assert.Contains(t, *response.Providers[0].Error, "quota exhausted")
	assert.Equal(t, 1, first.Calls)
	assert.Equal(t, 1, second.Calls)

	var row models.OutfitRequest
	require.NoError(t, db.Where("owner_id = ?", user.ID).First(&row).Error)
	assert.Nil(t, row.GeneratedImageKey)
	assert.Nil(t, row.GenerationProvider)
	require.NotNil(t, row.GenerationErrorMessage)
	assert.Contains(t, *row.GenerationErrorMessage, "gemini")
	assert.Contains(t, *row.GenerationErrorMessage, "seedream")
}

func TestSuggestWithImageTimedOutProviderFallsThrough(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{Responses: []string{test.MockAnalysisResponse, test.MockOutfitResponse}}
	awsMock := &test.AWSProviderMock{MockUrl: "https://fakebucketurl.com/generated"}
	orchestrator := newTestOrchestrator(vision, awsMock)
	slow := &test.SlowImageProvider{ProviderName: "gemini"}
	fallback := &test.MockImageProvider{ProviderName: "seedream", Image: []byte("rendered-outfit-png")}
	orchestrator.Chain.Providers = []services.ImageProvider{slow, fallback}
	orchestrator.Chain.PerProviderTimeout = 20 * time.Millisecond
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, orchestrator)
	user := test.FakeUser(db)

	reqBody := models.OutfitQueryIn{
		Image:     garmentImageBase64(t),
		WithImage: true,
	}
	req := test.NewJSONAuthRequest("POST", "/outfits/suggest", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response models.OutfitSuggestOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.NotNil(t, response.ImageURL)
	require.Len(t, response.Providers, 2)
	assert.Equal(t, string(services.ProviderTimedOut), response.Providers[0].State)
	require.NotNil(t, response.Providers[0].Error)
	assert.Contains(t, *response.Providers[0].Error, "timed out")
	assert.Equal(t, string(services.ProviderSucceeded), response.Providers[1].State)

	var row models.OutfitRequest
	require.NoError(t, db.Where("owner_id = ?", user.ID).First(&row).Error)
	require.NotNil(t, row.GenerationProvider)
	assert.Equal(t, "seedream", *row.GenerationProvider)
}

func TestSuggestServesDuplicateFromHistory(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{MockUrl: "https://fakebucketurl.com/read"}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)

	imageB64 := garmentImageBase64(t)
	imageData, err := base64.StdEncoding.DecodeString(imageB64)
	require.NoError(t, err)
	fp, err := services.ComputeFingerprint(imageData)
	require.NoError(t, err)

	cached := models.OutfitRequest{
		OwnerID:            user.ID,
		Fingerprint:        fp.Hex(),
		ItemType:           "shirt",
		Colors:             pq.StringArray{"navy blue"},
		Top:                "Navy striped shirt",
		Bottom:             "White chino trousers",
		Outerwear:          "Light beige linen blazer",
		Footwear:           "White leather sneakers",
		Accessory:          "Brown woven belt",
		Reasoning:          "Crisp nautical look for warm days.",
		GeneratedImageKey:  StrPointer(fmt.Sprintf("outfits/%v/123.png", user.ID)),
		GenerationProvider: StrPointer("gemini"),
	}
	require.NoError(t, db.Create(&cached).Error)

	req := test.NewJSONAuthRequest("POST", "/outfits/suggest", strconv.FormatUint(uint64(user.ID), 10), models.OutfitQueryIn{Image: imageB64})
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response models.OutfitSuggestOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Duplicate)
	assert.Equal(t, cached.ID, response.Id)
	assert.Equal(t, "Navy striped shirt", response.Slots["top"].Description)
	assert.NotNil(t, response.ImageURL)
	// the whole point: zero model calls on a re-upload
	assert.Equal(t, 0, vision.Calls)

	var count int64
	db.Model(&models.OutfitRequest{}).Where("owner_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(2), count)

	var dup models.OutfitRequest
	require.NoError(t, db.Where("owner_id = ? AND duplicate_of_id IS NOT NULL", user.ID).First(&dup).Error)
	assert.Equal(t, cached.ID, *dup.DuplicateOfID)
	assert.Equal(t, fp.Hex(), dup.Fingerprint)
}

func TestSuggestDailyLimitReached(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{Responses: []string{test.MockAnalysisResponse, test.MockOutfitResponse}}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.OutfitRequest{
			OwnerID:     user.ID,
			Fingerprint: fmt.Sprintf("%016x", i+1),
			ItemType:    "shirt",
			Top:         "x", Bottom: "x", Outerwear: "x", Footwear: "x", Accessory: "x",
			Reasoning: "x",
		}).Error)
	}

	req := test.NewJSONAuthRequest("POST", "/outfits/suggest", strconv.FormatUint(uint64(user.ID), 10), models.OutfitQueryIn{Image: garmentImageBase64(t)})
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Contains(t, response["error"], "daily suggestions")
	assert.Equal(t, 0, vision.Calls)
}

func TestSuggestEnforcedLimitOverride(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{Responses: []string{test.MockAnalysisResponse, test.MockOutfitResponse}}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)
	require.NoError(t, db.Model(user).Update("enforced_daily_suggest_limit", 0).Error)

	req := test.NewJSONAuthRequest("POST", "/outfits/suggest", strconv.FormatUint(uint64(user.ID), 10), models.OutfitQueryIn{Image: garmentImageBase64(t)})
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, vision.Calls)
}

func TestSuggestRejectsUnreadableImage(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{Responses: []string{test.MockAnalysisResponse, test.MockOutfitResponse}}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)

	notAnImage := base64.StdEncoding.EncodeToString([]byte("definitely not an image"))
	req := test.NewJSONAuthRequest("POST", "/outfits/suggest", strconv.FormatUint(uint64(user.ID), 10), models.OutfitQueryIn{Image: notAnImage})
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Contains(t, response["error"], "could not read that photo")
	assert.Equal(t, 0, vision.Calls)
}

func TestCheckDuplicate(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)
	userPk := strconv.FormatUint(uint64(user.ID), 10)

	imageB64 := garmentImageBase64(t)

	req := test.NewJSONAuthRequest("POST", "/outfits/check-duplicate", userPk, models.DuplicateCheckIn{Image: imageB64})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response models.DuplicateCheckOut
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.False(t, response.Duplicate)
	assert.Nil(t, response.Distance)

	imageData, err := base64.StdEncoding.DecodeString(imageB64)
	require.NoError(t, err)
	fp, err := services.ComputeFingerprint(imageData)
	require.NoError(t, err)
	cached := models.OutfitRequest{
		OwnerID:     user.ID,
		Fingerprint: fp.Hex(),
		ItemType:    "shirt",
		Top:         "x", Bottom: "x", Outerwear: "x", Footwear: "x", Accessory: "x",
		Reasoning: "x",
	}
	require.NoError(t, db.Create(&cached).Error)

	req = test.NewJSONAuthRequest("POST", "/outfits/check-duplicate", userPk, models.DuplicateCheckIn{Image: imageB64})
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	response = models.DuplicateCheckOut{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Duplicate)
	require.NotNil(t, response.Distance)
	assert.Equal(t, 0, *response.Distance)
	require.NotNil(t, response.MatchedID)
	assert.Equal(t, cached.ID, *response.MatchedID)
}

func TestHistory(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{MockUrl: "https://fakebucketurl.com/signed"}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)
	other := test.FakeUserV2(db, "Other", "other@example.com")

	withImages := models.OutfitRequest{
		OwnerID:           user.ID,
		Fingerprint:       "00000000000000aa",
		ItemType:          "shirt",
		Top:               "x", Bottom: "x", Outerwear: "x", Footwear: "x", Accessory: "x",
		Reasoning:         "x",
		GeneratedImageKey: StrPointer(fmt.Sprintf("outfits/%v/1.png", user.ID)),
		GarmentImageKey:   StrPointer(fmt.Sprintf("garments/%v/1.jpg", user.ID)),
	}
	require.NoError(t, db.Create(&withImages).Error)
	bare := models.OutfitRequest{
		OwnerID:     user.ID,
		Fingerprint: "00000000000000bb",
		ItemType:    "dress",
		Top:         "x", Bottom: "x", Outerwear: "x", Footwear: "x", Accessory: "x",
		Reasoning: "x",
	}
	require.NoError(t, db.Create(&bare).Error)
	require.NoError(t, db.Create(&models.OutfitRequest{
		OwnerID:     other.ID,
		Fingerprint: "00000000000000cc",
		ItemType:    "coat",
		Top:         "x", Bottom: "x", Outerwear: "x", Footwear: "x", Accessory: "x",
		Reasoning: "x",
	}).Error)

	req := test.NewJSONAuthRequest("GET", "/outfits/history", strconv.FormatUint(uint64(user.ID), 10), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response struct {
		History []models.OutfitHistoryOut `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.History, 2)

	for _, entry := range response.History {
		switch entry.ID {
		case withImages.ID:
			require.NotNil(t, entry.ImageURL)
			assert.Equal(t, awsMock.MockUrl, *entry.ImageURL)
			require.NotNil(t, entry.GarmentImageURL)
			assert.Equal(t, fmt.Sprintf("https://fakecache.com/garments/%v/1.jpg", user.ID), *entry.GarmentImageURL)
		case bare.ID:
			assert.Nil(t, entry.ImageURL)
			assert.Nil(t, entry.GarmentImageURL)
		default:
			t.Fatalf("unexpected history entry %v", entry.ID)
		}
	}
}

func TestDeleteHistoryEntry(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)
	other := test.FakeUserV2(db, "Other", "other@example.com")

	row := models.OutfitRequest{
		OwnerID:     user.ID,
		Fingerprint: "00000000000000aa",
		ItemType:    "shirt",
		Top:         "x", Bottom: "x", Outerwear: "x", Footwear: "x", Accessory: "x",
		Reasoning: "x",
	}
	require.NoError(t, db.Create(&row).Error)

	// someone else's entry stays out of reach
	req := test.NewJSONAuthRequest("DELETE", fmt.Sprintf("/outfits/history/%v", row.ID), strconv.FormatUint(uint64(other.ID), 10), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = test.NewJSONAuthRequest("DELETE", fmt.Sprintf("/outfits/history/%v", row.ID), strconv.FormatUint(uint64(user.ID), 10), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = test.NewJSONAuthRequest("DELETE", fmt.Sprintf("/outfits/history/%v", row.ID), strconv.FormatUint(uint64(user.ID), 10), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
