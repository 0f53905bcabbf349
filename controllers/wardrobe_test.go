package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylistapi/dbhelper"
	"stylistapi/models"
	"stylistapi/tasks"
	"stylistapi/test"
)

func TestCreateWardrobeItemOk(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	os.Setenv("ASYNC_BROKER_ADDRESS", "localhost:6379")
	asynqClient, err := tasks.NewClient()
	require.NoError(t, err)
	defer asynqClient.Close()
	asynqInspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")})
	defer asynqInspector.Close()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, asynqClient, asynqInspector, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)

	reqBody := models.WardrobeItemIn{
		Name:     "Navy Polo",
		Category: "top",
		FileName: StrPointer("navy-polo.jpg"),
	}
	req := test.NewJSONAuthRequest("POST", "/wardrobe/create", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var response WardrobeCreatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "Navy Polo", response.Item.Name)
	assert.Equal(t, "top", response.Item.Category)
	assert.Equal(t, "analyzing", response.Item.ProcessingStatus)
	expectedKey := fmt.Sprintf("wardrobe/%v/navy-polo.jpg", user.ID)
	assert.Equal(t, fmt.Sprintf("https://fakebucketurl.com/%s", expectedKey), response.FileUploadUrl)

	var item models.WardrobeItem
	require.NoError(t, db.Where("owner_id = ?", user.ID).First(&item).Error)
	assert.Equal(t, "draft", item.ImageStatus)
	require.NotNil(t, item.ImageKey)
	assert.Equal(t, expectedKey, *item.ImageKey)
	require.NotNil(t, item.AnalysisTaskID)

	// the queued task is visible through the broker while it waits
	req = test.NewJSONAuthRequest("GET", fmt.Sprintf("/wardrobe/%v/status", item.ID), strconv.FormatUint(uint64(user.ID), 10), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status WardrobeStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, item.ID, status.ID)
	assert.Equal(t, "analyzing", status.ProcessingStatus)
	require.NotNil(t, status.QueueState)
	assert.Equal(t, "scheduled", *status.QueueState)
}

func TestWardrobeItemStatus(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)
	other := test.FakeUserV2(db, "Other", "other@example.com")

	item := models.WardrobeItem{
		Name:                "Navy Polo",
		Category:            "top",
		OwnerID:             user.ID,
		ProcessingStatus:    "failed",
		ProcessRetryTimes:   3,
		ProcessErrorMessage: StrPointer("model unavailable"),
	}
	require.NoError(t, db.Create(&item).Error)

	// someone else's item stays out of reach
	req := test.NewJSONAuthRequest("GET", fmt.Sprintf("/wardrobe/%v/status", item.ID), strconv.FormatUint(uint64(other.ID), 10), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = test.NewJSONAuthRequest("GET", fmt.Sprintf("/wardrobe/%v/status", item.ID), strconv.FormatUint(uint64(user.ID), 10), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status WardrobeStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "failed", status.ProcessingStatus)
	assert.Equal(t, 3, status.ProcessRetryTimes)
	require.NotNil(t, status.ProcessErrorMessage)
	assert.Equal(t, "model unavailable", *status.ProcessErrorMessage)
	assert.Nil(t, status.QueueState)

	// no broker configured: analyzing items report without a queue state
	analyzing := models.WardrobeItem{
		Name:             "Linen Blazer",
		Category:         "outerwear",
		OwnerID:          user.ID,
		ProcessingStatus: "analyzing",
		AnalysisTaskID:   StrPointer("some-task-id"),
	}
	require.NoError(t, db.Create(&analyzing).Error)

	req = test.NewJSONAuthRequest("GET", fmt.Sprintf("/wardrobe/%v/status", analyzing.ID), strconv.FormatUint(uint64(user.ID), 10), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status = WardrobeStatusResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "analyzing", status.ProcessingStatus)
	assert.Nil(t, status.QueueState)
}

func TestCreateWardrobeItemInvalidInput(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)

	// category missing
	reqBody := models.WardrobeItemIn{
		Name:     "Navy Polo",
		FileName: StrPointer("navy-polo.jpg"),
	}
	req := test.NewJSONAuthRequest("POST", "/wardrobe/create", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Contains(t, response["error"], "Category")
}

func TestCreateWardrobeItemMissingFileName(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)

	reqBody := models.WardrobeItemIn{
		Name:     "Navy Polo",
		Category: "top",
	}
	req := test.NewJSONAuthRequest("POST", "/wardrobe/create", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Contains(t, response["error"], "image was not provided")
}

func TestCreateWardrobeItemFreeLimit(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)

	for i := 0; i < freeTotalWardrobeLimit; i++ {
		require.NoError(t, db.Create(&models.WardrobeItem{
			Name:     fmt.Sprintf("Item %d", i),
			Category: "top",
			OwnerID:  user.ID,
		}).Error)
	}

	reqBody := models.WardrobeItemIn{
		Name:     "One Too Many",
		Category: "top",
		FileName: StrPointer("extra.jpg"),
	}
	req := test.NewJSONAuthRequest("POST", "/wardrobe/create", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Contains(t, response["error"], "free limit")
}

func TestListWardrobeGroupsByCategory(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)

	items := []models.WardrobeItem{
		{Name: "Navy Polo", Category: "top", OwnerID: user.ID, ImageKey: StrPointer("wardrobe/1/polo.jpg"), Colors: pq.StringArray{"navy"}},
		{Name: "White Chinos", Category: "bottom", OwnerID: user.ID},
		{Name: "Linen Blazer", Category: "outerwear", OwnerID: user.ID},
		{Name: "Sneakers", Category: "footwear", OwnerID: user.ID},
		{Name: "Brown Belt", Category: "accessory", OwnerID: user.ID},
	}
	for i := range items {
		require.NoError(t, db.Create(&items[i]).Error)
	}

	req := test.NewJSONAuthRequest("GET", "/wardrobe/list", strconv.FormatUint(uint64(user.ID), 10), nil)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response WardrobeListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Tops, 1)
	assert.Equal(t, "Navy Polo", response.Tops[0].Name)
	require.NotNil(t, response.Tops[0].ImageURL)
	assert.Equal(t, "https://fakecache.com/wardrobe/1/polo.jpg", *response.Tops[0].ImageURL)
	assert.Len(t, response.Bottoms, 1)
	assert.Len(t, response.Outerwear, 1)
	assert.Len(t, response.Footwear, 1)
	assert.Len(t, response.Accessories, 1)
}

func TestDeleteWardrobeItem(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	vision := &test.MockVisionProvider{}
	awsMock := &test.AWSProviderMock{}
	e := SetupServer(db, test.GoogleServiceMock{}, awsMock, nil, nil, nil, &test.URLCacheMock{}, newTestOrchestrator(vision, awsMock))
	user := test.FakeUser(db)
	other := test.FakeUserV2(db, "Other", "other@example.com")

	item := models.WardrobeItem{Name: "Navy Polo", Category: "top", OwnerID: user.ID}
	require.NoError(t, db.Create(&item).Error)

	req := test.NewJSONAuthRequest("DELETE", fmt.Sprintf("/wardrobe/%v", item.ID), strconv.FormatUint(uint64(other.ID), 10), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = test.NewJSONAuthRequest("DELETE", fmt.Sprintf("/wardrobe/%v", item.ID), strconv.FormatUint(uint64(user.ID), 10), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var count int64
	db.Model(&models.WardrobeItem{}).Where("owner_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}
