package controllers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"stylistapi/models"
	"stylistapi/services"
	"stylistapi/tasks"
)

const freeTotalWardrobeLimit = 10

type WardrobeCreatedResponse struct {
	Item          models.WardrobeItemOut `json:"item"`
	FileUploadUrl string                 `json:"file_upload_url"`
}

type WardrobeStatusResponse struct {
	ID                  uint    `json:"id"`
	ProcessingStatus    string  `json:"processing_status"`
	ProcessRetryTimes   int     `json:"process_retry_times"`
	ProcessErrorMessage *string `json:"process_error_message"`
	QueueState          *string `json:"queue_state"`
}

type WardrobeListResponse struct {
	Tops        []models.WardrobeItemOut `json:"tops"`
	Bottoms     []models.WardrobeItemOut `json:"bottoms"`
	Outerwear   []models.WardrobeItemOut `json:"outerwear"`
	Footwear    []models.WardrobeItemOut `json:"footwear"`
	Accessories []models.WardrobeItemOut `json:"accessories"`
}

type WardrobeController struct {
	AWSService  services.AWSServiceProvider
	FirebaseApp *firebase.App
	URLCache    services.URLCacheServiceProvider
}

func (controller *WardrobeController) WardrobeRoutes(g *echo.Group) {
	g.POST("/create", controller.CreateWardrobeItem)
	g.GET("/list", controller.ListWardrobe)
	g.GET("/:id/status", controller.WardrobeItemStatus)
	g.DELETE("/:id", controller.DeleteWardrobeItem)
}

func (controller *WardrobeController) CreateWardrobeItem(c echo.Context) error {
	var req models.WardrobeItemIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}
	asynqClient, ok := c.Get("__asynqclient").(*asynq.Client)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Service is not available, please try again a bit later"})
	}

	if req.FileName == nil || *req.FileName == "" {
		sentry.CaptureException(fmt.Errorf("Image was not provided when creating wardrobe item %s, user %v", req.Name, user.ID))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Sorry, it seems image was not provided, please try again"})
	}

	if user.Subscription == nil || *user.Subscription == "free" {
		var totalItemCount int64
		if err := db.Model(&models.WardrobeItem{}).Where("owner_id = ?", user.ID).Count(&totalItemCount).Error; err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get wardrobe data"})
		}
		fmt.Printf("[User %v] Free plan, wardrobe count: %v\n", user.ID, totalItemCount)
		if totalItemCount >= freeTotalWardrobeLimit {
			return c.JSON(http.StatusForbidden, map[string]string{"error": fmt.Sprintf("You have reached the free limit of %v wardrobe items, please subscribe", freeTotalWardrobeLimit)})
		}
	}

	if user.EnforcedDailyWardrobeLimit != nil {
		var dailyItemCount int64
		today := time.Now().UTC().Format("2006-01-02")
		if err := db.Model(&models.WardrobeItem{}).Where("owner_id = ? AND DATE(created_at) = ?", user.ID, today).Count(&dailyItemCount).Error; err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get wardrobe data"})
		}
		fmt.Printf("[User %v] Enforced daily limit, wardrobe count: %v\n", user.ID, dailyItemCount)
		if dailyItemCount >= int64(*user.EnforcedDailyWardrobeLimit) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": fmt.Sprintf("You have reached the limit of %v daily wardrobe items. Please wait for the next day.", *user.EnforcedDailyWardrobeLimit)})
		}
	}

	item := models.WardrobeItem{
		Name:             req.Name,
		Category:         req.Category,
		OwnerID:          user.ID,
		ImageStatus:      "draft",
		ProcessingStatus: "idle",
	}
	var bucketName = services.GetEnv("R2_GARMENT_BUCKET", "stylist-garments")
	safeFileName := fmt.Sprintf("wardrobe/%v/%s", user.ID, *req.FileName)

	uploadUrl, presignErr := controller.AWSService.PresignLink(context.Background(), bucketName, safeFileName)
	if presignErr != nil {
		log.Printf("Unable to presign upload for %s!, %s", item.Name, presignErr)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"message": "Error while creating wardrobe item with attachment",
		})
	}
	item.ImageKey = &safeFileName

	if err := db.Create(&item).Error; err != nil {
		sentry.CaptureException(err)
		return err
	}

	task, err := tasks.NewWardrobeAnalyzeTask(item.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not process wardrobe item, please try again"})
	}
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Queue("generate"), asynq.ProcessIn(30*time.Second))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not process wardrobe item, please try again"})
	}
	item.ProcessingStatus = "analyzing"
	item.AnalysisTaskID = &info.ID
	if err := db.Save(&item).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to update wardrobe item status, please try again"})
	}
	fmt.Println("[Queue] Wardrobe analysis task submitted, Item ID: ", item.ID, " Task ID: ", info.ID)

	return c.JSON(http.StatusCreated, WardrobeCreatedResponse{
		Item:          models.WardrobeItemOut{WardrobeItem: item},
		FileUploadUrl: uploadUrl,
	})
}

// WardrobeItemStatus reports how far the analysis of one item got. While
// the item is still analyzing, the broker-side state of the queued task
// (scheduled, pending, active, retry) is included when available.
func (controller *WardrobeController) WardrobeItemStatus(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	var item models.WardrobeItem
	result := db.Where("id = ? AND owner_id = ?", c.Param("id"), user.ID).Limit(1).Find(&item)
	if result.Error != nil {
		log.Println(result.Error)
		return echo.ErrInternalServerError
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Wardrobe item not found"})
	}

	response := WardrobeStatusResponse{
		ID:                  item.ID,
		ProcessingStatus:    item.ProcessingStatus,
		ProcessRetryTimes:   item.ProcessRetryTimes,
		ProcessErrorMessage: item.ProcessErrorMessage,
	}
	inspector, ok := c.Get("__asynqinspector").(*asynq.Inspector)
	if ok && inspector != nil && item.ProcessingStatus == "analyzing" && item.AnalysisTaskID != nil {
		info, err := inspector.GetTaskInfo("generate", *item.AnalysisTaskID)
		if err != nil {
			fmt.Println("[Queue] No broker task info for wardrobe item ", item.ID, ": ", err)
		} else {
			state := info.State.String()
			response.QueueState = &state
		}
	}
	return c.JSON(http.StatusOK, response)
}

// populatePresignedWardrobeImages enriches raw wardrobe rows with presigned
// read URLs concurrently, with a direct R2 failsafe for when the cache
// system itself fails.
func (controller *WardrobeController) populatePresignedWardrobeImages(ctx context.Context, items []models.WardrobeItem) []models.WardrobeItemOut {
	if len(items) == 0 {
		return []models.WardrobeItemOut{}
	}

	var wg sync.WaitGroup
	processed := make([]models.WardrobeItemOut, len(items))
	bucketName := services.GetEnv("R2_GARMENT_BUCKET", "stylist-garments")

	for i, wardrobeItem := range items {
		wg.Add(1)
		go func(index int, item models.WardrobeItem) {
			defer wg.Done()

			var imageUrl string
			if item.ImageKey != nil && *item.ImageKey != "" {
				objectKey := *item.ImageKey

				url, err := controller.URLCache.GetReadURL(ctx, objectKey)

				if err == nil {
					imageUrl = url
				} else {
					log.Printf("CACHE WARNING: Cache system failed for key '%s': %v. Triggering manual R2 fallback.", objectKey, err)

					sentry.WithScope(func(scope *sentry.Scope) {
						scope.SetTag("failure_type", "cache_system")
						scope.SetExtra("objectKey", objectKey)
						sentry.CaptureException(err)
					})

					fallbackUrl, fallbackErr := controller.AWSService.GetPresignedR2FileReadURL(ctx, bucketName, objectKey)
					if fallbackErr != nil {
						log.Printf("CRITICAL: Manual R2 fallback also failed for key '%s': %v", objectKey, fallbackErr)
						sentry.CaptureException(fallbackErr)
					} else {
						imageUrl = fallbackUrl
					}
				}
			}
			processed[index] = models.WardrobeItemOut{
				WardrobeItem: item,
				ImageURL:     &imageUrl,
			}
		}(i, wardrobeItem)
	}

	wg.Wait()
	return processed
}

func (controller *WardrobeController) ListWardrobe(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	var items []models.WardrobeItem
	if err := db.Where("owner_id = ?", user.ID).Order("created_at desc").Find(&items).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch wardrobe"})
	}

	processed := controller.populatePresignedWardrobeImages(c.Request().Context(), items)

	response := WardrobeListResponse{
		Tops:        []models.WardrobeItemOut{},
		Bottoms:     []models.WardrobeItemOut{},
		Outerwear:   []models.WardrobeItemOut{},
		Footwear:    []models.WardrobeItemOut{},
		Accessories: []models.WardrobeItemOut{},
	}

	for _, item := range processed {
		switch item.Category {
		case "top":
			response.Tops = append(response.Tops, item)
		case "bottom":
			response.Bottoms = append(response.Bottoms, item)
		case "outerwear":
			response.Outerwear = append(response.Outerwear, item)
		case "footwear":
			response.Footwear = append(response.Footwear, item)
		case "accessory":
			response.Accessories = append(response.Accessories, item)
		}
	}

	return c.JSON(http.StatusOK, response)
}

func (controller *WardrobeController) DeleteWardrobeItem(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	result := db.Where("id = ? AND owner_id = ?", c.Param("id"), user.ID).Delete(&models.WardrobeItem{})
	if result.Error != nil {
		log.Println(result.Error)
		return echo.ErrInternalServerError
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Wardrobe item not found"})
	}
	fmt.Println("Wardrobe item deleted for user ", user.ID, " ID: ", c.Param("id"))
	return c.JSON(http.StatusOK, echo.Map{
		"message": "deleted",
	})
}
