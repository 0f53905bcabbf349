package controllers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"stylistapi/models"
	"stylistapi/services"
)

const freeDailySuggestLimit = 3

type OutfitsController struct {
	Orchestrator *services.StylistOrchestrator
	AWSService   services.AWSServiceProvider
	FirebaseApp  *firebase.App
	URLCache     services.URLCacheServiceProvider
}

func (controller *OutfitsController) OutfitRoutes(g *echo.Group) {
	g.POST("/suggest", controller.Suggest)
	g.POST("/check-duplicate", controller.CheckDuplicate)
	g.GET("/history", controller.History)
	g.DELETE("/history/:id", controller.DeleteHistoryEntry)
}

func (controller *OutfitsController) Suggest(c echo.Context) error {
	var req models.OutfitQueryIn
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

	if user.Subscription == nil || *user.Subscription == "free" {
		var dailySuggestCount int64
		today := time.Now().UTC().Format("2006-01-02")
		if err := db.Model(&models.OutfitRequest{}).Where("owner_id = ? AND DATE(created_at) = ?", user.ID, today).Count(&dailySuggestCount).Error; err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get suggestion data"})
		}
		fmt.Printf("[User %v] Free plan, daily suggestion count: %v\n", user.ID, dailySuggestCount)
		limit := int64(freeDailySuggestLimit)
		if user.EnforcedDailySuggestLimit != nil {
			limit = int64(*user.EnforcedDailySuggestLimit)
		}
		if dailySuggestCount >= limit {
			return c.JSON(http.StatusForbidden, map[string]string{"error": fmt.Sprintf("You have reached the limit of %v daily suggestions. Please wait for the next day.", limit)})
		}
	}

	result, err := controller.Orchestrator.Suggest(c.Request().Context(), db, &user, req)
	if err != nil {
		var decodeErr *services.DecodeError
		if errors.As(err, &decodeErr) {
			fmt.Println("Suggest rejected: ", decodeErr)
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "We could not read that photo, please upload a JPEG or PNG image"})
		}
		var malformedErr *services.MalformedResponseError
		if errors.As(err, &malformedErr) {
			sentry.CaptureException(err)
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "Our stylist could not read your garment right now, please try again"})
		}
		fmt.Println("Suggest failed: ", err)
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Sorry, something went wrong, please try again"})
	}

	return c.JSON(http.StatusOK, controller.buildSuggestResponse(c.Request().Context(), result))
}

func (controller *OutfitsController) buildSuggestResponse(ctx context.Context, result *services.SuggestResult) models.OutfitSuggestOut {
	record := result.Record
	outfit := result.Outfit

	slotDescriptions := map[string]string{
		"top":       outfit.Top,
		"bottom":    outfit.Bottom,
		"outerwear": outfit.Outerwear,
		"footwear":  outfit.Footwear,
		"accessory": outfit.Accessory,
	}
	slots := make(map[string]models.OutfitSlotOut, len(services.OutfitSlots))
	for _, slot := range services.OutfitSlots {
		out := models.OutfitSlotOut{Description: slotDescriptions[slot]}
		if matched, ok := result.WardrobeMatches[slot]; ok && matched != nil {
			out.WardrobeItemID = UIntPointer(matched.ID)
			if matched.ImageKey != nil && *matched.ImageKey != "" {
				if url, err := controller.URLCache.GetReadURL(ctx, *matched.ImageKey); err == nil && url != "" {
					out.WardrobeItemURL = &url
				}
			}
		}
		slots[slot] = out
	}

	response := models.OutfitSuggestOut{
		Id:        record.ID,
		Duplicate: result.Duplicate,
		Degraded:  outfit.Degraded,
		ItemType:  result.Analysis.ItemType,
		Colors:    result.Analysis.Colors,
		Pattern:   record.Pattern,
		Material:  record.Material,
		Slots:     slots,
		Reasoning: outfit.Reasoning,
	}
	if record.GeneratedImageKey != nil && *record.GeneratedImageKey != "" {
		url, err := controller.AWSService.GetPresignedR2FileReadURL(ctx, controller.Orchestrator.Config.GeneratedBucket, *record.GeneratedImageKey)
		if err != nil {
			log.Printf("CRITICAL: could not presign generated image '%s': %v", *record.GeneratedImageKey, err)
			sentry.CaptureException(err)
		} else {
			response.ImageURL = &url
		}
	}
	for _, outcome := range result.Outcomes {
		out := models.ProviderOutcomeOut{
			Provider:  outcome.Provider,
			State:     string(outcome.State),
			ElapsedMs: outcome.Elapsed.Milliseconds(),
		}
		if outcome.Err != nil {
			out.Error = StrPointer(outcome.Err.Error())
		}
		response.Providers = append(response.Providers, out)
	}
	return response
}

func (controller *OutfitsController) CheckDuplicate(c echo.Context) error {
	var req models.DuplicateCheckIn
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

	imageData, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "We could not read that photo, please upload a JPEG or PNG image"})
	}

	_, match, err := controller.Orchestrator.CheckDuplicate(db, &user, imageData)
	if err != nil {
		var decodeErr *services.DecodeError
		if errors.As(err, &decodeErr) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "We could not read that photo, please upload a JPEG or PNG image"})
		}
		fmt.Println("Duplicate check failed: ", err)
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Sorry, something went wrong, please try again"})
	}

	response := models.DuplicateCheckOut{}
	if match != nil {
		response.Duplicate = true
		response.Distance = IntPointer(match.Distance)
		response.MatchedID = UIntPointer(match.EntryID)
	}
	return c.JSON(http.StatusOK, response)
}

// History lists past recommendations newest first, with presigned read
// URLs resolved concurrently the same way the wardrobe listing does it.
func (controller *OutfitsController) History(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	var rows []models.OutfitRequest
	if err := db.Where("owner_id = ?", user.ID).Order("created_at desc").Limit(100).Find(&rows).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch history"})
	}

	processed := make([]models.OutfitHistoryOut, len(rows))
	var wg sync.WaitGroup
	generatedBucket := controller.Orchestrator.Config.GeneratedBucket
	garmentBucket := controller.Orchestrator.Config.GarmentBucket
	ctx := c.Request().Context()

	for i, historyRow := range rows {
		wg.Add(1)
		go func(index int, row models.OutfitRequest) {
			defer wg.Done()
			out := models.OutfitHistoryOut{OutfitRequest: row}
			if row.GeneratedImageKey != nil && *row.GeneratedImageKey != "" {
				url, err := controller.AWSService.GetPresignedR2FileReadURL(ctx, generatedBucket, *row.GeneratedImageKey)
				if err != nil {
					log.Printf("CRITICAL: could not presign generated image '%s': %v", *row.GeneratedImageKey, err)
					sentry.CaptureException(err)
				}
				if url != "" {
					out.ImageURL = &url
				}
			}
			if row.GarmentImageKey != nil && *row.GarmentImageKey != "" {
				url, err := controller.URLCache.GetReadURL(ctx, *row.GarmentImageKey)
				if err != nil {
					log.Printf("CACHE WARNING: Cache system failed for key '%s': %v. Triggering manual R2 fallback.", *row.GarmentImageKey, err)
					sentry.WithScope(func(scope *sentry.Scope) {
						scope.SetTag("failure_type", "cache_system")
						scope.SetExtra("objectKey", *row.GarmentImageKey)
						sentry.CaptureException(err)
					})
					url, err = controller.AWSService.GetPresignedR2FileReadURL(ctx, garmentBucket, *row.GarmentImageKey)
					if err != nil {
						log.Printf("CRITICAL: Manual R2 fallback also failed for key '%s': %v", *row.GarmentImageKey, err)
						sentry.CaptureException(err)
					}
				}
				if url != "" {
					out.GarmentImageURL = &url
				}
			}
			processed[index] = out
		}(i, historyRow)
	}
	wg.Wait()

	return c.JSON(http.StatusOK, echo.Map{
		"history": processed,
	})
}

func (controller *OutfitsController) DeleteHistoryEntry(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	result := db.Where("id = ? AND owner_id = ?", c.Param("id"), user.ID).Delete(&models.OutfitRequest{})
	if result.Error != nil {
		log.Println(result.Error)
		return echo.ErrInternalServerError
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "History entry not found"})
	}
	fmt.Println("History entry deleted for user ", user.ID, " ID: ", c.Param("id"))
	return c.JSON(http.StatusOK, echo.Map{
		"message": "deleted",
	})
}
