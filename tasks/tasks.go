package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"stylistapi/models"
	"stylistapi/services"
)

const (
	TypeWardrobeAnalyze = "analyze:wardrobe_item"
	TypeAccountCleanup  = "cleanup:deleted_accounts"
)

type WardrobeAnalyzePayload struct {
	ItemID uint `json:"item_id"`
}

// Client initializes an asynq client for enqueuing tasks
func NewClient() (*asynq.Client, error) {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")}), nil
}

func NewWardrobeAnalyzeTask(itemID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(WardrobeAnalyzePayload{ItemID: itemID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeWardrobeAnalyze, payload), nil
}

func NewAccountCleanupTask() *asynq.Task {
	return asynq.NewTask(TypeAccountCleanup, nil)
}

func getWardrobeItemImage(awsService services.AWSServiceProvider, item models.WardrobeItem) ([]byte, error) {
	bucketName := services.GetEnv("R2_GARMENT_BUCKET", "stylist-garments")
	fmt.Printf("[Wardrobe: %v] Bucket name: %s\n", item.ID, bucketName)
	if item.ImageKey == nil {
		return nil, fmt.Errorf("[Wardrobe: %v] Image key is nil", item.ID)
	}
	fileUrl, err := awsService.GetPresignedR2FileReadURL(context.TODO(), bucketName, *item.ImageKey)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[Wardrobe: %v] Error on getting presigned URL for file %s", item.ID, *item.ImageKey))
		return nil, err
	}
	fmt.Printf("[Wardrobe: %v] Downloading... %s\n", item.ID, fileUrl)
	fileBytes, err := services.ReadFileFromUrl(fileUrl)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[Wardrobe: %v] Error on downloading file %s: %v", item.ID, *item.ImageKey, err))
		return nil, err
	}
	return fileBytes, nil
}

// HandleWardrobeAnalyzeTask fills in a wardrobe item's colors, pattern
// and material from its uploaded photo.
func HandleWardrobeAnalyzeTask(
	ctx context.Context, t *asynq.Task, db *gorm.DB, gateway *services.RecommendationGateway,
	awsService services.AWSServiceProvider, fbApp *firebase.App) error {
	googleKey := os.Getenv("GOOGLE_API_KEY")
	if googleKey == "" {
		sentry.CaptureException(fmt.Errorf("[QUEUE] %s Google API key is not set", string(t.Payload())))
		return fmt.Errorf("[QUEUE] %s Google API key is not set", string(t.Payload()))
	}
	var payload WardrobeAnalyzePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Wardrobe: %v] Start Processing\n", payload.ItemID)
	var item models.WardrobeItem
	res := db.First(&item, payload.ItemID)
	if res.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error on retrieving wardrobe item for processing %v", payload.ItemID))
		return res.Error
	}

	fileBytes, err := getWardrobeItemImage(awsService, item)
	if err != nil {
		saveWardrobeProcessingFail(db, item, "Failed to read item photo, please try to add the item again", true)
		return err
	}
	fmt.Printf("[Wardrobe: %v] Downloaded file size: %d bytes\n", payload.ItemID, len(fileBytes))

	analysis, usage, err := gateway.AnalyzeGarment(ctx, fileBytes, "")
	if err != nil {
		fmt.Printf("[Wardrobe: %v] Error on analyzing item photo: %v\n", payload.ItemID, err)
		saveWardrobeProcessingFail(db, item, "Sorry, we failed to analyze this item, please try again", true)
		sentry.CaptureException(fmt.Errorf("[Wardrobe: %v] Error on analyzing item photo: %v", payload.ItemID, err))
		return err
	}
	if usage != nil {
		fmt.Printf("[Wardrobe: %v] LLM Processed, Model: %s, IT: %d, OT: %d, TOT: %d\n", payload.ItemID, usage.Model, usage.Input, usage.Output, usage.Total)
	}

	item.Colors = analysis.Colors
	if analysis.Pattern != "" {
		item.Pattern = services.StrPointer(analysis.Pattern)
	}
	if analysis.Material != "" {
		item.Material = services.StrPointer(analysis.Material)
	}
	if len(analysis.StyleDescriptors) > 0 {
		item.Description = services.StrPointer(strings.Join(analysis.StyleDescriptors, ", "))
	}
	item.ImageStatus = "uploaded"
	item.ProcessingStatus = "completed"
	item.ProcessErrorMessage = nil

	tx := db.Save(&item)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error on saving wardrobe item %v", payload.ItemID))
		return tx.Error
	}
	fmt.Printf("[Wardrobe: %v] Analysis finished succesfully..\n", payload.ItemID)

	var owner models.UserAccount
	if r := db.First(&owner, item.OwnerID); r.Error == nil && owner.ReceiveNotifications {
		fmt.Printf("[Wardrobe: %v] Sending notification to user %v\n", payload.ItemID, item.OwnerID)
		services.SendNotification(fbApp, db, item.OwnerID, "Wardrobe Item Ready", fmt.Sprintf("Your item %s has been analyzed", item.Name), map[string]string{"item_id": fmt.Sprintf("%d", item.ID), "type": "wardrobe_analyzed"})
	} else {
		fmt.Printf("[Wardrobe: %v] Notifications disabled, not sending to user %v\n", payload.ItemID, item.OwnerID)
	}
	return nil
}

func saveWardrobeProcessingFail(db *gorm.DB, item models.WardrobeItem, msg string, shouldRetry bool) error {
	item.ProcessRetryTimes = item.ProcessRetryTimes + 1
	item.ProcessErrorMessage = &msg
	if !shouldRetry || item.ProcessRetryTimes >= 3 {
		item.ProcessingStatus = "failed"
	}
	tx := db.Save(&item)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Fail Wardrobe %v] Error on saving item for failed status", item.ID))
		return tx.Error
	}
	return nil
}

// HandleAccountCleanupTask wipes accounts whose owners confirmed deletion
// more than 14 days ago, along with their data.
func HandleAccountCleanupTask(ctx context.Context, t *asynq.Task, db *gorm.DB) error {
	cutoff := time.Now().AddDate(0, 0, -14)
	var users []models.UserAccount
	result := db.Where("confirmed_delete_date IS NOT NULL AND confirmed_delete_date < ?", cutoff).Find(&users)
	if result.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Cleanup] Error fetching accounts to delete: %v", result.Error))
		return result.Error
	}
	fmt.Printf("[Cleanup] Found %d accounts to delete\n", len(users))

	for _, user := range users {
		if err := db.Where("owner_id = ?", user.ID).Delete(&models.OutfitRequest{}).Error; err != nil {
			sentry.CaptureException(fmt.Errorf("[Cleanup] Failed to delete history for user %d: %v", user.ID, err))
			continue
		}
		if err := db.Where("owner_id = ?", user.ID).Delete(&models.WardrobeItem{}).Error; err != nil {
			sentry.CaptureException(fmt.Errorf("[Cleanup] Failed to delete wardrobe for user %d: %v", user.ID, err))
			continue
		}
		if err := db.Where("user_account_id = ?", user.ID).Delete(&models.UserPushToken{}).Error; err != nil {
			sentry.CaptureException(fmt.Errorf("[Cleanup] Failed to delete push tokens for user %d: %v", user.ID, err))
			continue
		}
		if err := db.Delete(&user).Error; err != nil {
			sentry.CaptureException(fmt.Errorf("[Cleanup] Failed to delete user %d: %v", user.ID, err))
			continue
		}
		fmt.Printf("[Cleanup] Deleted account %d\n", user.ID)
	}
	return nil
}
