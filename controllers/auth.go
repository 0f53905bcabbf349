package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	apple "github.com/Timothylock/go-signin-with-apple/apple"
	"github.com/getsentry/sentry-go"
	"github.com/golang-jwt/jwt/v4"
	echojwt "github.com/labstack/echo-jwt"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"stylistapi/models"
	"stylistapi/services"
)

const defaultAvatarURL = "https://pub-df730af6a36c46a58d6d948f149dae31.r2.dev/user-circle.png"

type SetAvatarUploadFileRequest struct {
	FileName *string `json:"file_name" validate:"required,max=1000"`
}

type AuthController struct {
	Google      services.GoogleServiceProvider
	FirebaseApp *firebase.App
	AWSService  services.AWSServiceProvider
}

func (m *AuthController) ProfileRoutes(g *echo.Group) {
	g.POST("/google/v2", func(c echo.Context) (err error) {
		googleCreds := new(models.GoogleAuthSignIn)

		signUp := new(models.SignUpIn)
		if c.QueryParam("verify") == "true" {
			if err := c.Bind(googleCreds); err != nil {
				return err
			}
			if !models.ValidatePlatformRaw(googleCreds.Platform) {
				return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Please provide proper platform parameter"})
			}

			if err = c.Validate(googleCreds); err != nil {
				return err
			}
		} else {
			if err := c.Bind(signUp); err != nil {
				return err
			}

			if !models.ValidatePlatformRaw(signUp.Platform) {
				return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Please provide proper platform parameter"})
			}

			if err = c.Validate(signUp); err != nil {
				return err
			}
		}
		idToken := IfThenElse(googleCreds.IdToken == "", signUp.IdToken, googleCreds.IdToken).(string)
		platform := IfThenElse(googleCreds.Platform == "", signUp.Platform, googleCreds.Platform).(string)
		payload, err := m.Google.ValidateIdToken(context.Background(), idToken, os.Getenv("GOOGLE_CLIENT_ID"))

		if err != nil {
			fmt.Println(err)
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't verify credentials"})
		}
		sub, ok := payload.Claims["sub"]
		if !ok {
			sentry.CaptureMessage(fmt.Sprintf("Error when fetching user data %s", payload.Claims))
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't verify credentials"})
		}
		var googleId string = sub.(string)

		googleEmail, ok := payload.Claims["email"]
		if !ok {
			sentry.CaptureMessage(fmt.Sprintf("Error when fetching user data email %s", payload.Claims))
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't verify credentials"})
		}

		pictureUrl, _ := payload.Claims["picture"].(string)
		googleName, _ := payload.Claims["name"].(string)

		db := c.Get("__db").(*gorm.DB)
		var user *models.UserAccount
		r := db.Where("google_id = ?", googleId).Limit(1).Find(&user)
		if r.Error != nil {
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{"message": "Internal server error"})
		}
		if c.QueryParam("verify") == "true" {
			if r.RowsAffected > 0 {
				if user.Banned {
					return echo.ErrForbidden
				}
				refreshToken, err := GenerateRefreshToken(fmt.Sprint(user.ID))
				if err != nil {
					fmt.Println(err)
					return echo.ErrInternalServerError
				}

				return c.JSON(http.StatusOK, map[string]interface{}{
					"id":    user.ID,
					"name":  user.Name,
					"email": googleEmail, "new": user.Status == "STARTED_AUTH", "avatar": user.AvatarURL,
					"access_token":  GenerateUserToken(fmt.Sprint(user.ID), c, 72),
					"refresh_token": refreshToken,
				})
			}
			r := db.Where("email = ?", googleEmail).Limit(1).Find(&user)
			if r.RowsAffected > 0 {
				user.AvatarURL = pictureUrl
				user.GoogleID = googleId
				user.Name = googleName
				user.LastIp = c.RealIP()
				user.Platform = models.ScanPlatform(platform)
				db.Save(&user)
			} else {
				user = &models.UserAccount{
					Name:      googleName,
					Email:     googleEmail.(string),
					GoogleID:  googleId,
					Platform:  models.ScanPlatform(platform),
					LastIp:    c.RealIP(),
					Status:    "STARTED_AUTH",
					AvatarURL: pictureUrl,
				}
				db.Create(&user)
			}
			refreshToken, err := GenerateRefreshToken(fmt.Sprint(user.ID))
			if err != nil {
				fmt.Println(err)
				return echo.ErrInternalServerError
			}
			return c.JSON(http.StatusOK, map[string]interface{}{
				"id":    user.ID,
				"name":  user.Name,
				"email": googleEmail, "new": user.Status == "STARTED_AUTH", "avatar": user.AvatarURL,
				"access_token":  GenerateUserToken(fmt.Sprint(user.ID), c, 72),
				"refresh_token": refreshToken,
			})
		}
		// finish onboarding
		if r.RowsAffected > 0 {
			user.Status = "FINISHED_AUTH"
			user.Name = signUp.Name
			user.UTMSource = signUp.UTMSource
			db.Save(&user)
			fmt.Println("User onboarding finished google: ", googleEmail, googleId)
			return c.JSON(http.StatusOK, map[string]interface{}{
				"id":           user.ID,
				"name":         user.Name,
				"email":        user.Email,
				"new":          true,
				"avatar":       user.AvatarURL,
				"access_token": GenerateUserToken(fmt.Sprint(user.ID), c, 72),
			})
		}
		c.Logger().Warnf("Error when finishing user creation, no user found in database %s %s", googleEmail, googleId)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"message": "Sorry, something wrong happened, please try again!"})
	})

	g.POST("/apple", func(c echo.Context) error {
		var req models.AppleAuthRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		}

		teamID := services.GetEnv("APPLE_TEAM_ID", "VUWPX5QW93")
		keyID := services.GetEnv("APPLE_SIGNIN_KEY_ID", "5LCB7TR346")
		clientID := services.GetEnv("APPLE_BUNDLE_ID", "com.skripe.stylist")

		secret, err := services.DecodeBase64EnvPrivateKey("APPLE_SIGNIN_PKEY_BASE64")

		if err != nil {
			log.Println("Error getting Apple private key:", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
		secret, err = apple.GenerateClientSecret(secret, teamID, clientID, keyID)
		if err != nil {
			log.Println("Error generating Apple client secret:", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
		client := apple.New()

		vReq := apple.AppValidationTokenRequest{
			ClientID:     clientID,
			ClientSecret: secret,
			Code:         req.AuthorizationCode,
		}

		var resp apple.ValidationResponse

		err = client.VerifyAppToken(context.Background(), vReq, &resp)
		if err != nil {
			fmt.Println("error verifying: " + err.Error())
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't verify credentials"})
		}

		if resp.Error != "" {
			fmt.Printf("apple returned an error: %s - %s\n", resp.Error, resp.ErrorDescription)
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't verify credentials through Apple"})
		}

		unique, err := apple.GetUniqueID(resp.IDToken)
		if err != nil {
			fmt.Println("failed to get unique ID: " + err.Error())
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't get your unique identifier"})
		}

		claim, err := apple.GetClaims(resp.IDToken)
		if err != nil {
			fmt.Println("failed to get claims: " + err.Error())
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't get your information"})
		}

		appleEmail, ok := (*claim)["email"].(string)
		if !ok {
			fmt.Println(fmt.Sprintf("[Apple signin] no email in token  %s", claim))
		}
		var appleId string = unique

		db := c.Get("__db").(*gorm.DB)
		var user *models.UserAccount

		var r *gorm.DB
		if appleEmail == "" {
			r = db.Where("apple_id = ?", appleId).Limit(1).Find(&user)
		} else {
			r = db.Where("apple_id = ? or email = ?", appleId, appleEmail).Limit(1).Find(&user)
		}
		if r.Error != nil {
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{"message": "Internal server error"})
		}
		if r.RowsAffected > 0 {
			if user.Banned {
				return echo.ErrForbidden
			}
			user.AppleID = appleId
			db.Save(&user)
		} else {
			if appleEmail == "" {
				fmt.Println("[Apple signin] New user but no email in claims")
				return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "It seems that you are signing in the first time and no email was provided by Apple. Please try again or contact us at support@skripe.com."})
			}
			user = &models.UserAccount{
				Name:      appleEmail,
				Email:     appleEmail,
				AppleID:   appleId,
				Platform:  models.ScanPlatform(req.Platform),
				LastIp:    c.RealIP(),
				Status:    "STARTED_AUTH",
				AvatarURL: defaultAvatarURL,
			}
			db.Create(&user)
		}
		refreshToken, err := GenerateRefreshToken(fmt.Sprint(user.ID))
		if err != nil {
			fmt.Println(err)
			return echo.ErrInternalServerError
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"email": user.Email,
			"new":   user.Status == "STARTED_AUTH", "avatar": user.AvatarURL,
			"name":          user.Name,
			"access_token":  GenerateUserToken(fmt.Sprint(user.ID), c, 72),
			"refresh_token": refreshToken,
		})
	})

	g.POST("/refresh-token", func(c echo.Context) error {
		tokenReq := new(models.RefreshTokenIn)

		if err := c.Bind(&tokenReq); err != nil {
			fmt.Println(err)
			return echo.ErrBadRequest
		}

		if tokenReq.RefreshToken == "" {
			fmt.Println("Refresh token is empty")
			return echo.ErrBadRequest
		}
		token, err := jwt.Parse(tokenReq.RefreshToken, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("Unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(os.Getenv("JWT_SECRET")), nil
		})
		if err != nil {
			fmt.Println(err)
			return echo.ErrBadRequest
		}
		if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
			db := c.Get("__db").(*gorm.DB)
			data, okConvert := claims["sub"].(string)
			if !okConvert {
				fmt.Println("Cannot convert sub to string!")
				return echo.ErrInternalServerError
			}
			userId, err := strconv.Atoi(data)
			if err != nil {
				fmt.Println("Error parsing sub of the user!!", err)
				return echo.ErrInternalServerError
			}
			if userId < 1 {
				fmt.Println("Refresh: sub is:", userId)
				return echo.ErrBadRequest
			}
			var user *models.UserAccount
			result := db.First(&user, userId)
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				fmt.Println("Requested user not found!", userId)
				return echo.ErrForbidden
			}
			if result.Error != nil {
				fmt.Println("Error getting user while refreshing token", userId)
				return echo.ErrInternalServerError
			}
			if !user.Banned {
				t := GenerateUserToken(fmt.Sprint(userId), c, 72)
				rt, err := GenerateRefreshToken(fmt.Sprint(userId))

				if err != nil {
					fmt.Println("Error refreshing token ", err)
					return echo.ErrInternalServerError
				}

				return c.JSON(http.StatusOK, echo.Map{
					"access_token":  t,
					"refresh_token": rt,
				})
			}

			return echo.ErrUnauthorized
		}

		return err
	})

	g.GET("/me", func(c echo.Context) error {
		user := c.Get("currentUser").(models.UserAccount)

		fullbodyAvatarUrl := user.UserFullBodyImageURL
		if user.UserFullBodyImageURL != nil && *user.UserFullBodyImageURL != "" {
			bucketName := services.GetEnv("R2_GARMENT_BUCKET", "stylist-garments")
			avatarR2URL, err := m.AWSService.GetPresignedR2FileReadURL(context.Background(), bucketName, *user.UserFullBodyImageURL)

			if err != nil {
				log.Printf("CRITICAL: R2 avatar could not fetch for key '%s': %v", *user.UserFullBodyImageURL, err)
				sentry.CaptureException(err)
			}
			fullbodyAvatarUrl = &avatarR2URL
		}
		return c.JSON(http.StatusOK, models.UserMeInfoOut{
			Id:                   UIntToStr(user.ID),
			Name:                 user.Name,
			Email:                user.Email,
			Status:               user.Status,
			AvatarURL:            user.AvatarURL,
			FullBodyAvatarUrl:    fullbodyAvatarUrl,
			FullBodyAvatarSet:    user.FullBodyAvatarSet,
			ReceiveNotifications: user.ReceiveNotifications,
		})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)

	g.POST("/settings", func(c echo.Context) error {
		user := c.Get("currentUser").(models.UserAccount)
		var settingsIn = new(models.UserSettingsIn)
		db := c.Get("__db").(*gorm.DB)
		if err := c.Bind(settingsIn); err != nil {
			return err
		}
		user.ReceiveNotifications = settingsIn.ReceiveNotifications
		db.Save(&user)
		return c.JSON(http.StatusOK, settingsIn)

	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)

	g.POST("/register-push", func(c echo.Context) error {
		user := c.Get("currentUser").(models.UserAccount)
		db := c.Get("__db").(*gorm.DB)
		var tokenRequest = new(models.UserPushIn)

		if err := c.Bind(tokenRequest); err != nil {
			return err
		}

		if !models.ValidatePlatformRaw(tokenRequest.Platform) {
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Please provide proper platform parameter"})
		}
		var pushData models.UserPushToken = models.UserPushToken{
			Platform:      models.ScanPlatform(tokenRequest.Platform),
			Token:         tokenRequest.Token,
			UserAccountID: user.ID,
			Active:        true,
		}

		// same device can sign in to different accounts and still receive pushes
		result := db.Where("token = ? and user_account_id = ?", tokenRequest.Token, user.ID).FirstOrCreate(&pushData)
		if result.Error != nil {
			log.Println(result.Error)
			return echo.ErrInternalServerError
		}
		if result.RowsAffected >= 1 {
			fmt.Println("Token created for user ", user.ID, "Platform: ", tokenRequest.Platform)
		}
		fmt.Println("Push id ", pushData.ID, " Token ", pushData.Token, " Platform: ", pushData.Platform, "User ID:", pushData.UserAccountID)
		return c.JSON(http.StatusOK, echo.Map{
			"message": "registered",
			"push_id": pushData.ID,
		})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)

	g.POST("/delete-push", func(c echo.Context) error {
		user := c.Get("currentUser").(models.UserAccount)
		db := c.Get("__db").(*gorm.DB)
		var tokenRequest = new(models.UserPushIn)

		if err := c.Bind(tokenRequest); err != nil {
			return err
		}

		if !models.ValidatePlatformRaw(tokenRequest.Platform) {
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Please provide proper platform parameter"})
		}

		result := db.Where("token = ? and user_account_id = ? and platform = ?", tokenRequest.Token, user.ID, tokenRequest.Platform).Delete(&models.UserPushToken{})
		if result.Error != nil {
			log.Println(result.Error)
			return echo.ErrInternalServerError
		}
		if result.RowsAffected >= 1 {
			fmt.Println("Token deleted for user ", user.ID, "Platform: ", tokenRequest.Platform)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"message": "deleted",
			"deleted": result.RowsAffected > 0,
		})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)

	g.POST("/logout", func(c echo.Context) error {
		user := c.Get("currentUser").(models.UserAccount)
		db := c.Get("__db").(*gorm.DB)
		var tokenRequest = new(models.UserPushIn)
		if err := c.Bind(tokenRequest); err != nil {
			return err
		}

		db.Where("user_account_id = ? and token = ?", user.ID, tokenRequest.Token).Delete(&models.UserPushToken{})

		return c.JSON(http.StatusOK, echo.Map{
			"message": "logged out",
		})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)

	g.POST("/delete-account", func(c echo.Context) error {
		user := c.Get("currentUser").(models.UserAccount)
		db := c.Get("__db").(*gorm.DB)
		now := time.Now()
		user.ConfirmedDeleteDate = &now
		db.Save(user)
		return c.JSON(http.StatusOK, echo.Map{
			"message": "logged out",
		})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)

	g.POST("/set-avatar", func(c echo.Context) error {
		user, ok := c.Get("currentUser").(models.UserAccount)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}
		var req SetAvatarUploadFileRequest
		if err := c.Bind(&req); err != nil {
			fmt.Println(err)
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		}

		if err := c.Validate(req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		db, ok := c.Get("__db").(*gorm.DB)
		if !ok {
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Our service is not available, please try again a bit later"})
		}

		var bucketName = services.GetEnv("R2_GARMENT_BUCKET", "stylist-garments")
		safeFileName := fmt.Sprintf("fullbodyavatars/%v/%s", user.ID, *req.FileName)

		uploadUrl, presignErr := m.AWSService.PresignLink(context.Background(), bucketName, safeFileName)
		if presignErr != nil {
			log.Printf("Unable to presign avatar upload for %s!, %s", user.Name, presignErr)
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"message": "Error while uploading your avatar, please try again",
			})
		}
		user.UserFullBodyImageURL = &safeFileName
		user.FullBodyAvatarSet = true
		fmt.Println("Presetting user avatar url to ", safeFileName)

		if err := db.Save(&user).Error; err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to save your avatar"})
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "Avatar is updated successfully", "upload_url": uploadUrl, "file_name": *req.FileName})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)
}
