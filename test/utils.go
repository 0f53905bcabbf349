package test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"google.golang.org/api/idtoken"
	"gorm.io/gorm"

	"stylistapi/models"
	"stylistapi/services"
)

func JsonString(model interface{}) string {
	bytes, _ := json.Marshal(model)
	return string(bytes)
}

func NewJSONRequest(method string, target string, param interface{}) *http.Request {

	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	return req
}

func GenerateUserToken(userPk string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userPk,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 72)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	t, err := token.SignedString([]byte(os.Getenv("JWT_SECRET")))
	if err != nil {
		log.Fatalf("Error when signing user token for %s. Error %s ", userPk, err)
	}
	return t
}

func NewJSONAuthRequest(method string, target string, userPk string, param interface{}) *http.Request {
	log.Println(JsonString(param))
	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	token := GenerateUserToken(userPk)
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	return req
}

func NewJSONAuthRequestRaw(method string, target string, userPk string, json string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(json))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	token := GenerateUserToken(userPk)
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	return req
}

func Int64Pointer(i int64) *int64 {
	return &i
}

func FakeUser(db *gorm.DB) *models.UserAccount {
	user := &models.UserAccount{
		Name:      "OurName",
		Email:     "email@example.com",
		GoogleID:  "12232",
		Platform:  models.PlatformIOS,
		LastIp:    "123.122.122.122",
		Status:    "FINISHED_AUTH",
		AvatarURL: "pictureurl",
	}
	db.Create(&user)

	tokenDb := models.UserPushToken{
		UserAccountID: user.ID,
		Platform:      "android",
		Token:         "cX-UZ3zwQEiPt-2GJkG2gA:APA91bGqRflaGrJrnynhRwZ442HdgUjVcO7mWMFnx6IwAdJ9RRKopvSP4QU7hbvTmk1XAp8XGvtHZLvo5JmOPTVKBbGqqvhfbZWKlXA9csEjx1hgpNvrWepU-rqG1sxS8_WCF5cGZchf",
		Active:        true,
	}
	db.Save(&tokenDb)

	return user
}

func FakeUserV2(db *gorm.DB, userName string, email string) *models.UserAccount {

	if email == "" {
		email = "email@example.com"
	}
	user := &models.UserAccount{
		Name:      userName,
		Email:     email,
		GoogleID:  "12232",
		Platform:  models.PlatformIOS,
		LastIp:    "123.122.122.122",
		Status:    "FINISHED_AUTH",
		AvatarURL: "pictureurl",
	}
	db.Create(&user)
	return user
}

func Contains(items []string, lookFor string) bool {

	for i := 0; i < len(items); i++ {

		if items[i] == lookFor {
			return true
		}
	}
	return false
}

func NewRefString(data string) *string {
	return &data
}

type GoogleServiceMock struct{}

func (gsm GoogleServiceMock) ValidateIdToken(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error) {

	return &idtoken.Payload{Issuer: "Issue", Audience: "AAA", Expires: 119919191919, IssuedAt: 12312321321, Subject: "fake@example.com", Claims: map[string]interface{}{
		"email":   "fake@example.com",
		"picture": "pictureurl",
		"sub":     "123googleid",
	}}, nil

}

type AWSProviderMock struct {
	MockUrl string
	Uploads map[string][]byte
}

func (awsService *AWSProviderMock) InitPresignClient(ctx context.Context) error {
	return nil
}

func (awsService *AWSProviderMock) PresignLink(ctx context.Context, bucketName string, fileName string) (string, error) {

	return fmt.Sprintf("https://fakebucketurl.com/%s", fileName), nil
}

func (awsService *AWSProviderMock) GetPresignedR2FileReadURL(ctx context.Context, bucketName, fileKey string) (string, error) {
	return awsService.MockUrl, nil
}

func (awsService *AWSProviderMock) UploadToPresignedURL(ctx context.Context, bucketName, url string, fileContent []byte) (string, int, error) {
	return url, 204, nil
}

func (awsService *AWSProviderMock) UploadBytes(ctx context.Context, bucketName, fileKey string, fileContent []byte) error {
	if awsService.Uploads == nil {
		awsService.Uploads = map[string][]byte{}
	}
	awsService.Uploads[fileKey] = fileContent
	return nil
}

type URLCacheMock struct {
	MockUrl string
}

func (m URLCacheMock) GetReadURL(ctx context.Context, objectKey string) (string, error) {
	if m.MockUrl != "" {
		return m.MockUrl, nil
	}
	return fmt.Sprintf("https://fakecache.com/%s", objectKey), nil
}

// MockVisionProvider replays scripted responses in order, repeating the
// last one when the script runs out.
type MockVisionProvider struct {
	Responses []string
	Err       error
	Calls     int
	Prompts   []string
}

func (m *MockVisionProvider) GenerateJSON(ctx context.Context, prompt string, image []byte, mime string) (string, *services.TokenUsage, error) {
	m.Calls++
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", nil, m.Err
	}
	idx := m.Calls - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	if idx < 0 {
		return "", nil, fmt.Errorf("no scripted responses")
	}
	return m.Responses[idx], &services.TokenUsage{Model: "mock", Input: 10, Output: 13, Total: 23}, nil
}

const MockAnalysisResponse = `{
	"item_type": "shirt",
	"colors": ["navy blue", "white"],
	"pattern": "striped",
	"material": "cotton",
	"style_descriptors": ["casual", "summer"],
	"fit": "regular"
}`

const MockOutfitResponse = `{
	"top": "Navy striped shirt",
	"bottom": "White chino trousers",
	"outerwear": "Light beige linen blazer",
	"footwear": "White leather sneakers",
	"accessory": "Brown woven belt",
	"reasoning": "Crisp nautical look for warm days."
}`

type MockImageProvider struct {
	ProviderName string
	Image        []byte
	Err          error
	Calls        int
}

func (m *MockImageProvider) Name() string {
	return m.ProviderName
}

func (m *MockImageProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Image, nil
}

// SlowImageProvider blocks until the context expires.
type SlowImageProvider struct {
	ProviderName string
	Calls        int
}

func (m *SlowImageProvider) Name() string {
	return m.ProviderName
}

func (m *SlowImageProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	m.Calls++
	<-ctx.Done()
	return nil, ctx.Err()
}
