package services

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var allowedImageExtensions = []string{".jpg", ".jpeg", ".png", ".heic", ".heif", ".webp"}

func IsAllowedImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(allowedImageExtensions, ext)
}

func StrPointer(str string) *string {
	if str == "" {
		return nil
	}
	return &str
}

func Int32Pointer(i int32) *int32 {
	return &i
}

func Float64Pointer(f float64) *float64 {
	return &f
}

func ReadFileFromUrl(url string) ([]byte, error) {
	httpClient := &http.Client{}
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %v", err)
	}

	// Set headers to prevent caching
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	// Perform the HTTP request
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %v", err)
	}
	defer resp.Body.Close()

	// Check response status
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch file, status code: %d", resp.StatusCode)
	}

	// Read the file content
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	return content, nil
}

func GetEnv(key, fallback string) string {
	value := os.Getenv(key)
	if len(value) == 0 {
		return fallback
	}
	return value
}

func CreateTempFile(data []byte, filename string) (string, error) {
	// Create a temporary file with the given filename as a pattern
	ext := filepath.Ext(filename)
	tempFile, err := os.CreateTemp("", "temp-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %v", err)
	}
	defer tempFile.Close()
	fmt.Println("Byte length:", len(data))
	// Write bytes to the temporary file
	if _, err := tempFile.Write(data); err != nil {
		return "", fmt.Errorf("failed to write to temp file: %v", err)
	}

	// Return the path to the temporary file
	return tempFile.Name(), nil
}

func DecodeBase64EnvPrivateKey(envKey string) (string, error) {
	// Get base64 encoded private key from environment
	base64Key := os.Getenv(envKey)
	if base64Key == "" {
		return "", fmt.Errorf("%s environment variable is not set", envKey)
	}

	// Decode from base64
	decodedBytes, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 private key: %v", err)
	}

	// Convert to string
	secret := string(decodedBytes)

	return secret, nil
}
