package imagegen

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// IsAzureEndpoint checks if the given endpoint URL is an Azure OpenAI endpoint.
// It performs case-insensitive substring matching against known Azure domain patterns.
//
// Example:
//
//	IsAzureEndpoint("https://myresource.openai.azure.com")            // true
//	IsAzureEndpoint("https://myresource.cognitiveservices.azure.com") // true
//	IsAzureEndpoint("https://api.openai.com")                         // false
func IsAzureEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	lower := strings.ToLower(endpoint)
	return strings.Contains(lower, "openai.azure.com") ||
		strings.Contains(lower, "cognitiveservices.azure.com")
}

// IsOpenAIEndpoint checks if the given endpoint URL is the public OpenAI API.
func IsOpenAIEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	return strings.Contains(strings.ToLower(endpoint), "api.openai.com")
}

// isDalleModel reports whether a model or deployment name is a DALL-E model.
// DALL-E accepts the style and response_format parameters; gpt-image-1 does not.
func isDalleModel(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "dalle") || strings.Contains(lower, "dall-e")
}

// DecodePayload decodes a base64 image payload. Data URIs
// ("data:image/png;base64,...") and unpadded input are accepted.
func DecodePayload(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx == -1 {
			return nil, fmt.Errorf("imagegen: malformed data URI")
		}
		s = s[idx+1:]
	}
	if s == "" {
		return nil, ErrEmptyPayload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("imagegen: invalid base64 payload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return data, nil
}

// DetectFormat returns the registered image format of data ("png", "jpeg",
// "gif" or "webp") without decoding the full image.
func DetectFormat(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("imagegen: unrecognised image data: %w", err)
	}
	return format, nil
}

// ExtensionFor maps a format name from DetectFormat to a file extension.
// Unknown formats map to ".png".
func ExtensionFor(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "gif":
		return ".gif"
	case "webp":
		return ".webp"
	default:
		return ".png"
	}
}
