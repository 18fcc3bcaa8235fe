package shopify

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// AttachmentThreshold is the largest asset body sent inline. Larger bodies
// are rejected by the asset endpoint unless sent as a base64 attachment.
const AttachmentThreshold = 650 * 1024

// Theme is a storefront theme.
type Theme struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type themesResponse struct {
	Themes []Theme `json:"themes"`
}

// Asset is a theme file. Exactly one of Value and Attachment is set.
type Asset struct {
	Key        string `json:"key"`
	Value      string `json:"value,omitempty"`
	Attachment string `json:"attachment,omitempty"`
}

// NewAsset builds the asset payload for body, applying the size policy.
func NewAsset(key, body string) Asset {
	if len(body) > AttachmentThreshold {
		return Asset{Key: key, Attachment: base64.StdEncoding.EncodeToString([]byte(body))}
	}
	return Asset{Key: key, Value: body}
}

// Body returns the asset content, decoding an attachment when present.
func (a Asset) Body() (string, error) {
	if a.Attachment == "" {
		return a.Value, nil
	}
	data, err := base64.StdEncoding.DecodeString(a.Attachment)
	if err != nil {
		return "", fmt.Errorf("decoding attachment %s: %w", a.Key, err)
	}
	return string(data), nil
}

type assetEnvelope struct {
	Asset Asset `json:"asset"`
}

// ErrorResponse is the REST error body. errors is either a string, a list
// or a field map depending on the endpoint.
type ErrorResponse struct {
	Errors json.RawMessage `json:"errors"`
}

// Message flattens the errors field into one line.
func (e ErrorResponse) Message() string {
	if len(e.Errors) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(e.Errors, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(e.Errors, &list) == nil && len(list) > 0 {
		return list[0]
	}
	var fields map[string][]string
	if json.Unmarshal(e.Errors, &fields) == nil {
		for field, msgs := range fields {
			if len(msgs) > 0 {
				return field + " " + msgs[0]
			}
		}
	}
	return string(e.Errors)
}

// WebPixel is the app pixel registered on a store.
type WebPixel struct {
	ID       string        `json:"id"`
	Settings PixelSettings `json:"-"`
}

// PixelSettings is stored on the pixel record and read by the pixel source.
type PixelSettings struct {
	Name        string `json:"name"`
	ContainerID string `json:"containerId"`
	EventPrefix string `json:"eventPrefix,omitempty"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type userError struct {
	Field   []string `json:"field"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
}

// AccessToken is the result of the OAuth code exchange.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}
