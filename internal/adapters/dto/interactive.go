package dto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Interactive template types
const (
	TemplateQuickReply = "QuickReply"
	TemplateListPicker = "ListPicker"
)

// ErrUnsupportedTemplate is returned for interactive payloads we cannot render
var ErrUnsupportedTemplate = errors.New("unsupported interactive template")

// InteractiveMessage is a structured payload beyond plain text
type InteractiveMessage struct {
	TemplateType string `json:"templateType"`
	Version      string `json:"version"`
	Data         struct {
		Content InteractiveContent `json:"content"`
	} `json:"data"`
}

// InteractiveContent is shared by quick-reply and list-picker templates
type InteractiveContent struct {
	Title     string               `json:"title"`
	Subtitle  string               `json:"subtitle,omitempty"`
	ImageType string               `json:"imageType,omitempty"`
	ImageData string               `json:"imageData,omitempty"`
	Elements  []InteractiveElement `json:"elements"`
}

// InteractiveElement is one selectable option
type InteractiveElement struct {
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle,omitempty"`
	ImageType string `json:"imageType,omitempty"`
	ImageData string `json:"imageData,omitempty"`
}

// DecodeInteractive parses an interactive message payload.
// Only quick-reply and list-picker templates are supported.
func DecodeInteractive(data string) (*InteractiveMessage, error) {
	var msg InteractiveMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("decode interactive content: %w", err)
	}

	switch msg.TemplateType {
	case TemplateQuickReply, TemplateListPicker:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTemplate, msg.TemplateType)
	}

	if msg.Data.Content.Title == "" {
		return nil, fmt.Errorf("decode interactive content: missing title")
	}

	return &msg, nil
}
