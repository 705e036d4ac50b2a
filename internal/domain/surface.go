package domain

import "strings"

// ============================================================
// Surface metadata & capabilities
// ============================================================

// SurfaceCategory groups surfaces by how they are reached.
type SurfaceCategory string

const (
	CategoryAPI        SurfaceCategory = "api"
	CategoryWebChatbot SurfaceCategory = "web_chatbot"
	CategorySearch     SurfaceCategory = "search"
)

// AuthRequirement describes what a surface needs before it answers.
type AuthRequirement string

const (
	AuthNone    AuthRequirement = "none"
	AuthAPIKey  AuthRequirement = "api_key"
	AuthSession AuthRequirement = "session"
	AuthOAuth   AuthRequirement = "oauth"
)

// Capabilities lists the optional features a surface supports.
type Capabilities struct {
	Streaming           bool `json:"streaming" yaml:"streaming"`
	SystemPrompts       bool `json:"systemPrompts" yaml:"system_prompts"`
	ConversationHistory bool `json:"conversationHistory" yaml:"conversation_history"`
	FileUploads         bool `json:"fileUploads" yaml:"file_uploads"`
	ModelSelection      bool `json:"modelSelection" yaml:"model_selection"`
	ResponseFormat      bool `json:"responseFormat" yaml:"response_format"`
	MaxInputTokens      int  `json:"maxInputTokens,omitempty" yaml:"max_input_tokens,omitempty"`
	MaxOutputTokens     int  `json:"maxOutputTokens,omitempty" yaml:"max_output_tokens,omitempty"`
}

// SurfaceMetadata is the static description of one surface.
// It is immutable once registered; the registry hands out copies.
type SurfaceMetadata struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Category           SurfaceCategory `json:"category"`
	Auth               AuthRequirement `json:"authRequirement"`
	Capabilities       Capabilities    `json:"capabilities"`
	RateLimitPerMinute int             `json:"rateLimitPerMinute"`
	Enabled            bool            `json:"enabled"`
}

// IsBrowserBacked reports whether the surface is driven through a browser session.
func (m SurfaceMetadata) IsBrowserBacked() bool {
	return m.Category == CategoryWebChatbot || m.Category == CategorySearch
}

// SurfaceKind derives the coarse kind from the surface id suffix
// ("-api", "-web", "-search"), falling back to the category.
func SurfaceKind(surfaceID string, category SurfaceCategory) string {
	switch {
	case strings.HasSuffix(surfaceID, "-api"):
		return "api"
	case strings.HasSuffix(surfaceID, "-web"):
		return "web"
	case strings.HasSuffix(surfaceID, "-search"):
		return "search"
	}
	switch category {
	case CategoryAPI:
		return "api"
	case CategorySearch:
		return "search"
	case CategoryWebChatbot:
		return "web"
	}
	return "unknown"
}
