package models

// SystemSettings are the runtime settings an admin can change without a
// restart. Values not stored in the database fall back to the config file.
type SystemSettings struct {
	AllowRegistration bool   `json:"allow_registration"`
	MaxUploadSizeMB   int    `json:"max_upload_size_mb"`
	MaxDailyUploads   int    `json:"max_daily_uploads"`
	AIProvider        string `json:"ai_provider"` // "rules", "openai" or "ollama"
	LLMModel          string `json:"llm_model"`
	LLMBaseURL        string `json:"llm_base_url"`
	LLMAPIKey         string `json:"llm_api_key"`
}

// SettingsUpdate carries the settings to change; nil fields are left alone.
type SettingsUpdate struct {
	AllowRegistration *bool   `json:"allow_registration"`
	MaxUploadSizeMB   *int    `json:"max_upload_size_mb"`
	MaxDailyUploads   *int    `json:"max_daily_uploads"`
	AIProvider        *string `json:"ai_provider"`
	LLMModel          *string `json:"llm_model"`
	LLMBaseURL        *string `json:"llm_base_url"`
	LLMAPIKey         *string `json:"llm_api_key"`
}
