package core

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/grading"
	"github.com/qquiz/qquiz/internal/ingest"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/rs/zerolog/log"
)

// Keys of the system_config table.
const (
	settingAllowRegistration = "allow_registration"
	settingMaxUploadSizeMB   = "max_upload_size_mb"
	settingMaxDailyUploads   = "max_daily_uploads"
	settingAIProvider        = "ai_provider"
	settingLLMModel          = "llm_model"
	settingLLMBaseURL        = "llm_base_url"
	settingLLMAPIKey         = "llm_api_key"
)

// ErrInvalidSettings wraps a rejected settings update.
var ErrInvalidSettings = errors.New("invalid settings")

var aiProviders = []string{"rules", "openai", "ollama"}

func (a *App) defaultSettings() models.SystemSettings {
	provider := strings.ToLower(a.config.Ingest.Extractor)
	if provider == "" {
		provider = "rules"
	}
	return models.SystemSettings{
		AllowRegistration: a.config.Auth.AllowRegistration,
		MaxUploadSizeMB:   a.config.Upload.MaxSizeMB,
		MaxDailyUploads:   a.config.Upload.MaxDaily,
		AIProvider:        provider,
		LLMModel:          a.config.LLM.Model,
		LLMBaseURL:        a.config.LLM.BaseURL,
		LLMAPIKey:         a.config.LLM.APIKey,
	}
}

// Settings returns the effective system settings: stored values over the
// config file. A stored value that does not parse is ignored.
func (a *App) Settings() (models.SystemSettings, error) {
	settings := a.defaultSettings()
	stored, err := a.store.GetSettings()
	if err != nil {
		return settings, err
	}
	for key, value := range stored {
		switch key {
		case settingAllowRegistration:
			if b, err := strconv.ParseBool(value); err == nil {
				settings.AllowRegistration = b
			}
		case settingMaxUploadSizeMB:
			if n, err := strconv.Atoi(value); err == nil {
				settings.MaxUploadSizeMB = n
			}
		case settingMaxDailyUploads:
			if n, err := strconv.Atoi(value); err == nil {
				settings.MaxDailyUploads = n
			}
		case settingAIProvider:
			settings.AIProvider = value
		case settingLLMModel:
			settings.LLMModel = value
		case settingLLMBaseURL:
			settings.LLMBaseURL = value
		case settingLLMAPIKey:
			settings.LLMAPIKey = value
		default:
			log.Debug().Str("key", key).Msg("Ignoring unknown system setting")
		}
	}
	return settings, nil
}

// UpdateSettings validates and stores the fields set in u. A change of AI
// provider or model takes effect for the next parse and answer check.
func (a *App) UpdateSettings(u models.SettingsUpdate) (models.SystemSettings, error) {
	current, err := a.Settings()
	if err != nil {
		return current, err
	}
	next := current
	values := make(map[string]string)

	if u.AllowRegistration != nil {
		next.AllowRegistration = *u.AllowRegistration
		values[settingAllowRegistration] = strconv.FormatBool(next.AllowRegistration)
	}
	if u.MaxUploadSizeMB != nil {
		if *u.MaxUploadSizeMB <= 0 {
			return current, fmt.Errorf("%w: max_upload_size_mb must be positive", ErrInvalidSettings)
		}
		next.MaxUploadSizeMB = *u.MaxUploadSizeMB
		values[settingMaxUploadSizeMB] = strconv.Itoa(next.MaxUploadSizeMB)
	}
	if u.MaxDailyUploads != nil {
		if *u.MaxDailyUploads < 0 {
			return current, fmt.Errorf("%w: max_daily_uploads must not be negative", ErrInvalidSettings)
		}
		next.MaxDailyUploads = *u.MaxDailyUploads
		values[settingMaxDailyUploads] = strconv.Itoa(next.MaxDailyUploads)
	}
	if u.AIProvider != nil {
		provider := strings.ToLower(strings.TrimSpace(*u.AIProvider))
		if !slices.Contains(aiProviders, provider) {
			return current, fmt.Errorf("%w: ai_provider must be one of %s", ErrInvalidSettings, strings.Join(aiProviders, ", "))
		}
		next.AIProvider = provider
		values[settingAIProvider] = provider
	}
	if u.LLMModel != nil {
		next.LLMModel = strings.TrimSpace(*u.LLMModel)
		values[settingLLMModel] = next.LLMModel
	}
	if u.LLMBaseURL != nil {
		next.LLMBaseURL = strings.TrimSpace(*u.LLMBaseURL)
		values[settingLLMBaseURL] = next.LLMBaseURL
	}
	// A masked key sent back unchanged keeps the stored key.
	if u.LLMAPIKey != nil && *u.LLMAPIKey != MaskAPIKey(current.LLMAPIKey) {
		next.LLMAPIKey = strings.TrimSpace(*u.LLMAPIKey)
		values[settingLLMAPIKey] = next.LLMAPIKey
	}

	if len(values) == 0 {
		return current, nil
	}

	aiChanged := next.AIProvider != current.AIProvider || next.LLMModel != current.LLMModel ||
		next.LLMBaseURL != current.LLMBaseURL || next.LLMAPIKey != current.LLMAPIKey
	var extractor ingest.Extractor
	var grader grading.Grader
	if aiChanged {
		if extractor, grader, err = a.buildModels(next); err != nil {
			return current, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}

	if err := a.store.PutSettings(values); err != nil {
		return current, err
	}
	if aiChanged {
		a.mu.Lock()
		a.extractor, a.grader = extractor, grader
		a.mu.Unlock()
		log.Info().Str("provider", next.AIProvider).Str("model", next.LLMModel).Msg("AI provider reconfigured")
	}
	return next, nil
}

func (a *App) configureModels(s models.SystemSettings) error {
	extractor, grader, err := a.buildModels(s)
	if err != nil {
		return fmt.Errorf("failed to create question extractor: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extractor, a.grader = extractor, grader
	return nil
}

func (a *App) buildModels(s models.SystemSettings) (ingest.Extractor, grading.Grader, error) {
	cfg := *a.config
	cfg.Ingest.Extractor = s.AIProvider
	cfg.LLM = config.LLMConfig{Model: s.LLMModel, BaseURL: s.LLMBaseURL, APIKey: s.LLMAPIKey}

	extractor, err := ingest.NewExtractor(&cfg)
	if err != nil {
		return nil, nil, err
	}
	grader, err := grading.New(s.AIProvider, cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	return extractor, grader, nil
}

// MaskAPIKey hides all but the first 10 and last 4 characters of a key.
// Short keys are hidden entirely.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) < 20:
		return "***"
	default:
		return key[:10] + "..." + key[len(key)-4:]
	}
}
