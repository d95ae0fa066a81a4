package lenslink

import (
	"encoding/json"
	"os"
)

// SettingType tags the value kind of a declared setting.
type SettingType string

// Setting value kinds. Group entries carry no value and only affect display
// grouping in the companion app.
const (
	SettingToggle SettingType = "toggle"
	SettingSlider SettingType = "slider"
	SettingText   SettingType = "text"
	SettingSelect SettingType = "select"
	SettingGroup  SettingType = "group"
)

// SettingOption is one choice of a select setting.
type SettingOption struct {
	Label string      `json:"label,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// Setting is one key/value record in a settings snapshot. The settings list
// carries no duplicate keys; ordering follows the configuration document and
// has no meaning beyond display grouping.
type Setting struct {
	Key          string          `json:"key,omitempty"`
	Type         SettingType     `json:"type,omitempty"`
	Label        string          `json:"label,omitempty"`
	Title        string          `json:"title,omitempty"`
	Value        interface{}     `json:"value,omitempty"`
	DefaultValue interface{}     `json:"defaultValue,omitempty"`
	Min          *float64        `json:"min,omitempty"`
	Max          *float64        `json:"max,omitempty"`
	Options      []SettingOption `json:"options,omitempty"`
}

func settingValue(settings []Setting, key string) (interface{}, bool) {
	for _, setting := range settings {
		if setting.Key == key {
			return setting.Value, true
		}
	}
	return nil, false
}

func cloneSettings(settings []Setting) []Setting {
	if settings == nil {
		return nil
	}
	out := make([]Setting, len(settings))
	copy(out, settings)
	return out
}

// AppConfig is the static configuration document describing an app and the
// settings it declares. When the cloud acknowledges a connection without a
// settings snapshot, defaults are derived from this document.
type AppConfig struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty"`
	Settings    []Setting `json:"settings,omitempty"`
}

// LoadAppConfig reads and validates an app configuration document from a
// JSON file.
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(ValidationError, err)
	}

	var config AppConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewError(ValidationError, err)
	}
	if err := validateAppConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validateAppConfig(config *AppConfig) error {
	if config == nil {
		return NewError(ValidationError, "nil app config")
	}
	if config.Name == "" {
		return NewError(ValidationError, "app config has no name")
	}
	for _, setting := range config.Settings {
		if setting.Type == SettingGroup {
			continue
		}
		if setting.Key == "" {
			return NewError(ValidationError, "app config setting has no key")
		}
	}
	return nil
}

// DefaultSettings derives a settings snapshot from the declared defaults,
// skipping group entries.
func (config *AppConfig) DefaultSettings() []Setting {
	if config == nil {
		return nil
	}

	settings := make([]Setting, 0, len(config.Settings))
	for _, declared := range config.Settings {
		if declared.Type == SettingGroup {
			continue
		}
		setting := declared
		setting.Value = declared.DefaultValue
		settings = append(settings, setting)
	}
	return settings
}
