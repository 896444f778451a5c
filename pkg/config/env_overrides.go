package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies selected runtime environment variables into config.
// It returns true when any value changed so callers can persist updated config.
func applyEnvOverrides(cfg *Config) bool {
	if cfg == nil {
		return false
	}

	changed := false

	setString := func(dst *string, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		if *dst != value {
			*dst = value
			changed = true
		}
	}
	setInt := func(dst *int, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}
	setBool := func(dst *bool, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}

	env := func(keys ...string) string {
		for _, key := range keys {
			if value := strings.TrimSpace(os.Getenv(key)); value != "" {
				return value
			}
		}
		return ""
	}

	setString(&cfg.SessionName, env("WABRIDGE_SESSION_NAME"))
	setString(&cfg.StorePath, env("WABRIDGE_STORE_PATH"))
	setString(&cfg.Mode, env("WABRIDGE_MODE"))
	setString(&cfg.PhoneNumber, env("WABRIDGE_PHONE_NUMBER"))
	setBool(&cfg.Embedded, env("WABRIDGE_EMBEDDED"))

	setString(&cfg.API.Host, env("WABRIDGE_API_HOST"))
	setInt(&cfg.API.Port, env("WABRIDGE_API_PORT"))
	setString(&cfg.API.Token, env("WABRIDGE_API_TOKEN"))

	setString(&cfg.Storage.Type, env("WABRIDGE_STORAGE_TYPE"))
	setString(&cfg.Storage.FilePath, env("WABRIDGE_STORAGE_FILE_PATH"))
	setString(&cfg.Storage.DatabaseURL, env("WABRIDGE_STORAGE_DATABASE_URL"))

	setString(&cfg.Log.Level, env("WABRIDGE_LOG_LEVEL"))
	setBool(&cfg.Log.JSON, env("WABRIDGE_LOG_JSON"))

	setBool(&cfg.Digest.Enabled, env("WABRIDGE_DIGEST_ENABLED"))
	setString(&cfg.Digest.Schedule, env("WABRIDGE_DIGEST_SCHEDULE"))

	return changed
}
