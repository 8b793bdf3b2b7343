package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// parseWeekdays parses a comma-separated weekday list like "1,2,3,4,5".
// Values outside 0..6 or non-numeric input reject the whole list.
func parseWeekdays(s string) ([]int, bool) {
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			return nil, false
		}
		days = append(days, n)
	}
	return days, true
}

// parseEnv overlays Config fields from environment variables. A variable
// that is unset or fails to parse leaves the current value in place.
// Durations use time.ParseDuration syntax ("10m", "240h").
func parseEnv(config *Config) {
	if v, ok := os.LookupEnv("KEYFOLD_ADDR"); ok {
		config.EndpointAddr = v
	}
	if v, ok := os.LookupEnv("KEYFOLD_DATABASE_DSN"); ok {
		config.DatabaseDSN = v
	}
	if v, ok := os.LookupEnv("KEYFOLD_SECRET_KEY"); ok {
		config.SecretKey = v
	}
	if v, ok := os.LookupEnv("KEYFOLD_ACCESS_TOKEN_VALIDITY"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			config.AccessTokenValidityDuration = d
		}
	}
	if v, ok := os.LookupEnv("KEYFOLD_REFRESH_TOKEN_VALIDITY"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			config.RefreshTokenValidityDuration = d
		}
	}
	if v, ok := os.LookupEnv("KEYFOLD_LOGIN_SESSION_TTL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			config.LoginSessionTTL = d
		}
	}
	if v, ok := os.LookupEnv("KEYFOLD_LOGIN_RATE_LIMIT"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.LoginRateLimit = f
		}
	}
	if v, ok := os.LookupEnv("KEYFOLD_LOGIN_RATE_BURST"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.LoginRateBurst = n
		}
	}
	if v, ok := os.LookupEnv("KEYFOLD_MAINTENANCE_TIME"); ok {
		config.MaintenanceTimeOfDay = v
	}
	if v, ok := os.LookupEnv("KEYFOLD_MAINTENANCE_WEEKDAYS"); ok {
		if days, ok := parseWeekdays(v); ok {
			config.MaintenanceWeekdays = days
		}
	}
	for env, dst := range map[string]*int{
		"KEYFOLD_RETENTION_DAILY":     &config.RetentionDaily,
		"KEYFOLD_RETENTION_WEEKLY":    &config.RetentionWeekly,
		"KEYFOLD_RETENTION_MONTHLY":   &config.RetentionMonthly,
		"KEYFOLD_RETENTION_VERSIONS":  &config.RetentionVersions,
		"KEYFOLD_RETENTION_REVISIONS": &config.RetentionRevisions,
	} {
		if v, ok := os.LookupEnv(env); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
}
