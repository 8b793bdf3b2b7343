package config

import (
	"encoding/json"
	"os"

	"github.com/keyfold/keyfold/internal/flagx"
	"github.com/keyfold/keyfold/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "90s" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct which
// uses time.Duration.
type JsonConfig struct {
	EndpointAddr                 string         `json:"endpoint_addr"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	LoginSessionTTL              timex.Duration `json:"login_session_ttl"`
	LoginRateLimit               float64        `json:"login_rate_limit"`
	LoginRateBurst               int            `json:"login_rate_burst"`
	RetentionDaily               int            `json:"retention_daily"`
	RetentionWeekly              int            `json:"retention_weekly"`
	RetentionMonthly             int            `json:"retention_monthly"`
	RetentionVersions            int            `json:"retention_versions"`
	RetentionRevisions           int            `json:"retention_revisions"`
	MaintenanceTimeOfDay         string         `json:"maintenance_time_of_day"`
	MaintenanceWeekdays          []int          `json:"maintenance_weekdays"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; if neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	config.LoginSessionTTL = c.LoginSessionTTL.Duration
	config.LoginRateLimit = c.LoginRateLimit
	config.LoginRateBurst = c.LoginRateBurst
	config.RetentionDaily = c.RetentionDaily
	config.RetentionWeekly = c.RetentionWeekly
	config.RetentionMonthly = c.RetentionMonthly
	config.RetentionVersions = c.RetentionVersions
	config.RetentionRevisions = c.RetentionRevisions
	config.MaintenanceTimeOfDay = c.MaintenanceTimeOfDay
	config.MaintenanceWeekdays = c.MaintenanceWeekdays
}
