package config

import (
	"flag"
	"os"
	"time"

	"github.com/keyfold/keyfold/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-kd int     daily retention buckets to keep
//	-kw int     weekly retention buckets to keep
//	-km int     monthly retention buckets to keep
//	-kv int     version retention buckets to keep
//	-kr int     latest revisions to keep
//	-mt string  maintenance time of day ("HH:MM")
//	-mw string  maintenance weekdays, comma separated (0=Sunday)
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in minutes and then converted to
// time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-r", "-kd", "-kw", "-km", "-kv", "-kr", "-mt", "-mw"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")

	fs.IntVar(&config.RetentionDaily, "kd", config.RetentionDaily, "daily retention buckets to keep")
	fs.IntVar(&config.RetentionWeekly, "kw", config.RetentionWeekly, "weekly retention buckets to keep")
	fs.IntVar(&config.RetentionMonthly, "km", config.RetentionMonthly, "monthly retention buckets to keep")
	fs.IntVar(&config.RetentionVersions, "kv", config.RetentionVersions, "version retention buckets to keep")
	fs.IntVar(&config.RetentionRevisions, "kr", config.RetentionRevisions, "latest revisions to keep")

	fs.StringVar(&config.MaintenanceTimeOfDay, "mt", config.MaintenanceTimeOfDay, "maintenance time of day (HH:MM)")
	maintenanceWeekdays := fs.String("mw", "", "maintenance weekdays, comma separated (0=Sunday)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *maintenanceWeekdays != "" {
		if days, ok := parseWeekdays(*maintenanceWeekdays); ok {
			config.MaintenanceWeekdays = days
		}
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
}
