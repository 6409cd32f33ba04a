// Package config loads the CLI configuration file. The file is an INI with
// [auth], [site], and [battery] sections; only auth and site are required.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/kyosol/kyosol/pkg/types"
)

// DefaultBaseURL is the portal host used when the config does not override it.
const DefaultBaseURL = "https://sr.en.kyocera-solar.jp"

const (
	defaultLocation        = "Japan"
	defaultCapacityKWH     = 7.0
	defaultReservePercent  = 30
	defaultConfigFileType  = "ini"
)

// Load reads the config file at path and returns the site configuration and
// credentials. Missing optional values fall back to defaults; missing
// required values are an error.
func Load(path string) (types.SiteConfig, types.Credentials, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(defaultConfigFileType)
	v.SetDefault("site.base_url", DefaultBaseURL)
	v.SetDefault("site.location", defaultLocation)
	v.SetDefault("battery.capacity_kwh", defaultCapacityKWH)
	v.SetDefault("battery.reserve_percent", defaultReservePercent)

	if err := v.ReadInConfig(); err != nil {
		return types.SiteConfig{}, types.Credentials{}, fmt.Errorf("could not read configuration file at %s: %w", path, err)
	}

	creds := types.Credentials{
		Email:    strings.TrimSpace(v.GetString("auth.email")),
		Password: strings.TrimSpace(v.GetString("auth.password")),
	}
	if creds.Email == "" || creds.Password == "" {
		return types.SiteConfig{}, types.Credentials{}, fmt.Errorf("missing [auth] section with email/password in %s", path)
	}

	cfg := types.SiteConfig{
		OrganizationID:        strings.TrimSpace(v.GetString("site.organization_id")),
		SiteID:                strings.TrimSpace(v.GetString("site.site_id")),
		BaseURL:               strings.TrimSpace(v.GetString("site.base_url")),
		Location:              strings.TrimSpace(v.GetString("site.location")),
		BatteryCapacityKWH:    v.GetFloat64("battery.capacity_kwh"),
		BatteryReservePercent: v.GetInt("battery.reserve_percent"),
	}
	if cfg.OrganizationID == "" || cfg.SiteID == "" {
		return types.SiteConfig{}, types.Credentials{}, fmt.Errorf("missing [site] section with organization_id/site_id in %s", path)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Location == "" {
		cfg.Location = defaultLocation
	}

	return cfg, creds, nil
}
