package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ApplyFile overlays values from a YAML or JSON config file. Only keys present
// in the file replace the environment-derived values.
//
// Recognised keys:
//
//	login_url, case_url_template
//	database.{host,port,user,password,name,ssl_mode}
//	extraction.{max_history_pages,default_order_type,fallback_lienholder,placeholder_amount,known_clients}
//	extraction.dedup.{fee_amount_only_minimum,update_large_amount,update_small_amount}
//	fee_categories: [{name, keywords, color}, ...]
func (c *Config) ApplyFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if v.IsSet("login_url") {
		c.Portal.LoginURL = v.GetString("login_url")
	}
	if v.IsSet("case_url_template") {
		c.Portal.CaseURLTemplate = v.GetString("case_url_template")
	}

	if v.IsSet("database.host") {
		c.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		c.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		c.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		c.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.name") {
		c.Database.Database = v.GetString("database.name")
	}
	if v.IsSet("database.ssl_mode") {
		c.Database.SSLMode = v.GetString("database.ssl_mode")
	}

	if v.IsSet("extraction.max_history_pages") {
		c.Extraction.MaxHistoryPages = v.GetInt("extraction.max_history_pages")
	}
	if v.IsSet("extraction.default_order_type") {
		c.Extraction.DefaultOrderType = v.GetString("extraction.default_order_type")
	}
	if v.IsSet("extraction.fallback_lienholder") {
		c.Extraction.FallbackLienholder = v.GetString("extraction.fallback_lienholder")
	}
	if v.IsSet("extraction.placeholder_amount") {
		c.Extraction.PlaceholderAmount = v.GetString("extraction.placeholder_amount")
	}
	if v.IsSet("extraction.known_clients") {
		c.Extraction.KnownClients = v.GetStringSlice("extraction.known_clients")
	}
	if v.IsSet("extraction.dedup.fee_amount_only_minimum") {
		c.Extraction.Dedup.FeeAmountOnlyMinimum = v.GetFloat64("extraction.dedup.fee_amount_only_minimum")
	}
	if v.IsSet("extraction.dedup.update_large_amount") {
		c.Extraction.Dedup.UpdateLargeAmount = v.GetFloat64("extraction.dedup.update_large_amount")
	}
	if v.IsSet("extraction.dedup.update_small_amount") {
		c.Extraction.Dedup.UpdateSmallAmount = v.GetFloat64("extraction.dedup.update_small_amount")
	}

	// A list keeps the category order, which decides classification ties.
	if v.IsSet("fee_categories") {
		var cats []FeeCategoryConfig
		if err := v.UnmarshalKey("fee_categories", &cats); err != nil {
			return fmt.Errorf("failed to decode fee_categories: %w", err)
		}
		c.Extraction.FeeCategories = cats
	}

	return nil
}
