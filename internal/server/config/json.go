package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/safechat/internal/flagx"
	"github.com/dmitrijs2005/safechat/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Duration fields use
// timex.Duration so both "5s" and integer nanoseconds parse.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	ReadGraceWindow             timex.Duration `json:"read_grace_window"`
	IdleTimeout                 timex.Duration `json:"idle_timeout"`
	HistoryPageSize             int            `json:"history_page_size"`
	RedisAddr                   string         `json:"redis_addr"`
	SendBuffer                  int            `json:"send_buffer"`
	LogLevel                    string         `json:"log_level"`
}

// parseJson overlays values from the file named by -c/-config (or
// SAFECHAT_CONFIG) onto config. Keys absent from the file keep their current
// value. An unreadable or invalid file panics: the server must not start on
// a half-applied configuration.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigFilePath()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	overlayString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	overlayString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	overlayString(&config.DatabaseDSN, c.DatabaseDSN)
	overlayString(&config.SecretKey, c.SecretKey)
	overlayString(&config.RedisAddr, c.RedisAddr)
	overlayString(&config.LogLevel, c.LogLevel)

	if c.AccessTokenValidityDuration.Duration > 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.ReadGraceWindow.Duration > 0 {
		config.ReadGraceWindow = c.ReadGraceWindow.Duration
	}
	if c.IdleTimeout.Duration > 0 {
		config.IdleTimeout = c.IdleTimeout.Duration
	}
	if c.HistoryPageSize > 0 {
		config.HistoryPageSize = c.HistoryPageSize
	}
	if c.SendBuffer > 0 {
		config.SendBuffer = c.SendBuffer
	}
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
