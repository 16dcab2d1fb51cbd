package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/safechat/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP/websocket bind address (e.g., ":8080")
//	-g string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-w int      read grace window, seconds
//	-i int      websocket idle timeout, seconds
//	-l int      history page size
//	-r string   Redis address for the relay
//	-b int      per-session send buffer
//	-v string   log level
//
// Durations are accepted as integers and converted to time.Duration.
// Unknown flags are filtered out beforehand; a malformed value panics.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-s", "-t", "-w", "-i", "-l", "-r", "-b", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run the HTTP server")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port to run the gRPC health server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	graceWindow := fs.Int("w", int(config.ReadGraceWindow.Seconds()), "read grace window (in seconds)")
	idleTimeout := fs.Int("i", int(config.IdleTimeout.Seconds()), "websocket idle timeout (in seconds)")

	fs.IntVar(&config.HistoryPageSize, "l", config.HistoryPageSize, "history page size")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address (empty disables relay)")
	fs.IntVar(&config.SendBuffer, "b", config.SendBuffer, "per-session send buffer")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Only explicitly given duration flags are applied, so sub-unit values
	// from the JSON file survive.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidity) * time.Minute
		case "w":
			config.ReadGraceWindow = time.Duration(*graceWindow) * time.Second
		case "i":
			config.IdleTimeout = time.Duration(*idleTimeout) * time.Second
		}
	})
}
