package app

import (
	"strings"

	"github.com/tallycache/tally/internal/database"
)

// ConnectionConfig converts the application database configuration into the
// database package representation, folding in the driver-specific host block.
func (d DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(d.Driver)),
		Path:   d.Path,
		DSN:    strings.TrimSpace(d.DSN),
	}

	var auth DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		auth = d.Postgres
	case "mysql":
		auth = d.MySQL
	default:
		return cfg
	}

	cfg.Host = auth.Host
	cfg.Port = auth.Port
	cfg.Name = auth.Database
	cfg.User = auth.Username
	cfg.Password = auth.Password
	return cfg
}
