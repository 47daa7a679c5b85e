package config

import "fmt"

// RequireServe reports the first missing setting needed to run the HTTP server.
func (c Config) RequireServe() error {
	if err := c.RequireDB(); err != nil {
		return err
	}
	if len(c.JWTAccessSecret) == 0 {
		return missing("JWT_SECRET")
	}
	if len(c.JWTRefreshSecret) == 0 {
		return missing("JWT_REFRESH_SECRET")
	}
	return nil
}

func (c Config) RequireDB() error {
	if c.DatabaseURL == "" {
		return missing("DATABASE_URL")
	}
	return nil
}

func missing(name string) error {
	return fmt.Errorf("missing required env %s", name)
}
