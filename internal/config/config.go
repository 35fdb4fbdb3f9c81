package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOrigins []string

	// Resources lists the launchable resource ids registered at boot
	// under the built-in "resource" kind. Embedding applications
	// register richer kinds in code.
	Resources []string

	// PendingLoginTTL bounds how long a started login may wait for its
	// launch response.
	PendingLoginTTL time.Duration

	// PlatformKeyTTL is the optional cache window on platform JWKS
	// fetches. Zero disables caching (always fresh).
	PlatformKeyTTL time.Duration

	// JWKSMaxAge is the Cache-Control lifetime on the tool's own
	// published keyset.
	JWKSMaxAge time.Duration
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pub := envOr("PUBLIC_URL", "http://localhost:8080")
	return Config{
		HTTPAddr:        addr,
		PublicURL:       strings.TrimSuffix(pub, "/"),
		DBDriver:        envOr("DB_DRIVER", "sqlite"),
		DBDSN:           envOr("DB_DSN", ""),
		AdminUser:       envOr("ADMIN_USER", "admin"),
		AdminPassHash:   os.Getenv("ADMIN_PASS_HASH"),
		CORSOrigins:     csvOr("CORS_ORIGINS", "http://localhost:3000"),
		Resources:       csvOr("RESOURCES", ""),
		PendingLoginTTL: envDuration("PENDING_LOGIN_TTL", 5*time.Minute),
		PlatformKeyTTL:  envDuration("PLATFORM_KEY_TTL", 0),
		JWKSMaxAge:      envDuration("JWKS_MAX_AGE", 10*time.Minute),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
