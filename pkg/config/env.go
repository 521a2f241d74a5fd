package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

// LoadDotEnv loads a .env file if present. Missing files are not an error;
// real environment variables always win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// ExpandEnvVars substitutes ${VAR}, ${VAR:-default}, and $VAR references.
func ExpandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := os.Getenv(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// expandMapEnvVars walks a parsed config tree expanding string values.
func expandMapEnvVars(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return ExpandEnvVars(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = expandMapEnvVars(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = expandMapEnvVars(item)
		}
		return out
	default:
		return v
	}
}

// FromEnv builds a zero-config Config from environment variables alone:
// provider keys picked up from the usual env names, everything else
// defaulted. This is the "no config file" serve path.
func FromEnv() *Config {
	cfg := &Config{
		Environment:   os.Getenv("TORII_ENVIRONMENT"),
		EncryptionKey: os.Getenv("TORII_ENCRYPTION_KEY"),
		Providers:     map[string]*ModelProviderConfig{},
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Providers["openai"] = &ModelProviderConfig{APIKey: key}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Providers["anthropic"] = &ModelProviderConfig{APIKey: key}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Providers["gemini"] = &ModelProviderConfig{APIKey: key}
	}

	if secret := os.Getenv("TORII_JWT_SECRET"); secret != "" {
		cfg.Auth.Enabled = true
		cfg.Auth.Secret = secret
	}

	if origins := os.Getenv("TORII_CORS_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.Server.CORSOrigins = append(cfg.Server.CORSOrigins, origin)
			}
		}
	}

	cfg.SetDefaults()
	return cfg
}
