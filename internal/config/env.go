// Package config loads runtime configuration for the pair-trading core from
// the process environment (prefix TS_), with an optional .env file for local
// development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "TS_"

// LoadDotEnv loads ./.env and ../.env if present. Missing files are not an
// error; existing process environment variables are never overridden.
func LoadDotEnv() {
	for _, path := range []string{".env", "../.env"} {
		_ = godotenv.Load(path)
	}
}

func key(name string) string {
	return envPrefix + name
}

func getEnv(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(key(name))); v != "" {
		return v
	}
	return def
}

func getEnvInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(key(name)))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloat(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key(name)))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key(name))))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

// getEnvList splits a comma-separated env var, trimming whitespace and
// dropping empty elements. Returns def when the variable is unset.
func getEnvList(name string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key(name)))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
