package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envOr parses the variable named key, falling back to def when it is unset,
// blank or unparsable.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, def string) string {
	return envOr(key, def, func(s string) (string, error) { return s, nil })
}

func getEnvInt(key string, def int) int {
	return envOr(key, def, strconv.Atoi)
}

func getEnvInt64(key string, def int64) int64 {
	return envOr(key, def, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

func getEnvFloat(key string, def float64) float64 {
	return envOr(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvBool(key string, def bool) bool {
	return envOr(key, def, strconv.ParseBool)
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	return envOr(key, def, time.ParseDuration)
}

// getEnvSlice splits a comma-separated list, dropping empty items.
func getEnvSlice(key string, def []string) []string {
	return envOr(key, def, func(s string) ([]string, error) {
		return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }), nil
	})
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
