package logger

import "strings"

var secretKeys = []string{"token", "password", "secret", "authorization", "api_key"}

func redactValue(key, val string) string {
	key = strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return RedactSecret(val)
		}
	}
	return val
}

// RedactSecret masks a credential for safe logging, keeping a short prefix so
// two different tokens can still be told apart in logs.
// "eyJhbGciOiJIUzI1NiJ9.abc" → "eyJh***"
// Values of 8 characters or fewer are fully masked.
func RedactSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}
