package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/datasetviz/datasetviz/internal/cli/datasetvizctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("DATASETVIZ_CLI_TIMEOUT")), 30*time.Second)
	options := datasetvizctl.Options{
		BaseURL: envOr("DATASETVIZ_API_URL", "http://localhost:8080"),
		Root:    strings.TrimSpace(os.Getenv("DATASETVIZ_CLI_ROOT")),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := datasetvizctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid DATASETVIZ_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
