// Package config parses the environment-variable contract shared by
// escribad and escriba-agent: the database connection string, the log
// level, and the node's advertised services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ServiceSpec is one entry of ESCRIBA_SERVICES: a service name, the
// number of concurrent listeners an agent should run for it, and the
// helper program to invoke for each request.
type ServiceSpec struct {
	Name        string
	Concurrency int
	Program     string
}

// ParseServices parses the ESCRIBA_SERVICES contract: a comma-separated
// list of "name:concurrency:program" triples, e.g.
// "title:4:/usr/bin/escriba-title,wget:2:/usr/bin/wget". An empty or
// unset string yields no services, matching a client-only node.
func ParseServices(raw string) ([]ServiceSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	entries := strings.Split(raw, ",")
	specs := make([]ServiceSpec, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("config: malformed service entry %q, want name:concurrency:program", entry)
		}
		name, concurStr, program := parts[0], parts[1], parts[2]
		if name == "" || program == "" {
			return nil, fmt.Errorf("config: malformed service entry %q, want name:concurrency:program", entry)
		}
		concur, err := strconv.Atoi(concurStr)
		if err != nil {
			return nil, fmt.Errorf("config: invalid concurrency in service entry %q: %w", entry, err)
		}
		if concur < 1 {
			return nil, fmt.Errorf("config: concurrency must be at least 1 in service entry %q", entry)
		}
		specs = append(specs, ServiceSpec{Name: name, Concurrency: concur, Program: program})
	}
	return specs, nil
}

// NodeServices reads and parses ESCRIBA_SERVICES from the environment.
func NodeServices() ([]ServiceSpec, error) {
	return ParseServices(os.Getenv("ESCRIBA_SERVICES"))
}

// DBURI returns ESCRIBA_DB_URI, defaulting to an in-memory sqlite
// database when unset.
func DBURI() string {
	return EnvOrDefault("ESCRIBA_DB_URI", ":memory:")
}

// LogLevel returns ESCRIBA_LOG_LEVEL, defaulting to "info".
func LogLevel() string {
	return EnvOrDefault("ESCRIBA_LOG_LEVEL", "info")
}

// EnvOrDefault returns the environment variable named key, or
// defaultVal if it is unset or empty.
func EnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
