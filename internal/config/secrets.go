package config

import (
	"os"
	"path/filepath"
	"strings"
)

// secretsDir is where container orchestrators mount file-based
// secrets. Overridden in tests.
var secretsDir = "/run/secrets"

// readSecret resolves a named secret: a file under the secrets
// directory wins, then the environment variable with the name
// upper-cased and dashes replaced by underscores. Returns "" when
// neither exists.
func readSecret(name string) string {
	path := filepath.Join(secretsDir, name)
	if data, err := os.ReadFile(path); err == nil {
		return strings.TrimSpace(string(data))
	}
	envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return os.Getenv(envName)
}

// ResolveSecrets fills any credential field left empty by the config
// file from the secrets directory or environment. Fields already set
// in the file (directly or via ${VAR} expansion) are left alone.
func (c *Config) ResolveSecrets() {
	fill := func(field *string, name string) {
		if *field == "" {
			*field = readSecret(name)
		}
	}

	fill(&c.Ngenic.RefreshToken, "ngenic_refresh_token")
	fill(&c.Ngenic.ClientSecret, "ngenic_client_secret")
	fill(&c.Netatmo.ClientID, "netatmo_client_id")
	fill(&c.Netatmo.ClientSecret, "netatmo_client_secret")
	fill(&c.Netatmo.Username, "netatmo_username")
	fill(&c.Netatmo.Password, "netatmo_password")
}
