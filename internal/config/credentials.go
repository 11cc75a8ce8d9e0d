package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvEmail    = "REPLIKA_CLIENT_EMAIL"
	EnvPassword = "REPLIKA_CLIENT_PASSWORD"
)

// Credentials identify the account used to log in to the companion site.
type Credentials struct {
	Email    string
	Password string
}

// LoadCredentials reads credentials from the environment after loading
// envFile (if it exists). Variables already set in the environment win
// over the file.
func LoadCredentials(envFile string) (Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	creds := Credentials{
		Email:    strings.TrimSpace(os.Getenv(EnvEmail)),
		Password: os.Getenv(EnvPassword),
	}

	var missing []string
	if creds.Email == "" {
		missing = append(missing, EnvEmail)
	}
	if creds.Password == "" {
		missing = append(missing, EnvPassword)
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("missing credentials: %s not set", strings.Join(missing, ", "))
	}
	return creds, nil
}
