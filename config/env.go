package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/niftyalgo/trader/broker"
)

// LoadEnv loads a .env file into the process environment when one is
// present. A missing file is not an error; real deployments set the
// variables directly.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Credentials reads broker credentials for one account from the
// environment: <CLIENTCODE>_PASSWORD, <CLIENTCODE>_TOTP_SECRET and
// <CLIENTCODE>_API_KEY. A missing variable disables that account only;
// the caller decides whether to keep trading the rest.
func Credentials(clientCode string) (broker.Credentials, error) {
	prefix := strings.ToUpper(clientCode)

	creds := broker.Credentials{ClientCode: clientCode}
	for _, v := range []struct {
		suffix string
		dst    *string
	}{
		{"PASSWORD", &creds.Password},
		{"TOTP_SECRET", &creds.TOTP},
		{"API_KEY", &creds.APIKey},
	} {
		key := prefix + "_" + v.suffix
		val := os.Getenv(key)
		if val == "" {
			return broker.Credentials{}, fmt.Errorf("credentials for %s: %s not set", clientCode, key)
		}
		*v.dst = val
	}
	return creds, nil
}

// AIKey returns the API key for the plan endpoint, preferring
// AI_API_KEY and falling back to OPENAI_API_KEY.
func AIKey() (string, error) {
	if k := os.Getenv("AI_API_KEY"); k != "" {
		return k, nil
	}
	if k := os.Getenv("OPENAI_API_KEY"); k != "" {
		return k, nil
	}
	return "", fmt.Errorf("neither AI_API_KEY nor OPENAI_API_KEY is set")
}
