package config

import "github.com/joho/godotenv"

// LoadDotEnv loads .env files into the environment. Variables that are
// already set win over file values.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}
