// Package config loads typed configuration from environment variables.
//
// It combines github.com/joho/godotenv (optional .env files) with
// github.com/caarlos0/env/v11 (struct tag parsing) and caches each parsed
// configuration type for the lifetime of the process. Components declare
// their own config structs next to their code and cmd/billingd loads them
// through Load or MustLoad.
package config
