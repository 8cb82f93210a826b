/*
Package config loads the service settings from environment variables
and an optional .env file, with defaults for everything except the
database URL and the signing secret.
*/
package config
