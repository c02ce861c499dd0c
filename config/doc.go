// Package config loads blinkrelay settings.
//
// Settings are resolved in layers, each overriding the one before:
//
//  1. Built-in defaults (Default)
//  2. JSON files added with AddLayer, deep-merged key by key
//  3. .env files added with AddDotEnv (never overriding the real environment)
//  4. BLINKRELAY_* environment variables, plus the legacy SEND_RAW=1 switch
//
// Command-line flags are applied by the caller on top of the loaded Config.
//
// # Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("blinkrelay.json")
//	loader.AddDotEnv(".env")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//	    return err // invalid configuration is fatal
//	}
//
// Durations in JSON are Go duration strings ("350ms", "10s"). The debounce
// window from the environment also accepts a bare number of milliseconds.
//
// File reads are bounded in size and JSON nesting depth, and only .json files
// inside the working directory tree or at absolute paths are accepted.
package config
