// Package config resolves the configuration of a certificate provisioning
// run.
//
// Resolution order is DefaultConfig, then an optional YAML file with
// ${VAR:-default} substitution, then environment variables. The environment
// keeps the historical names USE_OPENSSL, NODE_ALTERNATIVE_NAMES and
// CLIENT_USERNAME.
//
// Example:
//
//	cfg, err := config.Load(*configPath)
//	if err != nil {
//	    var cfgErr *config.ConfigurationError
//	    if errors.As(err, &cfgErr) { ... }
//	}
package config
