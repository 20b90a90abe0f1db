// Package config loads the YAML configuration file, fills defaults,
// validates it, and watches it for hot reloads. Secrets (webhook URLs,
// database DSNs, redis passwords) are never stored in the file itself;
// the file names environment variables and the getters resolve them.
package config
