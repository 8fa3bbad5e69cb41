// Package secret resolves credentials referenced from configuration values.
//
// Two forms are understood:
//   - Strict environment expansion: ${CARDS_API_KEY} (see ExpandEnvStrict)
//   - Provider references: secretref:<provider>:<ref>, either as the whole
//     value or inline, e.g. "Bearer secretref:file:/run/secrets/cards"
//
// The built-in providers are "env" (EnvProvider) and "file" (FileProvider).
package secret
