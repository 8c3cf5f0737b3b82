// Package settings holds the runtime settings edited from the UI and the CLI
// (tracker cookie and passkey, Transmission endpoint, polling interval, WeChat
// relay). They live in a YAML file that is reloaded whenever it changes on
// disk, so hand edits take effect without a restart.
package settings
