// Package confloader loads layered configuration with koanf and watches the
// configuration file for edits.
//
// Priority (highest to lowest):
//
//  1. values passed to LoadMap after Load (command-line flags)
//  2. environment variables
//  3. the YAML configuration file
//  4. defaults
//
// Environment variables use a double underscore between section and key so
// keys may contain single underscores:
//
//	CTS_NOTIFICATIONS__QUEUE_SIZE=5000  ->  notifications.queue_size
package confloader
