// Package command defines the cts-cli commands using urfave/cli/v2:
//
//   - root.go: application, global flags, config and connection setup
//   - token.go: token read, delete and query
//   - session.go: stored session lookup and removal
//   - watch.go: continuous query of token changes
//   - notify.go: notification publishing
//   - config.go: server configuration show and validate
//   - views.go: table layouts of results
package command
