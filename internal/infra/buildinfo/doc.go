// Package buildinfo exposes version information injected at build time:
//
//	go build -ldflags "-X github.com/yndnr/tokmesh-cts/internal/infra/buildinfo.Version=v1.0.0"
//
// When no commit is injected the VCS stamp recorded by the Go toolchain is
// used instead.
package buildinfo
