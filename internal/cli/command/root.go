package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokmesh-cts/internal/cli/connection"
	"github.com/yndnr/tokmesh-cts/internal/cli/output"
	"github.com/yndnr/tokmesh-cts/internal/infra/buildinfo"
	"github.com/yndnr/tokmesh-cts/internal/infra/confloader"
	"github.com/yndnr/tokmesh-cts/internal/server/config"
	"github.com/yndnr/tokmesh-cts/internal/telemetry/logger"
)

// Metadata keys.
const (
	metaConn   = "conn"
	metaConfig = "config"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "cts-cli",
		Usage:                "Inspect and maintain the token store",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Metadata:             map[string]any{},
		Commands: []*cli.Command{
			TokenCommand(),
			SessionCommand(),
			WatchCommand(),
			NotifyCommand(),
			ConfigCommand(),
		},
		Before: func(c *cli.Context) error {
			if _, err := output.ParseFormat(c.String("output")); err != nil {
				return err
			}
			level := "warn"
			if c.Bool("verbose") {
				level = "debug"
			}
			l, err := logger.New(logger.Config{Level: level, Format: "text", Output: c.App.ErrWriter})
			if err != nil {
				return err
			}
			c.App.Metadata["logger"] = l
			return nil
		},
		After: func(c *cli.Context) error {
			if conn, ok := c.App.Metadata[metaConn].(*connection.Conn); ok {
				return conn.Close()
			}
			return nil
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Server configuration file to read the directory settings from",
			EnvVars: []string{"CTS_CONFIG"},
		},
		&cli.StringFlag{Name: "backend", Usage: "Directory backend: embedded, ldap"},
		&cli.StringFlag{Name: "data-dir", Usage: "Embedded directory data directory"},
		&cli.BoolFlag{Name: "in-memory", Usage: "Use a transient embedded directory"},
		&cli.StringFlag{Name: "url", Usage: "LDAP URL (ldap:// or ldaps://)"},
		&cli.StringFlag{Name: "bind-dn", Usage: "LDAP bind DN"},
		&cli.StringFlag{
			Name:    "bind-password",
			Usage:   "LDAP bind password",
			EnvVars: []string{"CTS_BIND_PASSWORD"},
		},
		&cli.StringFlag{Name: "base-dn", Usage: "Container holding the token entries"},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show every field",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Deadline of a single command",
			Value: 30 * time.Second,
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Log debug output to stderr",
		},
	}
}

// loadConfig reads the server configuration and applies the directory
// flags on top of it.
func loadConfig(c *cli.Context) (*config.ServerConfig, error) {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.ServerConfig); ok {
		return cfg, nil
	}
	loader := confloader.NewLoader(
		confloader.WithConfigFile(c.String("config")),
		confloader.WithDefaults(config.DefaultMap()),
	)
	cfg := new(config.ServerConfig)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	d := &cfg.Directory
	for flag, field := range map[string]*string{
		"backend":       &d.Backend,
		"data-dir":      &d.DataDir,
		"url":           &d.URL,
		"bind-dn":       &d.BindDN,
		"bind-password": &d.BindPassword,
		"base-dn":       &d.BaseDN,
	} {
		if c.IsSet(flag) {
			*field = c.String(flag)
		}
	}
	if c.IsSet("in-memory") {
		d.InMemory = c.Bool("in-memory")
	}
	if c.IsSet("url") && !c.IsSet("backend") {
		d.Backend = config.BackendLDAP
	}
	c.App.Metadata[metaConfig] = cfg
	return cfg, nil
}

// openConn returns the command's connection, opening it on first use.
func openConn(c *cli.Context) (*connection.Conn, error) {
	if conn, ok := c.App.Metadata[metaConn].(*connection.Conn); ok {
		return conn, nil
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	conn, err := connection.Open(cfg.Directory, appLogger(c))
	if err != nil {
		return nil, err
	}
	c.App.Metadata[metaConn] = conn
	return conn, nil
}

func appLogger(c *cli.Context) *slog.Logger {
	if l, ok := c.App.Metadata["logger"].(*slog.Logger); ok {
		return l
	}
	return logger.Discard()
}

func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, c.Duration("timeout"))
}

func render(c *cli.Context, data any) error {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}
	return output.NewFormatter(format, c.Bool("wide")).Format(c.App.Writer, data)
}

// confirm asks on the app's reader unless --force is set.
func confirm(c *cli.Context, prompt string) bool {
	if c.Bool("force") {
		return true
	}
	fmt.Fprintf(c.App.Writer, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(reader(c)).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y"
}

func reader(c *cli.Context) io.Reader {
	if c.App.Reader != nil {
		return c.App.Reader
	}
	return strings.NewReader("")
}

var forceFlag = &cli.BoolFlag{
	Name:    "force",
	Aliases: []string{"f"},
	Usage:   "Skip confirmation",
}
