package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokmesh-cts/internal/cli/output"
	"github.com/yndnr/tokmesh-cts/internal/server/config"
)

// ConfigCommand returns the config command.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the server configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration with secrets masked",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					format := output.FormatYAML
					if c.IsSet("output") {
						if format, err = output.ParseFormat(c.String("output")); err != nil {
							return err
						}
					}
					return output.NewFormatter(format, false).Format(c.App.Writer, config.Sanitize(cfg))
				},
			},
			{
				Name:  "validate",
				Usage: "Check the configuration for errors",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					if err := config.Verify(cfg); err != nil {
						return cli.Exit(fmt.Sprintf("configuration is invalid:\n%v", err), 1)
					}
					fmt.Fprintln(c.App.Writer, "Configuration is valid.")
					return nil
				},
			},
		},
	}
}
