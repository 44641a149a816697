package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
	"github.com/yndnr/tokmesh-cts/internal/core/persistence"
)

// SessionCommand returns the session command.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"sess"},
		Usage:   "Inspect and remove stored sessions",
		Subcommands: []*cli.Command{
			sessionGetCommand(),
			sessionListCommand(),
			sessionRemoveCommand(),
		},
	}
}

func sessionGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a session by ID, handle or restricted token ID",
		ArgsUsage: "<session-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "handle", Usage: "Look up by session handle"},
			&cli.StringFlag{Name: "restricted", Usage: "Look up by restricted token ID"},
		},
		Action: func(c *cli.Context) error {
			conn, err := openConn(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			var (
				s   *domain.Session
				key string
			)
			step := conn.Sessions()
			switch {
			case c.IsSet("handle"):
				key = c.String("handle")
				s, err = step.GetByHandle(ctx, key)
			case c.IsSet("restricted"):
				key = c.String("restricted")
				s, err = step.GetByRestrictedID(ctx, key)
			case c.NArg() > 0:
				key = c.Args().First()
				s, err = step.GetBySessionID(ctx, key)
			default:
				return cli.Exit("session ID, --handle or --restricted required", 1)
			}
			if err != nil {
				return err
			}
			if s == nil {
				return cli.Exit(fmt.Sprintf("session %s not found", key), 1)
			}
			return render(c, sessionView(s))
		},
	}
}

func sessionListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List stored sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "Only sessions of this user"},
			&cli.StringFlag{Name: "state", Usage: "Only sessions in this state"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of sessions", Value: 100},
		},
		Action: func(c *cli.Context) error {
			conn, err := openConn(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			exprs := []filter.Expr{filter.Equals{Field: domain.FieldTokenType, Value: domain.TokenTypeSession}}
			if u := c.String("user"); u != "" {
				exprs = append(exprs, filter.Equals{Field: domain.FieldUserID, Value: u})
			}
			if st := c.String("state"); st != "" {
				exprs = append(exprs, filter.Equals{Field: domain.SessionFieldState, Value: st})
			}
			tokens, err := conn.Adapter().Query(ctx, filter.New().Where(exprs...).Limit(c.Int("limit")).Build())
			if err != nil {
				return err
			}

			var mapper persistence.TokenMapper
			list := SessionList{}
			for _, t := range tokens {
				s, err := mapper.FromToken(t)
				if err != nil {
					appLogger(c).Warn("skipping undecodable session", "token_id", t.ID(), "error", err)
					continue
				}
				list = append(list, sessionView(s))
			}
			return render(c, list)
		},
	}
}

func sessionRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Remove a stored session",
		ArgsUsage: "<session-id>",
		Flags:     []cli.Flag{forceFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("session ID required", 1)
			}
			id := c.Args().First()
			if !confirm(c, fmt.Sprintf("Remove session %s?", id)) {
				fmt.Fprintln(c.App.Writer, "Aborted.")
				return nil
			}
			conn, err := openConn(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			if err := conn.Sessions().Remove(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Session %s removed.\n", id)
			return nil
		},
	}
}
