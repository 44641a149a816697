package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
)

// TokenCommand returns the token command.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:    "token",
		Aliases: []string{"tok"},
		Usage:   "Read, query and delete stored tokens",
		Subcommands: []*cli.Command{
			tokenReadCommand(),
			tokenQueryCommand(),
			tokenDeleteCommand(),
		},
	}
}

func tokenReadCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Aliases:   []string{"get"},
		Usage:     "Show a token",
		ArgsUsage: "<token-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("token ID required", 1)
			}
			conn, err := openConn(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			id := c.Args().First()
			t, err := conn.Adapter().Read(ctx, id)
			if err != nil {
				return err
			}
			if t == nil {
				return cli.Exit(fmt.Sprintf("token %s not found", id), 1)
			}
			return render(c, tokenView(t))
		},
	}
}

func tokenQueryCommand() *cli.Command {
	return &cli.Command{
		Name:    "query",
		Aliases: []string{"ls"},
		Usage:   "List tokens matching conditions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "Token type, e.g. SESSION"},
			&cli.StringFlag{Name: "user", Usage: "Owning user ID"},
			&cli.StringSliceFlag{Name: "where", Usage: "Condition field=value (repeatable)"},
			&cli.StringSliceFlag{Name: "prefix", Usage: "Condition field=prefix (repeatable)"},
			&cli.StringFlag{Name: "expired-before", Usage: "Expiry upper bound (RFC 3339)"},
			&cli.StringSliceFlag{Name: "fields", Usage: "Return only these fields"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of tokens", Value: 100},
		},
		Action: func(c *cli.Context) error {
			exprs, err := queryConditions(c)
			if err != nil {
				return err
			}
			fields, err := parseFields(c.StringSlice("fields"))
			if err != nil {
				return err
			}
			conn, err := openConn(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			b := filter.New().Where(exprs...).Limit(c.Int("limit"))
			list := TokenList{}
			if len(fields) > 0 {
				partials, err := conn.Adapter().PartialQuery(ctx, b.Returning(append(fields, domain.FieldTokenID)...).Build())
				if err != nil {
					return err
				}
				for _, p := range partials {
					list = append(list, partialView(p))
				}
				return render(c, list)
			}

			tokens, err := conn.Adapter().Query(ctx, b.Build())
			if err != nil {
				return err
			}
			for _, t := range tokens {
				list = append(list, tokenView(t))
			}
			return render(c, list)
		},
	}
}

func tokenDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a token",
		ArgsUsage: "<token-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "etag", Usage: "Delete only if the stored etag matches"},
			forceFlag,
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("token ID required", 1)
			}
			id := c.Args().First()
			if !confirm(c, fmt.Sprintf("Delete token %s?", id)) {
				fmt.Fprintln(c.App.Writer, "Aborted.")
				return nil
			}
			conn, err := openConn(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			if err := conn.Adapter().Delete(ctx, id, c.String("etag")); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Token %s deleted.\n", id)
			return nil
		},
	}
}

// queryConditions builds the filter expressions of the query flags.
func queryConditions(c *cli.Context) ([]filter.Expr, error) {
	var exprs []filter.Expr
	if s := c.String("type"); s != "" {
		typ, err := domain.ParseTokenType(s)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, filter.Equals{Field: domain.FieldTokenType, Value: typ})
	}
	if s := c.String("user"); s != "" {
		exprs = append(exprs, filter.Equals{Field: domain.FieldUserID, Value: s})
	}
	for _, cond := range c.StringSlice("where") {
		f, raw, err := splitCondition(cond)
		if err != nil {
			return nil, err
		}
		v, err := parseValue(f, raw)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, filter.Equals{Field: f, Value: v})
	}
	for _, cond := range c.StringSlice("prefix") {
		f, raw, err := splitCondition(cond)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, filter.BeginsWith{Field: f, Prefix: raw})
	}
	if s := c.String("expired-before"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, domain.ErrInvalidArgument.WithDetails("expired-before").WithCause(err)
		}
		exprs = append(exprs, filter.LessThan{Field: domain.FieldExpiryDate, Value: ts})
	}
	return exprs, nil
}

func splitCondition(cond string) (domain.CoreTokenField, string, error) {
	name, value, ok := strings.Cut(cond, "=")
	if !ok || name == "" {
		return "", "", domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("condition %q is not field=value", cond))
	}
	f, err := domain.ParseField(strings.TrimSpace(name))
	if err != nil {
		return "", "", err
	}
	return f, value, nil
}

// parseValue converts a command line value to the field's kind.
func parseValue(f domain.CoreTokenField, raw string) (any, error) {
	switch f.Kind() {
	case domain.KindInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, domain.ErrInvalidArgument.WithDetails(string(f)).WithCause(err)
		}
		return n, nil
	case domain.KindDate:
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domain.ErrInvalidArgument.WithDetails(string(f)).WithCause(err)
		}
		return ts, nil
	case domain.KindBlob:
		return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("field %s is not searchable", f))
	}
	return raw, nil
}

func parseFields(names []string) ([]domain.CoreTokenField, error) {
	fields := make([]domain.CoreTokenField, 0, len(names))
	for _, list := range names {
		for _, name := range strings.Split(list, ",") {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			f, err := domain.ParseField(name)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
	}
	return fields, nil
}
