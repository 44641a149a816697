package command

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokmesh-cts/internal/cli/output"
	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
	"github.com/yndnr/tokmesh-cts/internal/storage/cts"
)

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream changes to tokens matching conditions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "Token type, e.g. SESSION"},
			&cli.StringFlag{Name: "user", Usage: "Owning user ID"},
			&cli.StringSliceFlag{Name: "where", Usage: "Condition field=value (repeatable)"},
			&cli.StringSliceFlag{Name: "prefix", Usage: "Condition field=prefix (repeatable)"},
			&cli.StringSliceFlag{Name: "fields", Usage: "Fields reported with each change"},
			&cli.IntFlag{Name: "count", Usage: "Exit after this many changes (0 runs until interrupted)"},
		},
		Action: runWatch,
	}
}

// changeStream forwards continuous query events to the command.
type changeStream struct {
	changes chan cts.TokenChange
	lost    chan error
	done    chan struct{}
}

func (s *changeStream) ObjectChanged(c cts.TokenChange) {
	select {
	case s.changes <- c:
	case <-s.done:
	}
}

func (s *changeStream) ConnectionLost(err error) {
	select {
	case s.lost <- err:
	default:
	}
}

func runWatch(c *cli.Context) error {
	exprs, err := queryConditions(c)
	if err != nil {
		return err
	}
	fields, err := parseFields(c.StringSlice("fields"))
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		fields = []domain.CoreTokenField{domain.FieldTokenType, domain.FieldUserID, domain.FieldExpiryDate}
	}
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}
	conn, err := openConn(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := &changeStream{
		changes: make(chan cts.TokenChange, 64),
		lost:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	f := filter.New().Where(exprs...).Returning(fields...).Build()
	q, err := conn.Adapter().StartContinuousQuery(ctx, f, stream)
	if err != nil {
		return err
	}
	defer q.Stop()
	defer close(stream.done)
	appLogger(c).Debug("watching tokens", "fields", len(fields))

	out := output.NewStreamFormatter(format, c.Bool("wide"))
	limit, seen := c.Int("count"), 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-stream.lost:
			return cli.Exit("watch ended: "+err.Error(), 1)
		case change := <-stream.changes:
			if err := out.Format(c.App.Writer, changeView(change, time.Now())); err != nil {
				return err
			}
			if seen++; limit > 0 && seen >= limit {
				return nil
			}
		}
	}
}
