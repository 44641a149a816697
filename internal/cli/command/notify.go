package command

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokmesh-cts/internal/cli/output"
	"github.com/yndnr/tokmesh-cts/internal/notify"
)

// cliOrigin is stamped on notifications published by the CLI.
const cliOrigin = "cts-cli"

// NotifyCommand returns the notify command.
func NotifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "notify",
		Usage: "Publish and receive cluster notifications",
		Subcommands: []*cli.Command{
			notifyPublishCommand(),
			notifyListenCommand(),
		},
	}
}

// NotificationView is the printable form of a notification.
type NotificationView struct {
	ID      string    `json:"id" yaml:"id"`
	Topic   string    `json:"topic" yaml:"topic"`
	Origin  string    `json:"origin" yaml:"origin"`
	Created time.Time `json:"created" yaml:"created"`
	Payload any       `json:"payload,omitempty" yaml:"payload,omitempty"`
}

func (v NotificationView) Header(bool) []string {
	return []string{"CREATED", "TOPIC", "ORIGIN", "PAYLOAD"}
}

func (v NotificationView) Rows(bool) [][]string {
	payload, _ := json.Marshal(v.Payload)
	return [][]string{{formatTime(v.Created), v.Topic, v.Origin, string(payload)}}
}

func newBroker(c *cli.Context) (*notify.CTSBroker, error) {
	conn, err := openConn(c)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	ncfg := notify.DefaultConfig()
	ncfg.TokenExpiry = cfg.Notifications.TokenExpiry
	local := notify.NewLocalBroker(ncfg, cliOrigin, appLogger(c))
	return notify.NewCTSBroker(local, conn.Adapter(), ncfg, appLogger(c)), nil
}

func notifyPublishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish a notification to every server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "topic", Usage: "Notification topic", Required: true},
			&cli.StringFlag{Name: "payload", Usage: "JSON payload", Value: "{}"},
		},
		Action: func(c *cli.Context) error {
			var payload any
			if err := json.Unmarshal([]byte(c.String("payload")), &payload); err != nil {
				return cli.Exit("payload is not valid JSON: "+err.Error(), 1)
			}
			broker, err := newBroker(c)
			if err != nil {
				return err
			}
			defer broker.Shutdown()

			ctx, cancel := commandContext(c)
			defer cancel()

			n, err := notify.NewNotification(c.String("topic"), cliOrigin, payload)
			if err != nil {
				return err
			}
			if err := broker.PublishNotification(ctx, n); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Notification %s published to %s.\n", n.ID, n.Topic)
			return nil
		},
	}
}

func notifyListenCommand() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "Print notifications published by servers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "topic", Usage: "Notification topic", Required: true},
			&cli.IntFlag{Name: "count", Usage: "Exit after this many notifications (0 runs until interrupted)"},
		},
		Action: func(c *cli.Context) error {
			format, err := output.ParseFormat(c.String("output"))
			if err != nil {
				return err
			}
			broker, err := newBroker(c)
			if err != nil {
				return err
			}
			defer broker.Shutdown()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			received := make(chan *notify.Notification, 64)
			sub := broker.Subscribe(c.String("topic"), func(n *notify.Notification) {
				select {
				case received <- n:
				case <-ctx.Done():
				}
			})
			defer sub.Close()
			if err := broker.Start(ctx); err != nil {
				return err
			}

			out := output.NewStreamFormatter(format, c.Bool("wide"))
			limit, seen := c.Int("count"), 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case n := <-received:
					v := NotificationView{ID: n.ID, Topic: n.Topic, Origin: n.Origin, Created: n.CreatedAt}
					if v.Payload, err = n.Value(); err != nil {
						appLogger(c).Warn("undecodable payload", "id", n.ID, "error", err)
					}
					if err := out.Format(c.App.Writer, v); err != nil {
						return err
					}
					if seen++; limit > 0 && seen >= limit {
						return nil
					}
				}
			}
		},
	}
}
