package bootstrap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/eleven-am/voice-client/internal/conn"
	"github.com/eleven-am/voice-client/internal/session"
	"go.uber.org/fx"
)

// Console is the interactive text surface: it prints session events and
// turns stdin lines into outgoing messages or local commands.
type Console struct {
	out io.Writer
	log *slog.Logger
}

func NewConsole(log *slog.Logger) *Console {
	return &Console{
		out: os.Stdout,
		log: log.With("component", "console"),
	}
}

func (c *Console) Listener() session.Listener {
	return session.Listener{
		OnFinal: func(_, text string) {
			fmt.Fprintf(c.out, "assistant> %s\n", text)
		},
		OnTranscription: func(text string) {
			fmt.Fprintf(c.out, "you said> %s\n", text)
		},
		OnNotice: func(kind, message string) {
			fmt.Fprintf(c.out, "[%s] %s\n", kind, message)
		},
		OnState: func(_, next conn.State) {
			fmt.Fprintf(c.out, "[connection] %s\n", next)
		},
	}
}

func (c *Console) loop(sess *session.Session, shutdowner fx.Shutdowner) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			_ = shutdowner.Shutdown()
			return
		case line == "/stop":
			n := sess.Interrupt()
			fmt.Fprintf(c.out, "[playback] interrupted, %d segments discarded\n", n)
		case line == "/reconnect":
			if err := sess.Reconnect(); err != nil {
				fmt.Fprintf(c.out, "[error] reconnect: %v\n", err)
			}
		case line == "/history":
			for _, turn := range sess.History() {
				fmt.Fprintf(c.out, "  %s: %s\n", turn.Role, turn.Content)
			}
		case strings.HasPrefix(line, "/"):
			fmt.Fprintln(c.out, "commands: /stop /reconnect /history /quit")
		default:
			if err := sess.SendText(line); err != nil {
				c.log.Debug("send failed", "error", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn("stdin read failed", "error", err)
	}
}

func StartConsole(lc fx.Lifecycle, c *Console, sess *session.Session, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go c.loop(sess, shutdowner)
			return nil
		},
	})
}

var ConsoleModule = fx.Options(
	fx.Provide(NewConsole),
	fx.Invoke(StartConsole),
)
