package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"quizthread/internal/server"
	"quizthread/internal/service"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	server       string
	token        string
	refreshEvery time.Duration
}

// NewWatchCommand prints every published view of a thread as a JSON line.
func NewWatchCommand() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch <threadKey>",
		Short: "Follow a thread and print each view as JSON",
		Long: "Follow a thread and print each view as JSON. With --server the thread is read from a\n" +
			"running quizthread over its live socket; otherwise the configured transport is used directly.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if opts.server != "" {
				return watchRemote(ctx, cmd.OutOrStdout(), args[0], opts)
			}
			return watchLocal(ctx, cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "base URL of a running server, e.g. ws://localhost:8380")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token sent when connecting to --server")
	cmd.Flags().DurationVar(&opts.refreshEvery, "refresh-every", 0, "request a one-shot refresh at this interval")
	return cmd
}

// lineWriter writes one JSON document per line; views may arrive from
// several goroutines.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (w *lineWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

func viewMessage(threadKey string, v service.View) server.LiveMessage {
	msg := server.LiveMessage{
		Type:      "thread",
		ThreadKey: threadKey,
		Source:    v.Source,
		Comments:  v.Tree,
		Count:     service.CountNodes(v.Tree),
	}
	if v.Err != nil {
		msg.Error = v.Err.Error()
	}
	return msg
}

func watchLocal(ctx context.Context, out io.Writer, threadKey string, opts watchOptions) error {
	rt, stop, err := startRuntime(ctx)
	if err != nil {
		return err
	}
	defer stop()

	w := newLineWriter(out)
	ts := service.NewThreadSync(rt.Comments, threadKey, func(v service.View) {
		_ = w.write(viewMessage(threadKey, v))
	},
		service.WithFallbackTimeout(rt.Config.FallbackTimeout),
		service.WithFetchTimeout(rt.Config.FetchTimeout),
	)
	defer ts.Stop()
	if err := ts.Start(ctx); err != nil {
		return err
	}

	refresh, stopTick := tick(opts.refreshEvery)
	defer stopTick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh:
			_ = ts.Refresh(ctx)
		}
	}
}

func watchRemote(ctx context.Context, out io.Writer, threadKey string, opts watchOptions) error {
	u, err := url.Parse(strings.TrimRight(opts.server, "/"))
	if err != nil {
		return fmt.Errorf("invalid --server: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/api/threads/" + url.PathEscape(threadKey) + "/live"

	header := http.Header{}
	if opts.token != "" {
		header.Set("Authorization", "Bearer "+opts.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		return fmt.Errorf("connect %s: %w", u.String(), err)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	if opts.refreshEvery > 0 {
		// Only this goroutine writes data frames.
		go func() {
			refresh, stopTick := tick(opts.refreshEvery)
			defer stopTick()
			for {
				select {
				case <-ctx.Done():
					return
				case <-refresh:
					if err := conn.WriteJSON(server.ClientMessage{Type: "refresh"}); err != nil {
						return
					}
				}
			}
		}()
	}

	w := newLineWriter(out)
	for {
		var msg server.LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read live thread: %w", err)
		}
		if err := w.write(msg); err != nil {
			return err
		}
	}
}

// tick returns a channel that fires every d, or never when d is zero.
func tick(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}
