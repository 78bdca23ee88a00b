package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"storefront/internal/chat"
	"storefront/internal/config"
	"storefront/internal/debugserver"
	"storefront/internal/protocol"
	"storefront/internal/session"
	"storefront/internal/state"
	"storefront/internal/transport"
)

const chatHelp = `Commands:
  /history   redraw the conversation
  /cart      show the cart
  /state     dump the session state as JSON
  /reset     start the conversation over
  /help      show this help
  exit       leave`

// chatSession is what the interactive loop drives.
type chatSession interface {
	ID() string
	ConnState() transport.State
	Store() *state.Store
	Submit(text string) bool
	ResetSession() bool
	Transcript() []chat.Message
}

// NewChatCmd creates the interactive chat command.
func NewChatCmd() *cobra.Command {
	var (
		serverURL string
		ephemeral bool
		debugAddr string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the store assistant",
		Long: `Open a session with the commerce backend and chat interactively.

The connection is retried on a fixed delay while the backend is
unreachable. Messages typed while offline are shown but not sent.`,
		Example: `  # Chat using the configured backend
  storefront chat

  # Point at another backend and expose metrics on :9090
  storefront chat --url https://shop.example.com --debug-addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNoContext
			}
			cfg := cliCtx.Config
			if serverURL != "" {
				cfg.Server.URL = serverURL
			}
			if debugAddr != "" {
				cfg.Debug.Addr = debugAddr
			}
			return runChat(cmd.Context(), cliCtx, cfg, ephemeral, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "", "backend base URL (overrides server.url)")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "use a throwaway session id")
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "serve metrics and state on this address")

	return cmd
}

func runChat(parent context.Context, cliCtx *CLIContext, cfg *config.Config, ephemeral bool, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := session.New(session.Config{
		ServerURL:        cfg.Server.URL,
		ReconnectDelay:   cfg.Transport.ReconnectDelay,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		WriteTimeout:     cfg.Transport.WriteTimeout,
		ReadTimeout:      cfg.Transport.ReadTimeout,
		MaxMessageSize:   cfg.Transport.MaxMessageSize,
		Greeting:         cfg.Chat.Greeting,
	}, cliCtx.Identity(ephemeral), chat.NewTerminalView(out))
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Debug.Addr != "" {
		dbg := debugserver.New(s, Version)
		addr, err := dbg.Start(cfg.Debug.Addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Debug endpoints on http://%s\n", addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = dbg.Shutdown(shutdownCtx)
		}()
	}

	r := &repl{
		s:        s,
		out:      out,
		markdown: cfg.Chat.Markdown,
		width:    terminalWidth(),
	}
	r.watchStore()

	s.Start(ctx)
	fmt.Fprintf(out, "Session %s. Type /help for commands.\n", s.ID())
	return r.run(ctx, in)
}

// repl reads user lines and dispatches them to the session.
type repl struct {
	s        chatSession
	out      io.Writer
	markdown bool
	width    int
}

// watchStore prints cart and price changes as they arrive.
func (r *repl) watchStore() {
	r.s.Store().Subscribe(state.CartUpdated, func(data any) {
		if cart, ok := data.(protocol.Cart); ok {
			fmt.Fprintln(r.out, cartSummary(cart))
		}
	})
	r.s.Store().Subscribe(state.PriceUpdated, func(data any) {
		if pu, ok := data.(protocol.PriceUpdate); ok {
			fmt.Fprintf(r.out, "[price] %s is now %.2f\n", pu.ProductID, pu.NewPrice)
		}
	})
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out, "\nGoodbye!")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !r.handle(strings.TrimSpace(line)) {
				fmt.Fprintln(r.out, "Goodbye!")
				return nil
			}
		}
	}
}

// handle processes one input line. It returns false when the user quits.
func (r *repl) handle(line string) bool {
	switch line {
	case "":
	case "exit", "quit", "/exit", "/quit":
		return false
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/history":
		r.printHistory()
	case "/cart":
		fmt.Fprintln(r.out, cartSummary(r.s.Store().Cart()))
	case "/state":
		data, err := json.MarshalIndent(r.s.Store().Snapshot(), "", "  ")
		if err != nil {
			fmt.Fprintf(r.out, "encode state: %v\n", err)
			break
		}
		fmt.Fprintf(r.out, "connection: %s\n%s\n", r.s.ConnState(), data)
	case "/reset":
		if !r.s.ResetSession() {
			fmt.Fprintln(r.out, chat.OfflineNotice)
		}
	default:
		r.s.Submit(line)
	}
	return true
}

func (r *repl) printHistory() {
	msgs := r.s.Transcript()
	if r.markdown {
		fmt.Fprint(r.out, chat.RenderTranscript(msgs, r.width))
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(r.out, "%s: %s\n", m.Role, m.Text)
	}
}

func cartSummary(cart protocol.Cart) string {
	if len(cart.Items) == 0 {
		return "[cart] empty"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[cart] %d item(s), total %.2f (%s)", cart.ItemCount(), cart.Total, cart.Status)
	for _, item := range cart.Items {
		fmt.Fprintf(&b, "\n  %d x %s @ %.2f", item.Quantity(), itemName(item), item.EffectivePrice())
		if saved := item.ComputedSavings(); saved > 0 {
			fmt.Fprintf(&b, " (saved %.2f)", saved)
		}
	}
	return b.String()
}

func itemName(item protocol.CartLineItem) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ID
}

// terminalWidth reports the stdout width, or 80 when stdout is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
