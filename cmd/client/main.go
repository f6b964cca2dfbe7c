package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"wachat/infrastructure/obs"
	"wachat/internal/client/reconcile"
	"wachat/internal/client/selection"
	"wachat/internal/client/transport"
	"wachat/internal/config"
	"wachat/internal/entity"
	"wachat/pkg/identity"

	"github.com/joho/godotenv"
)

const usage = `usage:
  client signup -phone <number> -username <name> -password <password>
  client chat   -phone <number> -password <password>

chat commands:
  /search <prefix>          find users
  /invite <userId> [text]   send an invitation
  /pending                  list invitations addressed to you
  /accept <invitationId>    accept an invitation
  /decline <invitationId>   decline an invitation
  /rooms                    list your conversations
  /open <userId>            open a conversation
  /quit                     exit
anything else is sent to the open conversation
`

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.NewLoggerTo(cfg.Env, os.Stderr)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := transport.New(transport.Config{BaseURL: cfg.APIBaseURL, Timeout: cfg.CallTimeout})
	mapper, err := identity.NewMapper(cfg.LoginDomain, cfg.DefaultCountry)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "signup":
		err = signup(ctx, api, mapper, os.Args[2:])
	case "chat":
		err = chat(ctx, cfg, api, mapper, logger, os.Args[2:], os.Stdin, os.Stdout)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func signup(ctx context.Context, api *transport.Client, mapper identity.Mapper, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	phone := fs.String("phone", "", "phone number with country code")
	username := fs.String("username", "", "username (3-30 of a-z 0-9 _ .)")
	password := fs.String("password", "", "password")
	fs.Parse(args)

	normalized, err := mapper.Normalize(*phone)
	if err != nil {
		return err
	}
	user, err := api.SignUp(ctx, entity.SignUpRequest{PhoneNumber: normalized, Username: *username, Password: *password})
	if err != nil {
		return err
	}
	fmt.Printf("registered %s (%s) as %s\n", user.Username, user.PhoneNumber, user.Id)
	return nil
}

func chat(ctx context.Context, cfg config.ClientConfig, api *transport.Client, mapper identity.Mapper, logger *slog.Logger, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	phone := fs.String("phone", "", "phone number with country code")
	password := fs.String("password", "", "password")
	fs.Parse(args)

	normalized, err := mapper.Normalize(*phone)
	if err != nil {
		return err
	}
	if err := api.RequestOTP(ctx, normalized); err != nil {
		return err
	}

	lines := bufio.NewScanner(in)
	fmt.Fprint(out, "verification code: ")
	if !lines.Scan() {
		return io.ErrUnexpectedEOF
	}
	resp, err := api.VerifyOTP(ctx, entity.VerifyOTPRequest{
		PhoneNumber: normalized,
		Code:        strings.TrimSpace(lines.Text()),
		Password:    *password,
	})
	if err != nil {
		return err
	}
	session := transport.NewSession(resp)
	fmt.Fprintf(out, "signed in as %s (%s)\n", session.Username, session.UserId)

	engine := reconcile.NewEngine(api, reconcile.Config{
		PollInterval:      cfg.PollInterval,
		MessageLimit:      cfg.MessageLimit,
		RequireConnection: cfg.RequireConnection,
		Logger:            logger,
	})

	var push *transport.PushChannel
	var pushSub selection.PushSubscriber
	if cfg.Features.RealTimeMessaging && cfg.WebsocketURL != "" {
		push = transport.NewPushChannel(transport.PushConfig{
			URL:    cfg.WebsocketURL,
			UserId: session.UserId,
			Logger: logger,
		}, api.Token)
		pushSub = push
	}

	selector := selection.NewSelector(session, engine, api, pushSub, selection.Hooks{
		OnInvitation: func(inv entity.Invitation) {
			fmt.Fprintf(out, "* invitation %s from %s: %s\n", inv.Id, inv.FromUserName, inv.Status)
		},
		OnRoom: func(room entity.ChatRoom) {
			fmt.Fprintf(out, "* conversation %s updated\n", room.Id)
		},
	}, logger)
	defer selector.Close()

	r := &renderer{out: out, self: session.UserId, printed: make(map[string]struct{})}
	if push != nil {
		r.ack = readAcknowledger(push, logger)
	}
	engine.Subscribe(r.render)

	if push != nil {
		push.OnEvent(selector.HandlePush)
		push.OnState(engine.SetConnected)
		go push.Run(ctx)
	}

	input := make(chan string)
	go func() {
		defer close(input)
		for lines.Scan() {
			input <- lines.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-input:
			if !ok {
				return nil
			}
			quit, err := command(ctx, selector, api, strings.TrimSpace(line), out)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func command(ctx context.Context, s *selection.Selector, api *transport.Client, line string, out io.Writer) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := s.Send(ctx, line)
		var unsent *reconcile.UnsentError
		if errors.As(err, &unsent) {
			return false, fmt.Errorf("%q was not sent: %w", unsent.Text, unsent.Err)
		}
		return false, err
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit":
		return true, nil
	case "/open":
		return false, s.SelectConversation(ctx, rest)
	case "/invite":
		to, text, _ := strings.Cut(rest, " ")
		inv, err := s.Invite(ctx, to, strings.TrimSpace(text))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "invited %s (%s)\n", inv.ToUserName, inv.Id)
	case "/pending":
		invitations, err := s.PendingInvitations(ctx)
		if err != nil {
			return false, err
		}
		for _, inv := range invitations {
			fmt.Fprintf(out, "%s from %s %q\n", inv.Id, inv.FromUserName, inv.Message)
		}
	case "/accept":
		room, err := s.Accept(ctx, rest)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "accepted, conversation %s\n", room.Id)
	case "/decline":
		if _, err := s.Decline(ctx, rest); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "declined")
	case "/rooms":
		rooms, err := s.Rooms(ctx)
		if err != nil {
			return false, err
		}
		for _, room := range rooms {
			fmt.Fprintf(out, "%s %v %q\n", room.Id, room.ParticipantNames, room.LastMessage)
		}
	case "/search":
		users, err := api.SearchUsers(ctx, rest, 0)
		if err != nil {
			return false, err
		}
		for _, u := range users {
			fmt.Fprintf(out, "%s @%s %s\n", u.Id, u.Username, u.DisplayName)
		}
	default:
		fmt.Fprint(out, usage)
	}
	return false, nil
}

// readAcknowledger sends read receipts over the push channel. Receipts
// for messages shown while offline are dropped.
func readAcknowledger(push *transport.PushChannel, logger *slog.Logger) func(string) {
	return func(messageId string) {
		if err := push.MarkRead(messageId); err != nil && !errors.Is(err, transport.ErrNotConnected) {
			logger.Warn("read acknowledgement failed", "messageId", messageId, "error", err)
		}
	}
}

// renderer prints each stored message once. Transient entries are skipped
// because their server copy follows. Peer messages are acknowledged through
// ack once shown.
type renderer struct {
	mu        sync.Mutex
	out       io.Writer
	self      string
	ack       func(messageId string)
	printed   map[string]struct{}
	lastErr   error
	connected bool
	gen       uint64
}

func (r *renderer) render(state reconcile.State) {
	for _, id := range r.print(state) {
		r.ack(id)
	}
}

// print writes what is new in state and returns the unread peer messages
// it showed.
func (r *renderer) print(state reconcile.State) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state.Generation != r.gen {
		r.gen = state.Generation
		r.printed = make(map[string]struct{})
		if !state.Conversation.IsZero() {
			fmt.Fprintf(r.out, "--- conversation with %s ---\n", state.Conversation.PeerId)
		}
	}
	if state.Connected != r.connected {
		r.connected = state.Connected
		if !state.Connected {
			fmt.Fprintln(r.out, "* offline, retrying")
		}
	}
	if state.Err != nil && !errors.Is(state.Err, r.lastErr) {
		fmt.Fprintln(r.out, "* error:", state.Err)
	}
	r.lastErr = state.Err

	var unread []string
	for _, m := range state.Messages {
		if strings.HasPrefix(m.Id, reconcile.TransientPrefix) {
			continue
		}
		if _, ok := r.printed[m.Id]; ok {
			continue
		}
		r.printed[m.Id] = struct{}{}
		who := m.SenderId
		if who == r.self {
			who = "you"
		} else if r.ack != nil && m.Status != entity.MessageStatusRead {
			unread = append(unread, m.Id)
		}
		fmt.Fprintf(r.out, "[%s] %s: %s\n", m.CreatedAt.Time().Format("15:04:05"), who, m.Text)
	}
	return unread
}
