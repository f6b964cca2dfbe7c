// Package transport talks to the messaging backend over HTTP. It performs
// no caching and no retries; every call is bounded by the configured timeout.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"wachat/internal/entity"
)

const DefaultTimeout = 10 * time.Second

// TransportError reports a failed call: a non-2xx answer (StatusCode set) or
// a network failure (Err set). Message is the server-provided reason.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("transport: %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("transport: status %d", e.StatusCode)
	case e.Err != nil:
		return "transport: " + e.Err.Error()
	default:
		return "transport: request failed"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets callers branch on the kind of a server rejection with
// errors.Is(err, entity.ErrConflict) and friends.
func (e *TransportError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == entity.ErrValidation
	case http.StatusUnauthorized:
		return target == entity.ErrUnauthorized
	case http.StatusForbidden:
		return target == entity.ErrForbidden
	case http.StatusNotFound:
		return target == entity.ErrNotFound
	case http.StatusConflict:
		return target == entity.ErrConflict
	}
	return false
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Send posts a message and returns the stored copy.
func (c *Client) Send(ctx context.Context, senderId, receiverId, text string) (entity.Message, error) {
	var message entity.Message
	err := c.do(ctx, http.MethodPost, "/sendMessage", nil, entity.SendMessageRequest{
		SenderId:   senderId,
		ReceiverId: receiverId,
		Message:    text,
	}, &message)
	return message, err
}

// Fetch returns the latest messages of conv in ascending createdAt order.
// The feed is filtered here whatever the server does with the chatId scope.
func (c *Client) Fetch(ctx context.Context, conv entity.Conversation, limit int) ([]entity.Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	query.Set("chatId", conv.Key())

	var feed []entity.Message
	if err := c.do(ctx, http.MethodGet, "/getMessages", query, nil, &feed); err != nil {
		return nil, err
	}
	return conv.Filter(feed), nil
}

func (c *Client) RequestOTP(ctx context.Context, phoneNumber string) error {
	return c.do(ctx, http.MethodPost, "/auth/otp", nil, entity.OTPRequest{PhoneNumber: phoneNumber}, nil)
}

func (c *Client) SignUp(ctx context.Context, req entity.SignUpRequest) (entity.User, error) {
	var user entity.User
	err := c.do(ctx, http.MethodPost, "/auth/signup", nil, req, &user)
	return user, err
}

// VerifyOTP signs in and keeps the returned token for later calls.
func (c *Client) VerifyOTP(ctx context.Context, req entity.VerifyOTPRequest) (entity.AuthResponse, error) {
	var resp entity.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/verify", nil, req, &resp); err != nil {
		return entity.AuthResponse{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) SearchUsers(ctx context.Context, query string, limit int) ([]entity.UserSummary, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var users []entity.UserSummary
	err := c.do(ctx, http.MethodGet, "/users/search", q, nil, &users)
	return users, err
}

func (c *Client) Invite(ctx context.Context, toUserId, message string) (entity.Invitation, error) {
	var invitation entity.Invitation
	err := c.do(ctx, http.MethodPost, "/invitations", nil, entity.InviteRequest{ToUserId: toUserId, Message: message}, &invitation)
	return invitation, err
}

func (c *Client) Accept(ctx context.Context, invitationId string) (entity.ChatRoom, error) {
	var room entity.ChatRoom
	err := c.do(ctx, http.MethodPost, "/invitations/"+url.PathEscape(invitationId)+"/accept", nil, nil, &room)
	return room, err
}

func (c *Client) Decline(ctx context.Context, invitationId string) (entity.Invitation, error) {
	var invitation entity.Invitation
	err := c.do(ctx, http.MethodPost, "/invitations/"+url.PathEscape(invitationId)+"/decline", nil, nil, &invitation)
	return invitation, err
}

func (c *Client) PendingInvitations(ctx context.Context) ([]entity.Invitation, error) {
	var invitations []entity.Invitation
	err := c.do(ctx, http.MethodGet, "/invitations/pending", nil, nil, &invitations)
	return invitations, err
}

func (c *Client) Rooms(ctx context.Context) ([]entity.ChatRoom, error) {
	var rooms []entity.ChatRoom
	err := c.do(ctx, http.MethodGet, "/rooms", nil, nil, &rooms)
	return rooms, err
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("transport: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &TransportError{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if decodeErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return &TransportError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// IsTransport reports whether err came from the network layer or the server.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
