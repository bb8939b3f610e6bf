// Package sms exposes the diagnosis engine as a Twilio SMS webhook.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"

	"github.com/fixer-ai/fixer/internal/diagnose"
	"github.com/fixer-ai/fixer/internal/history"
	"github.com/fixer-ai/fixer/internal/observe"
)

const helpText = "Fixer AI Commands:\n" +
	"- Ask any technical question\n" +
	"- Send 'reset' to clear conversation history\n" +
	"- Send 'help' to see this message"

// Server is the SMS webhook daemon. It answers POST /sms with TwiML and
// GET /healthz with a liveness probe.
type Server struct {
	e       *echo.Echo
	diag    diagnose.Diagnoser
	store   history.Store
	log     *slog.Logger
	metrics *observe.Metrics

	// authToken enables Twilio signature validation when non-empty.
	authToken string
}

// Option configures a Server.
type Option func(*Server)

// WithAuthToken enables X-Twilio-Signature validation against the given
// Twilio auth token. Without it the webhook accepts any caller.
func WithAuthToken(token string) Option {
	return func(s *Server) { s.authToken = token }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates an SMS webhook server over the given diagnoser and history
// store.
func New(diag diagnose.Diagnoser, store history.Store, opts ...Option) *Server {
	s := &Server{diag: diag, store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echo.WrapMiddleware(observe.Middleware(s.metrics)))
	if s.authToken != "" {
		e.Use(twilioAuth(s.authToken))
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/sms", s.handleSMS)

	s.e = e
	return s
}

// Start begins serving on addr (e.g. ":8000"). It blocks until the server
// stops; a shutdown via [Server.Shutdown] returns http.ErrServerClosed.
func (s *Server) Start(addr string) error {
	s.log.Info("sms webhook listening", slog.String("addr", addr))
	return s.e.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) handleSMS(c echo.Context) error {
	from := c.FormValue("From")
	body := c.FormValue("Body")
	if from == "" || body == "" {
		return c.String(http.StatusBadRequest, "missing From or Body")
	}

	s.log.Info("sms received", slog.String("from", from), slog.Int("body_len", len(body)))
	s.metrics.RecordSMS(c.Request().Context(), "received")

	reply := s.reply(c.Request().Context(), from, body)
	return respondTwiML(c, reply)
}

// reply routes commands and questions. Failures degrade to an apology
// message rather than an HTTP error, so Twilio does not retry the webhook.
func (s *Server) reply(ctx context.Context, from, body string) string {
	switch normalize(body) {
	case "help", "commands":
		return helpText

	case "reset":
		if err := s.store.Reset(ctx, from); err != nil {
			s.log.Error("history reset failed", slog.String("error", err.Error()))
			return "Sorry, an error occurred while processing your request."
		}
		return "Conversation history has been reset."
	}

	entries, err := s.store.History(ctx, from)
	if err != nil {
		s.log.Error("history lookup failed", slog.String("error", err.Error()))
		entries = nil
	}
	if err := s.store.Append(ctx, from, history.Entry{Role: "user", Message: body, At: time.Now()}); err != nil {
		s.log.Error("history append failed", slog.String("error", err.Error()))
	}

	question := body
	if ctxText := history.Context(entries); ctxText != "" {
		question = fmt.Sprintf("Context:\n%s\n\nCurrent question: %s", ctxText, body)
	}

	res, err := s.diag.ProcessText(ctx, question)
	if err != nil {
		s.log.Error("diagnosis failed", slog.String("error", err.Error()))
		s.metrics.RecordSMS(ctx, "error")
		return "Sorry, an error occurred while processing your request."
	}

	if summary := Summary(res); summary != "" {
		if err := s.store.Append(ctx, from, history.Entry{Role: "assistant", Message: summary, At: time.Now()}); err != nil {
			s.log.Error("history append failed", slog.String("error", err.Error()))
		}
	}

	s.metrics.RecordSMS(ctx, "replied")
	return FormatReply(res)
}

func respondTwiML(c echo.Context, body string) error {
	xml, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: body}})
	if err != nil {
		return c.String(http.StatusInternalServerError, "twiml render failed")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, xml)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
