// Package sandbox provides an in-memory case-management backend speaking the
// same wire protocol as the production API. It backs local development and
// the backend client tests.
package sandbox

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ajramos/casecomms/internal/services"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Contact is a directory entry. Phone may be empty for email-only contacts.
type Contact struct {
	ID       string
	Name     string
	Email    string
	Phone    string
	OptedOut bool // SMS deliveries to this contact are refused
}

// OTPNotifier dispatches a verification code out of band
type OTPNotifier interface {
	NotifyOTP(targetID, requestID, code string)
}

// LogNotifier writes codes to a logger, standing in for SMS/email delivery
type LogNotifier struct {
	Logger *log.Logger
}

// NotifyOTP logs the code
func (n LogNotifier) NotifyOTP(targetID, requestID, code string) {
	if n.Logger != nil {
		n.Logger.Printf("Sandbox: OTP for target %s (request %s): %s", targetID, requestID, code)
	}
}

// Options configures a Server
type Options struct {
	APIKey     string // Empty disables authentication
	OTPLength  int
	RequestTTL time.Duration
	Seed       bool
	Notifier   OTPNotifier
	Logger     *log.Logger
	Now        func() time.Time
}

type pendingDelete struct {
	targetID  string
	code      string
	createdAt time.Time
	done      bool
}

// Server is the in-memory backend
type Server struct {
	mu            sync.Mutex
	opts          Options
	contacts      []Contact
	conversations map[string][]string // conversation ID -> contact IDs
	sent          []services.SubmitPayload
	deletes       map[string]*pendingDelete
	deleted       map[string]bool
	records       map[string]bool

	router chi.Router
	server *http.Server
}

// NewServer creates a sandbox backend
func NewServer(opts Options) *Server {
	if opts.OTPLength <= 0 {
		opts.OTPLength = services.DefaultDeletePolicy().OTPLength
	}
	if opts.RequestTTL <= 0 {
		opts.RequestTTL = services.DefaultDeletePolicy().RequestTTL
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts:          opts,
		conversations: make(map[string][]string),
		deletes:       make(map[string]*pendingDelete),
		deleted:       make(map[string]bool),
		records:       make(map[string]bool),
	}
	if opts.Seed {
		s.seed()
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if s.opts.Logger != nil {
		r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{Logger: s.opts.Logger, NoColor: true}))
	}
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/conversations/{id}/recipients", s.handleDirectory)
		r.Get("/recipients/search", s.handleSearch)
		r.Post("/messages", s.handleSubmit)
		r.Post("/deletions", s.handleRequestDelete)
		r.Post("/deletions/confirm", s.handleConfirmDelete)
	})

	return r
}

// Handler returns the HTTP handler, for httptest servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logf("Sandbox: listening on %s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// AddContact registers a contact and attaches it to the given conversations
func (s *Server) AddContact(c Contact, conversationIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append(s.contacts, c)
	for _, id := range conversationIDs {
		s.conversations[id] = append(s.conversations[id], c.ID)
	}
}

// AddRecord makes a target deletable
func (s *Server) AddRecord(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[targetID] = true
}

// Deleted reports whether a target was deleted through a confirmed request
func (s *Server) Deleted(targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[targetID]
}

// SentMessages returns every accepted payload in arrival order
func (s *Server) SentMessages() []services.SubmitPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.SubmitPayload(nil), s.sent...)
}

func (s *Server) seed() {
	seed := []Contact{
		{ID: "c-1", Name: "Ana Ortiz", Email: "ana.ortiz@example.com", Phone: "+15550100001"},
		{ID: "c-2", Name: "Alice Chen", Email: "alice.chen@example.com", Phone: "+15550100002"},
		{ID: "c-3", Name: "Bob Marsh", Email: "bob.marsh@example.com"},
		{ID: "c-4", Name: "Dana Whitfield", Email: "dana@example.org", Phone: "+15550100004", OptedOut: true},
		{ID: "c-5", Name: "Case Desk", Email: "desk@cases.example.com", Phone: "+15550100005"},
	}
	s.contacts = append(s.contacts, seed...)
	s.conversations["conv-1"] = []string{"c-1", "c-2", "c-5"}
	s.conversations["conv-2"] = []string{"c-3", "c-4"}
	for _, id := range []string{"42", "43", "44"} {
		s.records[id] = true
	}
}

// authMiddleware validates the bearer token when an API key is configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.opts.APIKey)) != 1 {
			s.logf("Sandbox: unauthorized request to %s", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// generateOTP returns a uniformly random numeric code of the given length
func generateOTP(length int) (string, error) {
	max := big.NewInt(10)
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.opts.Logger != nil {
		s.opts.Logger.Printf(format, args...)
	}
}

// limitBody caps request bodies read by handlers
func limitBody(r *http.Request) io.Reader {
	return io.LimitReader(r.Body, 1<<20)
}

func subtleEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
