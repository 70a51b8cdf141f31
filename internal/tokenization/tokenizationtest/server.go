// Package tokenizationtest provides an in-process tokenization service for tests.
package tokenizationtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const APIKey = "test-api-key"

// Card is the credential the double releases for every valid reveal token.
type Card struct {
	CardNumber     string `json:"card_number"`
	CardExpiryDate string `json:"card_expiry_date"`
	CardCVV        string `json:"card_cvv"`
	CardholderName string `json:"cardholder_name"`
	BillingAddress string `json:"billing_address"`
	City           string `json:"city"`
	State          string `json:"state"`
	ZipCode        string `json:"zip_code"`
	Email          string `json:"email"`
	PhoneNumber    string `json:"phone_number"`
}

func DefaultCard() Card {
	return Card{
		CardNumber:     "4242424242424242",
		CardExpiryDate: "12/2034",
		CardCVV:        "123",
		CardholderName: "Test User",
		BillingAddress: "123 Main St",
		City:           "San Francisco",
		State:          "CA",
		ZipCode:        "94105",
		Email:          "test@example.com",
		PhoneNumber:    "+15555550100",
	}
}

type revealToken struct {
	mandateID string
	userID    string
	used      bool
}

// Server implements the three tokenization endpoints. Mandate creation is
// idempotent per Idempotency-Key, reveal tokens are single-use, and the
// failure knobs make individual stages misbehave.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	nextMandate int
	byKey       map[string]string
	mandates    map[string]string // mandate id -> user id
	tokens      map[string]*revealToken
	calls       map[string]int
	card        Card

	emptyMandateID bool
	emptyToken     bool
	failures       map[string]int
	lastPrice      string
}

func NewServer() *Server {
	s := &Server{
		nextMandate: 1000,
		byKey:       map[string]string{},
		mandates:    map[string]string{},
		tokens:      map[string]*revealToken{},
		calls:       map[string]int{},
		failures:    map[string]int{},
		card:        DefaultCard(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/mandate/create", s.handleCreateMandate)
	mux.HandleFunc("POST /api/v1/wallet/request_card_reveal_token", s.handleRevealToken)
	mux.HandleFunc("GET /api/v1/wallet/token", s.handleRevealCard)
	s.Server = httptest.NewServer(mux)
	return s
}

// ReturnEmptyMandateID makes create-mandate answer 200 without an id.
func (s *Server) ReturnEmptyMandateID(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyMandateID = v
}

// ReturnEmptyToken makes the reveal token endpoint answer 200 without a token.
func (s *Server) ReturnEmptyToken(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyToken = v
}

// FailPath makes every call to path answer with status.
func (s *Server) FailPath(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

func (s *Server) SetCard(c Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.card = c
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// MandateCount returns how many distinct mandates were created.
func (s *Server) MandateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mandates)
}

// LastMandatePrice returns the price of the last mandate request exactly
// as it appeared in the JSON body.
func (s *Server) LastMandatePrice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrice
}

// begin records the call and runs the shared checks. It returns false after
// writing an error response.
func (s *Server) begin(w http.ResponseWriter, r *http.Request) bool {
	s.calls[r.URL.Path]++
	if status, ok := s.failures[r.URL.Path]; ok {
		writeJSON(w, status, map[string]string{"error": fmt.Sprintf("injected failure on %s", r.URL.Path)})
		return false
	}
	if r.Header.Get("x-api-key") != APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		return false
	}
	if r.Header.Get("x-user-id") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "x-user-id header is required"})
		return false
	}
	return true
}

func (s *Server) handleCreateMandate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, r) {
		return
	}
	var body struct {
		Product   string          `json:"product"`
		Price     json.RawMessage `json:"price"`
		RequestID string          `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.lastPrice = string(body.Price)
	if s.emptyMandateID {
		writeJSON(w, http.StatusOK, map[string]any{"mandate_id": nil})
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if id, ok := s.byKey[key]; ok && key != "" {
		writeJSON(w, http.StatusOK, map[string]any{"mandate_id": json.Number(id)})
		return
	}
	s.nextMandate++
	id := fmt.Sprint(s.nextMandate)
	s.mandates[id] = r.Header.Get("x-user-id")
	if key != "" {
		s.byKey[key] = id
	}
	writeJSON(w, http.StatusOK, map[string]any{"mandate_id": json.Number(id)})
}

func (s *Server) handleRevealToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, r) {
		return
	}
	var body struct {
		MandateID string `json:"mandate_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MandateID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mandate_id is required"})
		return
	}
	owner, ok := s.mandates[body.MandateID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "mandate not found"})
		return
	}
	if owner != r.Header.Get("x-user-id") {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "mandate belongs to another user"})
		return
	}
	if s.emptyToken {
		writeJSON(w, http.StatusOK, map[string]string{"reveal_token": ""})
		return
	}
	token := "rvl_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.tokens[token] = &revealToken{mandateID: body.MandateID, userID: owner}
	writeJSON(w, http.StatusOK, map[string]string{"reveal_token": token})
}

func (s *Server) handleRevealCard(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, r) {
		return
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "reveal token is required"})
		return
	}
	rt, ok := s.tokens[token]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown reveal token"})
		return
	}
	if rt.used {
		writeJSON(w, http.StatusGone, map[string]string{"error": "reveal token already used"})
		return
	}
	if rt.userID != r.Header.Get("x-user-id") {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "reveal token belongs to another user"})
		return
	}
	rt.used = true
	writeJSON(w, http.StatusOK, s.card)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
