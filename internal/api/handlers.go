package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kosmos-bio/kosmos/internal/chat"
	"github.com/kosmos-bio/kosmos/internal/document"
	"github.com/kosmos-bio/kosmos/internal/entity"
	"github.com/kosmos-bio/kosmos/internal/rag"
	"github.com/kosmos-bio/kosmos/internal/session"
)

// maxBodyBytes bounds request bodies; the largest legitimate payload is
// a long question plus filters.
const maxBodyBytes = 64 * 1024

// maxQuestionRunes bounds a single question.
const maxQuestionRunes = 4000

type chatRequest struct {
	Message   string            `json:"message"`
	SessionID string            `json:"session_id,omitempty"`
	TopK      int               `json:"top_k,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
}

type chatResponse struct {
	Response  string          `json:"response"`
	Sources   []rag.Source    `json:"sources"`
	Entities  []entity.Entity `json:"entities"`
	SessionID string          `json:"session_id,omitempty"`
}

// handleChat answers one question, optionally inside a session. With a
// session ID the stored history feeds the prompt and the turn is
// persisted after answering.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeBadRequest(w, "message is required", s.logger)
		return
	}
	if len([]rune(req.Message)) > maxQuestionRunes {
		writeBadRequest(w, "message too long", s.logger)
		return
	}

	var sessionID uuid.UUID
	var history []rag.Message
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeBadRequest(w, "invalid session_id", s.logger)
			return
		}
		sessionID = id

		messages, err := s.sessions.History(r.Context(), sessionID, session.DefaultHistoryLimit)
		if err != nil {
			writeError(w, err, s.logger)
			return
		}
		history = session.AsPipelineHistory(messages)
	}

	answer, err := s.pipeline.Answer(r.Context(), document.Query{
		Text:    req.Message,
		TopK:    req.TopK,
		Filters: req.Filters,
	}, history)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}

	resp := chatResponse{
		Response: answer.Text,
		Sources:  orEmptySources(answer.Sources),
		Entities: orEmptyEntities(answer.Entities),
	}
	if sessionID != uuid.Nil {
		resp.SessionID = sessionID.String()
		err := s.sessions.AppendTurn(r.Context(), sessionID, session.Turn{
			Question: req.Message,
			Answer:   answer.Text,
			Sources:  answer.Sources,
			Entities: answer.Entities,
		})
		if err != nil {
			writeError(w, err, s.logger)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp, s.logger)
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: sess.ID.String(),
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}, s.logger)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	sessions, err := s.sessions.List(r.Context(), limit)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			SessionID: sess.ID.String(),
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out}, s.logger)
}

type historyResponse struct {
	SessionID string            `json:"session_id"`
	Title     string            `json:"title,omitempty"`
	Messages  []session.Message `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathSessionID(w, r)
	if !ok {
		return
	}

	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	messages, err := s.sessions.History(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	if messages == nil {
		messages = []session.Message{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		SessionID: id.String(),
		Title:     sess.Title,
		Messages:  messages,
	}, s.logger)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathSessionID(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Clear(r.Context(), id); err != nil {
		writeError(w, err, s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathSessionID(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		writeError(w, err, s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query    string         `json:"query"`
	Limit    int            `json:"limit,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
	MinScore float32        `json:"min_score,omitempty"`
}

type searchResult struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	SourceType string            `json:"sourceType"`
	Score      float32           `json:"score"`
	Metadata   document.Metadata `json:"metadata"`
}

// handleSearch exposes raw similarity search without generation.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeBadRequest(w, "query is required", s.logger)
		return
	}

	candidates, err := s.retriever.Retrieve(r.Context(), document.Query{
		Text:     req.Query,
		TopK:     req.Limit,
		Filters:  stringFilters(req.Filters),
		MinScore: req.MinScore,
	})
	if err != nil {
		writeError(w, err, s.logger)
		return
	}

	results := make([]searchResult, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, searchResult{
			ID:         c.Document.ID,
			Title:      c.Document.Metadata.Title,
			Content:    excerpt(c.Document.Content),
			SourceType: string(c.Document.Metadata.SourceType),
			Score:      c.Score,
			Metadata:   c.Document.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results}, s.logger)
}

// stringFilters keeps only string-valued filter entries. Clients send
// structured filters like dateRange objects that the store cannot match
// on; those pass through the request unharmed and are simply not applied.
func stringFilters(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok && s != "" {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type extractRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeBadRequest(w, "text is required", s.logger)
		return
	}

	entities := s.extractor.Extract(r.Context(), req.Text)
	writeJSON(w, http.StatusOK, map[string]any{"entities": orEmptyEntities(entities)}, s.logger)
}

type healthResponse struct {
	Status     string         `json:"status"`
	Corpus     map[string]int `json:"corpus"`
	Total      int            `json:"total_documents"`
	Generation string         `json:"generation"`
}

// handleHealth reports store connectivity with a real round trip and the
// generation circuit position. The circuit stands in for a live Gemini
// probe so health checks do not burn quota.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.corpus.HealthCheck(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:     "degraded",
			Generation: s.breaker.BreakerState().String(),
		}, s.logger)
		return
	}

	status := "ok"
	httpStatus := http.StatusOK
	if s.breaker.BreakerState() == chat.CircuitOpen {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:     status,
		Corpus:     stats.BySourceType,
		Total:      stats.Total,
		Generation: s.breaker.BreakerState().String(),
	}, s.logger)
}

// decode parses a bounded JSON body, rejecting unknown fields.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, "request body is required", s.logger)
			return false
		}
		writeBadRequest(w, "invalid JSON body", s.logger)
		return false
	}
	return true
}

func (s *Server) pathSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeBadRequest(w, "invalid session_id", s.logger)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// excerpt trims document content for search results.
func excerpt(content string) string {
	const limit = 1000
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit])
}

func orEmptySources(s []rag.Source) []rag.Source {
	if s == nil {
		return []rag.Source{}
	}
	return s
}

func orEmptyEntities(e []entity.Entity) []entity.Entity {
	if e == nil {
		return []entity.Entity{}
	}
	return e
}
