package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/usecase"
	"github.com/sirawit-k/pmqa-graphrag/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	ingest   ports.DocumentIngestor
	search   *usecase.SearchUseCase
	answer   ports.AnswerService
	repo     ports.DocumentRepository
	taxonomy *domain.Taxonomy
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(
	ingest ports.DocumentIngestor,
	search *usecase.SearchUseCase,
	answer ports.AnswerService,
	repo ports.DocumentRepository,
	taxonomy *domain.Taxonomy,
	serverMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		ingest:   ingest,
		search:   search,
		answer:   answer,
		repo:     repo,
		taxonomy: taxonomy,
		metrics:  serverMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.documents)
	mux.HandleFunc("/v1/documents/", rt.documentByID)
	mux.HandleFunc("/v1/search", rt.searchDocuments)
	mux.HandleFunc("/v1/answer", rt.answerQuestion)
	mux.HandleFunc("/v1/taxonomy", rt.taxonomyTree)
	mux.HandleFunc("/v1/criteria/", rt.criterionEvidence)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) documents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

// documentByID multiplexes /v1/documents/{id} and its /reprocess, /related
// and /keywords subresources.
func (rt *Router) documentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			doc, err := rt.repo.GetByID(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			if err := rt.ingest.Delete(r.Context(), id); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		}
	case "reprocess":
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		if err := rt.ingest.Reprocess(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(domain.StatusPending)})
	case "related":
		switch r.Method {
		case http.MethodGet:
			minStrength := queryFloat(r, "min_strength", 0)
			limit := queryInt(r, "limit", 0)
			related, err := rt.search.Related(r.Context(), id, minStrength, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "related": related})
		case http.MethodPost:
			var req struct {
				ToID     string  `json:"to_id"`
				Strength float64 `json:"strength"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
				return
			}
			if err := rt.ingest.Link(r.Context(), id, req.ToID, req.Strength); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"document_id": id,
				"to_id":       req.ToID,
				"strength":    req.Strength,
			})
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		}
	case "keywords":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		keywords, err := rt.search.Keywords(r.Context(), id, queryInt(r, "limit", 0))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "keywords": keywords})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (rt *Router) searchDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Query    string `json:"query"`
		Mode     string `json:"mode"`
		Category string `json:"category"`
		Limit    int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	start := time.Now()
	mode := domain.SearchMode(req.Mode)
	results, err := rt.search.Search(r.Context(), req.Query, mode, domain.SearchFilter{
		Category: req.Category,
	}, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		reportedMode := string(mode)
		if reportedMode == "" {
			reportedMode = string(domain.ModeHybrid)
		}
		rt.metrics.RecordSearch(serviceName, reportedMode, len(results), time.Since(start))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (rt *Router) answerQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Question string `json:"question"`
		Category string `json:"category"`
		Limit    int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	answer, err := rt.answer.Answer(r.Context(), req.Question, domain.SearchFilter{
		Category: req.Category,
	}, req.Limit)
	if rt.metrics != nil {
		rt.metrics.RecordAnswer(serviceName, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) taxonomyTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": rt.taxonomy.Nodes()})
}

func (rt *Router) criterionEvidence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/criteria/")
	number, action, _ := strings.Cut(rest, "/")
	if number == "" || action != "evidence" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	evidence, err := rt.search.Evidence(r.Context(), number, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"criterion": number, "evidence": evidence})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryFloat(r *http.Request, key string, fallback float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
