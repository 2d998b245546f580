package fetch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// requestTimeout bounds how long a single HTTP fetch request waits on the
// coordinator before the caller gets a timeout response.
const requestTimeout = 10 * time.Second

type postRequest struct {
	DID    string `json:"did"`
	Cursor string `json:"cursor"`
}

type postResponse struct {
	Posts  []postPost `json:"posts"`
	Cursor string     `json:"cursor"`
}

type postPost struct {
	URI       string `json:"uri"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// Handler builds the http.Handler serving POST /fetchPosts. onDID, if
// non-nil, is invoked with the requesting DID before the fetch runs, so a
// caller can trigger out-of-band work (e.g. graph backfill) keyed to the
// same request without this package depending on that caller's package.
func Handler(log *slog.Logger, coord *Coordinator, onDID func(did string)) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fetchPosts", func(w http.ResponseWriter, r *http.Request) {
		handleFetchPosts(log, coord, onDID, w, r)
	})
	return mux
}

func handleFetchPosts(log *slog.Logger, coord *Coordinator, onDID func(did string), w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqID := uuid.New().String()
	log = log.With(slog.String("request_id", reqID))

	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if onDID != nil && req.DID != "" {
		onDID(req.DID)
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp, err := coord.Fetch(ctx, req.DID, req.Cursor)
	if err != nil {
		if ctx.Err() != nil {
			http.Error(w, "request timed out", http.StatusRequestTimeout)
			return
		}
		log.Error("fetch request failed", "did", req.DID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-Request-Id", reqID)

	posts := make([]postPost, len(resp.Posts))
	for i, p := range resp.Posts {
		posts[i] = postPost{URI: p.URI, Reason: p.Reason, Timestamp: p.Timestamp}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(postResponse{Posts: posts, Cursor: resp.Cursor}); err != nil {
		log.Error("encode fetch response failed", "error", err)
	}
}
