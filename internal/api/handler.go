package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"storyreel/internal/files"
	"storyreel/internal/imaging"
	"storyreel/internal/logging"
	"storyreel/internal/playback"
	"storyreel/internal/stories"
)

// multipartOverhead is allowed on top of the image limit for form framing.
const multipartOverhead = 1 << 20

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// Handler handles HTTP requests.
type Handler struct {
	stories        *stories.Service
	maxUploadBytes int64
	upgrader       websocket.Upgrader
	mux            *http.ServeMux
}

// NewHandler creates a new HTTP handler. Websocket connections are accepted
// from the same origins as CORS requests.
func NewHandler(svc *stories.Service, maxUploadBytes int64, cors CORSConfig) *Handler {
	h := &Handler{
		stories:        svc,
		maxUploadBytes: maxUploadBytes,
		mux:            http.NewServeMux(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || cors.allows(origin)
		},
	}
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /api/stories", h.handleList)
	h.mux.HandleFunc("POST /api/stories", h.handleUpload)
	h.mux.HandleFunc("GET /api/stories/{id}/image", h.handleImage)
	h.mux.HandleFunc("GET /api/stories/{id}/viewed", h.handleViewed)

	h.mux.HandleFunc("GET /api/viewer", h.handleViewer)
	h.mux.HandleFunc("POST /api/viewer/open", h.handleOpen)
	h.mux.HandleFunc("POST /api/viewer/close", h.handleClose)
	h.mux.HandleFunc("POST /api/viewer/next", h.handleNav(h.stories.Next))
	h.mux.HandleFunc("POST /api/viewer/prev", h.handleNav(h.stories.Prev))
	h.mux.HandleFunc("POST /api/viewer/drag", h.handleDrag)
	h.mux.HandleFunc("POST /api/viewer/release", h.handleRelease)
	h.mux.HandleFunc("POST /api/viewer/key", h.handleKey)
	h.mux.HandleFunc("GET /api/viewer/stream", h.handleStream)

	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// StoryResponse describes one live story.
type StoryResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Viewed    bool      `json:"viewed"`
	ImageURL  string    `json:"image_url"`
}

// ViewerResponse describes the story viewer.
type ViewerResponse struct {
	Open           bool      `json:"open"`
	Index          int       `json:"index"`
	StoryID        string    `json:"story_id,omitempty"`
	StoryIDs       []string  `json:"story_ids"`
	DragOffset     float64   `json:"drag_offset"`
	DwellStartedAt time.Time `json:"dwell_started_at,omitzero"`
	DwellMS        int64     `json:"dwell_ms"`
	Progress       []float64 `json:"progress,omitempty"`
	Seq            uint64    `json:"seq"`
}

// ReleaseResponse reports the navigation a drag release caused.
type ReleaseResponse struct {
	Nav    string         `json:"nav"`
	Viewer ViewerResponse `json:"viewer"`
}

type openRequest struct {
	StoryID string `json:"story_id"`
}

type dragRequest struct {
	Offset float64 `json:"offset"`
}

type releaseRequest struct {
	Offset    float64 `json:"offset"`
	Direction string  `json:"direction"`
}

type keyRequest struct {
	Key string `json:"key"`
}

func (h *Handler) storyResponse(st stories.Story) StoryResponse {
	url := h.stories.ImageURL(st.ID)
	if url == "" {
		url = "/api/stories/" + st.ID + "/image"
	}
	return StoryResponse{
		ID:        st.ID,
		CreatedAt: st.Created().UTC(),
		ExpiresAt: st.ExpiresAt().UTC(),
		Viewed:    h.stories.HasBeenViewed(st.ID),
		ImageURL:  url,
	}
}

func viewerResponse(st playback.State, progress []float64) ViewerResponse {
	resp := ViewerResponse{
		Open:     st.Open,
		StoryIDs: st.IDs,
		Seq:      st.Seq,
	}
	if resp.StoryIDs == nil {
		resp.StoryIDs = []string{}
	}
	if !st.Open {
		return resp
	}
	resp.Index = st.Index
	resp.StoryID = st.IDs[st.Index]
	resp.DragOffset = st.DragOffset
	resp.DwellStartedAt = st.DwellStartedAt.UTC()
	resp.DwellMS = st.Dwell.Milliseconds()
	resp.Progress = progress
	return resp
}

func (h *Handler) currentViewer() ViewerResponse {
	v := h.stories.Viewer()
	return viewerResponse(v.State, v.Progress)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list := h.stories.ListStories()
	resp := make([]StoryResponse, 0, len(list))
	for _, st := range list {
		resp = append(resp, h.storyResponse(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)

	file, _, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, imaging.ErrTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	st, err := h.stories.AddStory(r.Context(), file)
	if err != nil {
		writeError(w, "upload failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, h.storyResponse(st))
}

func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if files.ValidateID(id) != nil {
		http.Error(w, "invalid story id", http.StatusBadRequest)
		return
	}

	if url := h.stories.ImageURL(id); url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	rc, err := h.stories.OpenImage(r.Context(), id)
	if errors.Is(err, files.ErrNotFound) {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load image", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", imaging.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		logging.HTTP.Printf("failed to send image %s: %v", id, err)
	}
}

func (h *Handler) handleViewed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if files.ValidateID(id) != nil {
		http.Error(w, "invalid story id", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"viewed": h.stories.HasBeenViewed(id)})
}

func (h *Handler) handleViewer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.currentViewer())
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StoryID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := h.stories.OpenViewer(req.StoryID); err != nil {
		writeError(w, "failed to open viewer", err)
		return
	}
	writeJSON(w, http.StatusOK, h.currentViewer())
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	h.stories.CloseViewer()
	writeJSON(w, http.StatusOK, h.currentViewer())
}

func (h *Handler) handleNav(move func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := move(); err != nil {
			writeError(w, "navigation failed", err)
			return
		}
		writeJSON(w, http.StatusOK, h.currentViewer())
	}
}

func (h *Handler) handleDrag(w http.ResponseWriter, r *http.Request) {
	var req dragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.stories.DragUpdate(req.Offset); err != nil {
		writeError(w, "drag failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.currentViewer())
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	dir, err := playback.ParseDirection(req.Direction)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	nav, err := h.stories.DragRelease(req.Offset, dir)
	if err != nil {
		writeError(w, "release failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseResponse{Nav: nav.String(), Viewer: h.currentViewer()})
}

func (h *Handler) handleKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.stories.HandleKey(req.Key); err != nil {
		writeError(w, "key not handled", err)
		return
	}
	writeJSON(w, http.StatusOK, h.currentViewer())
}

// handleStream pushes every viewer state change over a websocket, starting
// with the current state.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		logging.HTTP.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.stories.Subscribe()
	defer cancel()

	// The reader only watches for the client going away and answers pings.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v ViewerResponse) bool {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(v); err != nil {
			logging.HTTP.Printf("viewer stream write failed: %v", err)
			return false
		}
		return true
	}

	if !send(h.currentViewer()) {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if !send(viewerResponse(st, nil)) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Internal.Printf("failed to encode response: %v", err)
	}
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and reported with msg only.
func writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, imaging.ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case stories.IsInputError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, imaging.ErrEncoding):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, stories.ErrStoryNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, stories.ErrNoViewer):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, stories.ErrUnknownKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logging.Internal.Printf("%s: %v", msg, err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
