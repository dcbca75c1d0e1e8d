package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"meshkv/internal/ai"
	"meshkv/internal/logs"
	"meshkv/internal/metrics"
	"meshkv/internal/peers"
	"meshkv/internal/replication"
	"meshkv/internal/store"
)

// Handler holds dependencies for HTTP handlers. The admin surface
// talks to the same store.Map the reactor replicates: a write made
// through this API is an ordinary local mutation of that map and
// replicates to peers like any other.
type Handler struct {
	store    *store.Map
	metrics  *metrics.Registry
	analyzer *ai.HealthAnalyzer
	peers    *peers.PeerManager
	reactor  *replication.Reactor
}

// NewHandler creates a new API handler.
func NewHandler(
	st *store.Map,
	metricsRegistry *metrics.Registry,
	logger *logs.Logger,
	peerManager *peers.PeerManager,
	reactor *replication.Reactor,
) *Handler {
	return &Handler{
		store:    st,
		metrics:  metricsRegistry,
		analyzer: ai.NewHealthAnalyzer(metricsRegistry, logger),
		peers:    peerManager,
		reactor:  reactor,
	}
}

/* ---------------- PUT /kv/{key} ---------------- */

type setRequest struct {
	Value string `json:"value"`
}

type entryResponse struct {
	Value      string `json:"value,omitempty"`
	Tombstone  bool   `json:"tombstone"`
	Timestamp  int64  `json:"timestamp"`
	ModifierID byte   `json:"modifier_id"`
}

func (h *Handler) SetKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "missing key in URL", http.StatusBadRequest)
		return
	}

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	h.store.Put([]byte(key), []byte(req.Value))
	w.WriteHeader(http.StatusNoContent)
}

/* ---------------- GET /kv/{key} ---------------- */

func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	entry, ok := h.store.Get([]byte(key))
	if !ok {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entryResponse{
		Value:      string(entry.Value),
		Tombstone:  !entry.HasValue,
		Timestamp:  entry.Timestamp,
		ModifierID: entry.ModifierID,
	})
}

/* ---------------- DELETE /kv/{key} ---------------- */

func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	h.store.Remove([]byte(key))
	w.WriteHeader(http.StatusNoContent)
}

/* ---------------- GET /admin/keys ---------------- */

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	entries := h.store.List()

	resp := make(map[string]string, len(entries))
	for k, v := range entries {
		resp[k] = string(v.Value)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

/* ---------------- GET /metrics ---------------- */

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.metrics.Snapshot())
}

/* ---------------- GET /health ---------------- */

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := h.analyzer.Analyze()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

/* ---------------- GET /admin/sessions ---------------- */

// GetSessions reports the remote identifiers with an active
// replication session, independent of the HTTP-facing peer health
// summary in GetPeers.
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	ids := h.reactor.Snapshot()
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		out = append(out, int(id))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
