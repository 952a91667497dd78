package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"graphrag"
	"graphrag/index"
	"graphrag/ingest"
	"graphrag/retrieval"
)

type handler struct {
	svc *graphrag.Service
}

func newHandler(svc *graphrag.Service) *handler {
	return &handler{svc: svc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeServiceError projects the error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, graphrag.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, graphrag.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, graphrag.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, graphrag.ErrLocked):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func csvParam(r *http.Request, key string) []string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// POST /ingest
// Accepts a multipart file upload (field "file") or a JSON body with
// raw text.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.handleIngestFile(w, r)
		return
	}

	var req struct {
		Text              string         `json:"text"`
		DocID             string         `json:"doc_id"`
		Namespace         string         `json:"namespace"`
		Metadata          map[string]any `json:"metadata"`
		ForceHeuristic    bool           `json:"force_heuristic"`
		DisableEmbeddings bool           `json:"disable_embeddings"`
		ComputeLayout     *bool          `json:"compute_layout"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.svc.Ingest(r.Context(), req.Text, ingest.Options{
		DocID:             req.DocID,
		Namespace:         req.Namespace,
		Metadata:          req.Metadata,
		ForceHeuristic:    req.ForceHeuristic,
		DisableEmbeddings: req.DisableEmbeddings,
		ComputeLayout:     req.ComputeLayout == nil || *req.ComputeLayout,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	// Base name only: no path traversal through the filename.
	safeName := filepath.Base(header.Filename)
	tmpPath := filepath.Join(os.TempDir(), safeName)
	dst, err := os.Create(tmpPath)
	if err != nil {
		slog.Error("creating temp file", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process file")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	dst.Close()
	defer os.Remove(tmpPath)

	computeLayout := true
	if v := r.FormValue("compute_layout"); v != "" {
		computeLayout, _ = strconv.ParseBool(v)
	}
	res, err := h.svc.IngestFile(r.Context(), tmpPath, ingest.Options{
		DocID:          r.FormValue("doc_id"),
		Namespace:      r.FormValue("namespace"),
		ForceHeuristic: r.FormValue("force_heuristic") == "true",
		ComputeLayout:  computeLayout,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query          string   `json:"query"`
		TopK           int      `json:"top_k"`
		Namespace      string   `json:"namespace"`
		LabelFilter    []string `json:"label_filter"`
		RelationFilter []string `json:"relation_filter"`
		IncludeEdges   bool     `json:"include_edges"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	results, edges, meta, err := h.svc.Query(r.Context(), req.Query, retrieval.Options{
		TopK:           req.TopK,
		Namespace:      req.Namespace,
		LabelFilter:    req.LabelFilter,
		RelationFilter: req.RelationFilter,
		IncludeEdges:   req.IncludeEdges,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": results,
		"edges":   edges,
		"meta":    meta,
	})
}

// POST /query2
func (h *handler) handleQuery2(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string `json:"query"`
		Mode      string `json:"mode"`
		TopK      int    `json:"top_k"`
		Namespace string `json:"namespace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := h.svc.Query2(r.Context(), req.Query, req.Mode, req.TopK, req.Namespace)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /answer
func (h *handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question  string `json:"question"`
		TopK      int    `json:"top_k"`
		Namespace string `json:"namespace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.svc.Answer(r.Context(), req.Question, req.TopK, req.Namespace)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /path?source_id=&target_id=&max_depth=&namespace=
func (h *handler) handlePath(w http.ResponseWriter, r *http.Request) {
	ids, edges, err := h.svc.Path(r.Context(),
		r.URL.Query().Get("source_id"),
		r.URL.Query().Get("target_id"),
		queryInt(r, "max_depth", 0),
		r.URL.Query().Get("namespace"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"path":    ids,
		"edges":   edges,
		"found":   len(ids) > 0,
	})
}

// GET /similar?node_id=&top_k=&namespace=
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.Similar(r.Context(),
		r.URL.Query().Get("node_id"),
		queryInt(r, "top_k", 0),
		r.URL.Query().Get("namespace"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

// GET /graph?namespace=&labels=&limit=&min_x=&min_y=&max_x=&max_y=
func (h *handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var vp graphrag.Viewport
	if q.Get("min_x") != "" && q.Get("max_x") != "" {
		vp.MinX, _ = strconv.ParseFloat(q.Get("min_x"), 64)
		vp.MinY, _ = strconv.ParseFloat(q.Get("min_y"), 64)
		vp.MaxX, _ = strconv.ParseFloat(q.Get("max_x"), 64)
		vp.MaxY, _ = strconv.ParseFloat(q.Get("max_y"), 64)
		vp.HasBounds = true
	}
	view, err := h.svc.Graph(r.Context(), q.Get("namespace"), csvParam(r, "labels"), vp, queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /nodes?namespace=&cursor=&limit=&labels=
func (h *handler) handleNodes(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.Nodes(r.Context(),
		r.URL.Query().Get("namespace"),
		r.URL.Query().Get("cursor"),
		queryInt(r, "limit", 0),
		csvParam(r, "labels"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GET /edges?namespace=&cursor=&limit=&relations=
func (h *handler) handleEdges(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.Edges(r.Context(),
		r.URL.Query().Get("namespace"),
		r.URL.Query().Get("cursor"),
		queryInt(r, "limit", 0),
		csvParam(r, "relations"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// POST /cluster
func (h *handler) handleCluster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Namespace string `json:"namespace"`
		Force     bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.svc.Clusters(r.Context(), req.Namespace, req.Force)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /cluster/summarize
func (h *handler) handleClusterSummarize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Namespace  string   `json:"namespace"`
		ClusterIDs []string `json:"cluster_ids"`
		MaxTokens  int      `json:"max_tokens"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	summaries, err := h.svc.SummarizeClusters(r.Context(), req.Namespace, req.ClusterIDs, req.MaxTokens)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summaries": summaries})
}

// POST /layout
func (h *handler) handleLayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Namespace string `json:"namespace"`
		Mode      string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	n, err := h.svc.RecomputeLayout(r.Context(), req.Namespace, req.Mode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "nodes_positioned": n})
}

// POST /centrality
func (h *handler) handleCentrality(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Namespace string `json:"namespace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	n, err := h.svc.ComputeCentrality(r.Context(), req.Namespace)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "nodes_updated": n})
}

// POST /snapshots
func (h *handler) handleSnapshotCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Namespace string `json:"namespace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	snap, err := h.svc.CreateSnapshot(r.Context(), req.Namespace)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /snapshots?namespace=&limit=
func (h *handler) handleSnapshotList(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.ListSnapshots(r.Context(), r.URL.Query().Get("namespace"), queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "snapshots": snaps})
}

// GET /snapshots/diff?a=&b=
func (h *handler) handleSnapshotDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := h.svc.DiffSnapshots(r.Context(), r.URL.Query().Get("a"), r.URL.Query().Get("b"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// POST /index/run
func (h *handler) handleIndexRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Namespace string `json:"namespace"`
		DryRun    bool   `json:"dry_run"`
		Force     bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := h.svc.RunIndex(r.Context(), index.Options{
		Namespace: req.Namespace,
		DryRun:    req.DryRun,
		Force:     req.Force,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if report.Status == index.StatusLocked {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

// GET /index/status
func (h *handler) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.IndexStatus()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /index/log?n=
func (h *handler) handleIndexLog(w http.ResponseWriter, r *http.Request) {
	lines, err := h.svc.IndexLog(queryInt(r, "n", 100))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lines": lines})
}

// GET /metrics
func (h *handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Metrics().Snapshot())
}

// GET /stream — server-sent events.
func (h *handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.svc.Events().Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + ev.Name + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// POST /reset
func (h *handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "reset requires ?confirm=true")
		return
	}
	if err := h.svc.Reset(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Store().CountNodes(r.Context(), "health"); err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
