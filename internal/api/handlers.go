package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"media-catalog/internal/catalog"
	"media-catalog/internal/registry"
	"media-catalog/internal/thumbs"
)

// Handlers bundles the engine components behind the HTTP API.
type Handlers struct {
	registry *registry.Registry
	thumbs   *thumbs.Service
	started  time.Time
}

// New creates the API handlers.
func New(reg *registry.Registry, thumbSvc *thumbs.Service) *Handlers {
	return &Handlers{
		registry: reg,
		thumbs:   thumbSvc,
		started:  time.Now(),
	}
}

// Router builds the full API route table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/folders", h.ListFolders).Methods("GET")
	api.HandleFunc("/folders", h.AddFolder).Methods("POST")
	api.HandleFunc("/folders/{id}", h.RemoveFolder).Methods("DELETE")
	api.HandleFunc("/folders/{id}/refresh", h.RefreshFolder).Methods("POST")
	api.HandleFunc("/folders/{id}/assets", h.ListAssets).Methods("GET")
	api.HandleFunc("/folders/{id}/progress", h.GetProgress).Methods("GET")
	api.HandleFunc("/assets/upload-status", h.UpdateUploadStatus).Methods("POST")
	api.HandleFunc("/thumbnail/{key:.*}", h.GetThumbnail).Methods("GET")

	return r
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	Folders      int    `json:"folders"`
	Disabled     bool   `json:"disabled,omitempty"`
	GoVersion    string `json:"goVersion"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck reports engine health and a folder count.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:       "healthy",
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Folders:      len(h.registry.Folders()),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if h.registry.Disabled() {
		response.Status = "disabled"
		response.Disabled = true
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, response)
}

// LivenessCheck always returns 200 while the process is up.
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 503 until the registry is usable.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.registry.Disabled() {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{"status": "disabled"})
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// GetVersion returns build information.
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, GetBuildInfo())
}

// FolderResponse is one folder in API responses. The access token never
// leaves the process.
type FolderResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	Scanning    bool   `json:"scanning"`
	AssetCount  int    `json:"assetCount"`
}

func (h *Handlers) folderResponse(f catalog.RootFolder) FolderResponse {
	assets, _ := h.registry.Assets(f.ID)
	return FolderResponse{
		ID:          f.ID,
		DisplayName: f.DisplayName,
		State:       string(f.State),
		Scanning:    h.registry.Scanning(f.ID),
		AssetCount:  len(assets),
	}
}

// ListFolders returns all registered folders.
func (h *Handlers) ListFolders(w http.ResponseWriter, _ *http.Request) {
	folders := h.registry.Folders()
	out := make([]FolderResponse, 0, len(folders))
	for _, f := range folders {
		out = append(out, h.folderResponse(f))
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out)
}

// AddFolderRequest is the POST /api/folders payload.
type AddFolderRequest struct {
	Path        string `json:"path"`
	DisplayName string `json:"displayName"`
}

// AddFolder registers a new folder and scans it before responding.
func (h *Handlers) AddFolder(w http.ResponseWriter, r *http.Request) {
	var req AddFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		writeJSONError(w, "path is required", http.StatusBadRequest)
		return
	}

	folder, err := h.registry.AddFolder(r.Context(), req.Path, req.DisplayName)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, h.folderResponse(folder))
}

// RemoveFolder deletes a folder and its cached records.
func (h *Handlers) RemoveFolder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.registry.RemoveFolder(r.Context(), id); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSONStatus(w, "removed")
}

// RefreshFolder triggers a rescan. With ?silent=true the scan emits no
// progress events.
func (h *Handlers) RefreshFolder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	silent := r.URL.Query().Get("silent") == "true"

	if err := h.registry.RefreshFolder(r.Context(), id, silent); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSONStatus(w, "refreshed")
}

// ListAssets returns a folder's asset records.
func (h *Handlers) ListAssets(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	assets, ok := h.registry.Assets(id)
	if !ok {
		writeJSONError(w, "unknown folder", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, assets)
}

// GetProgress returns scan progress for a folder, or 204 when no
// progress-reporting scan is running.
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	progress, ok := h.registry.Progress(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, progress)
}

// UploadStatusRequest is the POST /api/assets/upload-status payload.
type UploadStatusRequest struct {
	AssetKey string `json:"assetKey"`
	Status   string `json:"status"`
	Note     string `json:"note"`
}

// UpdateUploadStatus annotates one asset with an upload outcome.
func (h *Handlers) UpdateUploadStatus(w http.ResponseWriter, r *http.Request) {
	var req UploadStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	status, ok := catalog.ParseUploadStatus(req.Status)
	if !ok {
		writeJSONError(w, "status must be \"success\" or \"error\"", http.StatusBadRequest)
		return
	}

	if err := h.registry.UpdateAssetUploadStatus(r.Context(), req.AssetKey, status, req.Note); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSONStatus(w, "updated")
}

// GetThumbnail serves the preview blob for an asset. Undecodable sources
// produce a 204 so clients can fall back to a generic icon.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	asset, ok := h.registry.Asset(key)
	if !ok {
		writeJSONError(w, "unknown asset", http.StatusNotFound)
		return
	}
	root, ok := h.registry.Handle(asset.FolderID)
	if !ok {
		writeJSONError(w, "folder needs permission", http.StatusConflict)
		return
	}

	thumb, err := h.thumbs.GetOrCreate(r.Context(), asset, root)
	if err != nil {
		writeJSONError(w, "failed to generate thumbnail", http.StatusInternalServerError)
		return
	}
	if thumb.None() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", thumb.MimeType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := w.Write(thumb.Data); err != nil {
		return
	}
}

// writeRegistryError maps registry sentinel errors to HTTP statuses.
func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownFolder):
		writeJSONError(w, "unknown folder", http.StatusNotFound)
	case errors.Is(err, registry.ErrScanInFlight):
		writeJSONError(w, "scan already in progress", http.StatusConflict)
	case errors.Is(err, registry.ErrNeedsPermission):
		writeJSONError(w, "folder needs permission", http.StatusConflict)
	case errors.Is(err, registry.ErrDisabled):
		writeJSONError(w, "filesystem access unavailable", http.StatusServiceUnavailable)
	default:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}
