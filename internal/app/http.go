package app

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/utils"
)

// routes builds the HTTP surface: the snapshot read API, the websocket
// endpoint and the operational endpoints.
func (a *App) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/tasks/{id}", a.taskHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", a.hub.Handle)
	r.HandleFunc("/healthz", healthzHandler)
	r.HandleFunc("/readyz", a.readyzHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Use(requestLogging)
	return r
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}

// taskHandler serves the durable snapshot of one conversation.
func (a *App) taskHandler(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		utils.JSONError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	snap, ok := a.rooms.Snapshot(models.TaskID(id))
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "task not found")
		return
	}
	utils.JSONWrite(w, http.StatusOK, snap)
}

func (a *App) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	if a.cache == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok", "version": ver})
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}
