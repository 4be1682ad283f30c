package handlers

import (
	"net/http"

	"github.com/netauto/nsosync/internal/logging"
)

// ServerLogs returns the tail of the service's own log file, for quick
// diagnosis without shell access to the host.
func ServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := queryInt(r, "lines", 200)
	if lines < 1 || lines > 5000 {
		lines = 200
	}

	tail, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"log": tail})
}

// ClearServerLogs truncates the log file.
func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
