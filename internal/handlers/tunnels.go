package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netauto/nsosync/internal/logutil"
	"github.com/netauto/nsosync/internal/tunnel"
)

// ConnectInstance ensures a tunnel (or direct-access record) exists for
// the named instance. Repeating the call against a live tunnel is a
// successful no-op.
func ConnectInstance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	inst, err := Inv.Lookup(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	// Optional pre-flight: prove the target answers from the jump host
	// before spending a launch attempt on it.
	if r.URL.Query().Get("preflight") == "true" && inst.UseTunnel && Prober != nil {
		if res := Prober.Probe(r.Context(), inst.JumpHost, inst.Host, inst.Port, probeTimeout); !res.Reachable {
			writeJSON(w, http.StatusBadGateway, tunnel.Status{Success: false, Message: res.Message})
			return
		}
	}

	status, err := Tunnels.Connect(r.Context(), inst)
	if err != nil {
		log.Printf("[api] connect %s: %v", logutil.SanitizeForLog(name), err)
		code := http.StatusBadGateway
		if errors.Is(err, tunnel.ErrPortConflict) {
			code = http.StatusConflict
		}
		writeJSON(w, code, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// DisconnectInstance tears the instance's tunnel down. Not-found is 404,
// not an internal error.
func DisconnectInstance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := Inv.Lookup(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	status, err := Tunnels.Disconnect(name)
	if err != nil {
		if errors.Is(err, tunnel.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, status)
			return
		}
		log.Printf("[api] disconnect %s: %v", logutil.SanitizeForLog(name), err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListTunnels returns the live tunnel table, staleness already swept.
func ListTunnels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tunnels": Tunnels.ListActive(),
	})
}
