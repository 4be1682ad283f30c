package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/netauto/nsosync/internal/reachability"
)

var Prober reachability.Prober

// probeTimeout bounds the remote TCP probe, not the ssh hop to the jump
// host, which carries its own connect timeout.
const probeTimeout = 5 * time.Second

// CheckReachability probes the instance's API port from its jump host.
// Directly reachable instances are probed trivially true.
func CheckReachability(w http.ResponseWriter, r *http.Request) {
	inst, err := Inv.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if !inst.UseTunnel {
		writeJSON(w, http.StatusOK, reachability.Result{
			Reachable: true,
			Message:   "instance is directly reachable, no jump host involved",
		})
		return
	}

	res := Prober.Probe(r.Context(), inst.JumpHost, inst.Host, inst.Port, probeTimeout)
	writeJSON(w, http.StatusOK, res)
}
