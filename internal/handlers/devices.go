package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netauto/nsosync/internal/config"
)

// ConnectionTest probes the instance's API through whatever endpoint is
// active. Failures come back as a 200 with success=false: the test ran,
// the instance just did not answer well.
func ConnectionTest(w http.ResponseWriter, r *http.Request) {
	inst, err := Inv.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	client, err := clientFor(inst)
	if err != nil {
		writeError(w, clientErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, client.TestConnection(r.Context()))
}

// ListDevices returns the device names the instance manages.
func ListDevices(w http.ResponseWriter, r *http.Request) {
	inst, err := Inv.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	client, err := clientFor(inst)
	if err != nil {
		writeError(w, clientErrStatus(err), err.Error())
		return
	}

	devices, err := client.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

// clientErrStatus maps client construction failures: missing credentials
// are a configuration problem, a missing tunnel is a state conflict.
func clientErrStatus(err error) int {
	if errors.Is(err, config.ErrNoCredentials) {
		return http.StatusPreconditionFailed
	}
	return http.StatusConflict
}
