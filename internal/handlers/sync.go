package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/netauto/nsosync/internal/database"
	"github.com/netauto/nsosync/internal/logutil"
	"github.com/netauto/nsosync/internal/nso"
	"github.com/netauto/nsosync/internal/synccheck"
)

type checkSyncRequest struct {
	// Devices limits the batch to a selection; absent means all devices.
	Devices []string `json:"devices"`
}

type summaryResponse struct {
	Success bool `json:"success"`
	synccheck.Summary
}

// CheckSync runs a sync batch against the instance: every device, or
// only the selection named in the request body.
func CheckSync(w http.ResponseWriter, r *http.Request) {
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

	var req checkSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	// Prove the instance is reachable before fanning out a batch. One
	// failed probe beats N devices timing out in parallel.
	if res := client.TestConnection(r.Context()); !res.Success {
		log.Printf("[api] check-sync %s: connection test failed: %s",
			logutil.SanitizeForLog(inst.Name), logutil.SanitizeForLog(res.Message))
		writeError(w, http.StatusBadGateway, "connection test failed: "+res.Message)
		return
	}

	var sum synccheck.Summary
	if req.Devices != nil {
		sum, err = Checker.CheckSelected(r.Context(), inst.Name, client, req.Devices, nil)
	} else {
		sum, err = Checker.CheckAll(r.Context(), inst.Name, client, nil)
	}
	if err != nil {
		if errors.Is(err, synccheck.ErrNoDevices) {
			writeJSON(w, http.StatusOK, summaryResponse{Success: false, Summary: sum})
			return
		}
		log.Printf("[api] check-sync %s: %v", logutil.SanitizeForLog(inst.Name), err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Success: true, Summary: sum})
}

// StreamSync runs a full batch over a websocket, pushing each outcome as
// it completes and the summary as the final frame.
func StreamSync(w http.ResponseWriter, r *http.Request) {
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

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[api] sync stream accept: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	type frame struct {
		Type    string             `json:"type"`
		Outcome *nso.Outcome       `json:"outcome,omitempty"`
		Summary *synccheck.Summary `json:"summary,omitempty"`
		Error   string             `json:"error,omitempty"`
	}

	progress := func(out nso.Outcome) {
		if err := wsjson.Write(ctx, conn, frame{Type: "outcome", Outcome: &out}); err != nil {
			log.Printf("[api] sync stream write: %v", err)
		}
	}

	sum, err := Checker.CheckAll(ctx, inst.Name, client, progress)
	if err != nil {
		wsjson.Write(ctx, conn, frame{Type: "error", Error: err.Error()})
		conn.Close(websocket.StatusInternalError, "batch failed")
		return
	}

	if err := wsjson.Write(ctx, conn, frame{Type: "summary", Summary: &sum}); err != nil {
		log.Printf("[api] sync stream summary write: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// SyncHistory returns recent batches for the instance, newest first.
func SyncHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := Inv.Lookup(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	limit := queryInt(r, "limit", 20)
	batches, err := database.RecentBatches(database.DB, name, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	})
}
