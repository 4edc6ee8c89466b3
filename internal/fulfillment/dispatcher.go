// Package fulfillment implements the smart-home intent handlers that
// translate between the platform's command vocabulary and the shared
// device documents.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/glowbridge/internal/store"
)

// OriginCloud tags document writes made by the intent dispatcher, so the
// physical client applies them instead of suppressing them as echoes.
const OriginCloud = "cloud"

// Dispatcher handles the four smart-home intents. It is stateless and
// safe for concurrent requests; all state lives in the document store.
type Dispatcher struct {
	docs   store.Store
	tokens TokenResolver
	now    func() time.Time
}

// NewDispatcher creates an intent dispatcher over the given store and
// token resolver.
func NewDispatcher(docs store.Store, tokens TokenResolver) *Dispatcher {
	return &Dispatcher{
		docs:   docs,
		tokens: tokens,
		now:    time.Now,
	}
}

// ServeHTTP handles POST /fulfillment.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp := d.Dispatch(r.Context(), req, r.Header)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode fulfillment response")
	}
}

// Dispatch resolves the caller and routes the request to its intent
// handler. Authentication failure short-circuits every intent with the
// same payload, echoing the correlation id; nothing is mutated.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, headers http.Header) Response {
	uid, err := ResolveUser(ctx, headers, d.tokens)
	if err != nil {
		log.Error().Err(err).Msg("Token lookup failed")
		uid = ""
	}
	if uid == "" {
		return Response{
			RequestID: req.RequestID,
			Payload:   ErrorPayload{ErrorCode: ErrorCodeAuthFailure},
		}
	}

	// The first recognized intent wins; unrecognized inputs are skipped.
	// The platform sends exactly one input per request in practice.
	for _, input := range req.Inputs {
		log.Debug().
			Str("request_id", req.RequestID).
			Str("intent", input.Intent).
			Str("uid", uid).
			Msg("Dispatching intent")

		switch input.Intent {
		case IntentSync:
			return d.handleSync(ctx, req.RequestID, uid)
		case IntentQuery:
			var payload QueryPayload
			if err := json.Unmarshal(input.Payload, &payload); err != nil {
				return Response{RequestID: req.RequestID, Payload: ErrorPayload{ErrorCode: ErrorCodeNotSupported}}
			}
			return d.handleQuery(ctx, req.RequestID, uid, payload)
		case IntentExecute:
			var payload ExecutePayload
			if err := json.Unmarshal(input.Payload, &payload); err != nil {
				return Response{RequestID: req.RequestID, Payload: ErrorPayload{ErrorCode: ErrorCodeNotSupported}}
			}
			return d.handleExecute(ctx, req.RequestID, uid, payload)
		case IntentDisconnect:
			return d.handleDisconnect(req.RequestID, uid)
		default:
			log.Warn().Str("intent", input.Intent).Msg("Unknown intent, skipping input")
		}
	}

	return Response{
		RequestID: req.RequestID,
		Payload:   ErrorPayload{ErrorCode: ErrorCodeNotSupported},
	}
}

// handleSync returns the static capability metadata of every device the
// caller owns. Desired state never leaks into a SYNC response.
func (d *Dispatcher) handleSync(ctx context.Context, requestID, uid string) Response {
	docs, err := d.docs.Query(ctx, store.Devices, "ownerUserId", uid)
	if err != nil {
		log.Error().Err(err).Str("uid", uid).Msg("Device query failed")
		return Response{RequestID: requestID, Payload: ErrorPayload{ErrorCode: ErrorCodeTransientError}}
	}

	devices := make([]SyncDevice, 0, len(docs))
	for id, doc := range docs {
		devices = append(devices, syncDeviceOf(id, doc))
	}

	return Response{
		RequestID: requestID,
		Payload: SyncPayload{
			AgentUserID: uid,
			Devices:     devices,
		},
	}
}

// handleQuery reports online status and states for each requested
// device. Lookups run concurrently; a missing or failing device reports
// offline without disturbing its siblings.
func (d *Dispatcher) handleQuery(ctx context.Context, requestID, uid string, payload QueryPayload) Response {
	results := make(map[string]map[string]any, len(payload.Devices))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, ref := range payload.Devices {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			states := d.queryDevice(ctx, uid, id)

			mu.Lock()
			results[id] = states
			mu.Unlock()
		}(ref.ID)
	}
	wg.Wait()

	return Response{
		RequestID: requestID,
		Payload:   QueryResponsePayload{Devices: results},
	}
}

// queryDevice reports one device's states. A device owned by someone
// else is indistinguishable from a missing one: bare offline, no states.
func (d *Dispatcher) queryDevice(ctx context.Context, uid, id string) map[string]any {
	doc, err := d.docs.Get(ctx, store.Devices, id)
	if err != nil || doc["ownerUserId"] != uid {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("device", id).Msg("Device lookup failed")
		}
		return map[string]any{"online": false}
	}

	states := map[string]any{}
	if s, ok := doc["states"].(map[string]any); ok {
		for k, v := range s {
			states[k] = v
		}
	}
	states["online"] = IsOnline(d.now(), lastSeenOf(doc))
	return states
}

// handleExecute applies a command batch. Errors stay scoped to the
// smallest failing unit: a bad device yields one error entry and the
// rest of the batch proceeds. Every input device produces exactly one
// result entry.
func (d *Dispatcher) handleExecute(ctx context.Context, requestID, uid string, payload ExecutePayload) Response {
	var results []ExecuteResult

	for _, command := range payload.Commands {
		for _, ref := range command.Devices {
			results = append(results, d.executeDevice(ctx, uid, ref.ID, command.Execution))
		}
	}

	return Response{
		RequestID: requestID,
		Payload:   ExecuteResponsePayload{Commands: results},
	}
}

// executeDevice applies one device's command list and returns its single
// result entry. Ownership is checked before any write; a device owned by
// someone else reports deviceNotFound, indistinguishable from a missing
// one.
func (d *Dispatcher) executeDevice(ctx context.Context, uid, id string, execution []Execution) ExecuteResult {
	doc, err := d.docs.Get(ctx, store.Devices, id)
	if err != nil || doc["ownerUserId"] != uid {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("device", id).Msg("Device lookup failed")
		}
		return ExecuteResult{
			IDs:       []string{id},
			Status:    StatusError,
			ErrorCode: ErrorCodeDeviceNotFound,
		}
	}

	written := map[string]any{}
	for _, exec := range execution {
		update := stateUpdateFor(exec)
		if update == nil {
			// Unrecognized commands are skipped rather than failed; the
			// device's one result entry reflects only applied fields.
			log.Debug().Str("command", exec.Command).Str("device", id).Msg("Skipping unrecognized command")
			continue
		}

		if err := d.docs.Merge(ctx, store.Devices, id, store.Document{"states": update}, OriginCloud); err != nil {
			log.Error().Err(err).Str("device", id).Str("command", exec.Command).Msg("State merge failed")
			return ExecuteResult{
				IDs:       []string{id},
				Status:    StatusError,
				ErrorCode: ErrorCodeTransientError,
			}
		}

		for k, v := range update {
			written[k] = v
		}
	}

	written["online"] = IsOnline(d.now(), lastSeenOf(doc))
	return ExecuteResult{
		IDs:    []string{id},
		Status: StatusSuccess,
		States: written,
	}
}

// stateUpdateFor translates a recognized command into the partial states
// update it merges. Unrecognized commands map to nil.
func stateUpdateFor(exec Execution) store.Document {
	switch exec.Command {
	case CommandOnOff:
		if exec.Params.On == nil {
			return nil
		}
		return store.Document{"on": *exec.Params.On}
	case CommandColorAbsolute:
		if exec.Params.Color == nil {
			return nil
		}
		color := store.Document{"spectrumRGB": float64(exec.Params.Color.SpectrumRGB)}
		if exec.Params.Color.Name != "" {
			color["name"] = exec.Params.Color.Name
		}
		return store.Document{"color": color}
	case CommandBrightnessAbsolute:
		if exec.Params.Brightness == nil {
			return nil
		}
		return store.Document{"brightness": float64(*exec.Params.Brightness)}
	default:
		return nil
	}
}

// handleDisconnect acknowledges account unlinking. State reporting for
// the user conceptually stops here; no document is touched.
func (d *Dispatcher) handleDisconnect(requestID, uid string) Response {
	log.Info().Str("uid", uid).Msg("User disconnected account")
	return Response{
		RequestID: requestID,
		Payload:   struct{}{},
	}
}

func syncDeviceOf(id string, doc store.Document) SyncDevice {
	dev := SyncDevice{ID: id}
	dev.Type, _ = doc["type"].(string)
	dev.WillReportState, _ = doc["willReportState"].(bool)

	if traits, ok := doc["traits"].([]any); ok {
		for _, t := range traits {
			if s, ok := t.(string); ok {
				dev.Traits = append(dev.Traits, s)
			}
		}
	}

	if name, ok := doc["name"].(map[string]any); ok {
		dev.Name.Name, _ = name["name"].(string)
		dev.Name.DefaultNames = stringsOf(name["defaultNames"])
		dev.Name.Nicknames = stringsOf(name["nicknames"])
	}
	if dev.Name.DefaultNames == nil {
		dev.Name.DefaultNames = []string{}
	}
	if dev.Name.Nicknames == nil {
		dev.Name.Nicknames = []string{}
	}

	return dev
}

func stringsOf(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
