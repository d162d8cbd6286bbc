package protocol

import "encoding/json"

// Scope distinguishes connection-scoped methods (init, replay) from
// client-scoped ones that require a valid cid, spec.md §4.1.
type Scope int

const (
	ScopeConnection Scope = iota
	ScopeClient
	// ScopeClientCreate is login's scope: cid must be present on the
	// request but need not already be registered, since login is what
	// registers it.
	ScopeClientCreate
)

// HandlerFunc handles one already cid-validated request.
type HandlerFunc func(req *Request) *Response

type registeredHandler struct {
	scope Scope
	fn    HandlerFunc
}

// Router is the fixed method → handler dispatch table of spec.md
// §4.1. It owns no session state itself; CIDExists is supplied by the
// caller so protocol stays independent of the concrete session type.
type Router struct {
	handlers  map[string]registeredHandler
	CIDExists func(cid string) bool
}

// NewRouter returns an empty Router. Register methods before calling
// Dispatch.
func NewRouter(cidExists func(string) bool) *Router {
	return &Router{handlers: make(map[string]registeredHandler), CIDExists: cidExists}
}

// Register wires method to fn under scope. Re-registering a method
// overwrites the prior handler.
func (r *Router) Register(method string, scope Scope, fn HandlerFunc) {
	r.handlers[method] = registeredHandler{scope: scope, fn: fn}
}

// Dispatch parses raw as a Request envelope and routes it per spec.md
// §4.1's dispatch contract: malformed JSON returns INVALID_PARAMS with
// no id; unknown method returns INVALID_METHOD; a client-scoped method
// with a missing or unknown cid returns INVALID_CLIENT.
func (r *Router) Dispatch(raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return ErrorResponse(nil, CodeInvalidParams, "malformed request envelope: "+err.Error())
	}

	h, ok := r.handlers[req.Method]
	if !ok {
		return ErrorResponse(&req.ID, CodeInvalidMethod, "unknown method: "+req.Method)
	}

	switch h.scope {
	case ScopeClient:
		if req.CID == "" || r.CIDExists == nil || !r.CIDExists(req.CID) {
			return ErrorResponse(&req.ID, CodeInvalidClient, "missing or unknown cid")
		}
	case ScopeClientCreate:
		if req.CID == "" {
			return ErrorResponse(&req.ID, CodeInvalidClient, "missing cid")
		}
	}

	resp := h.fn(&req)
	if resp.ID == nil && resp.Type != "event" {
		id := req.ID
		resp.ID = &id
	}
	return resp
}
