package protocol

import "testing"

func TestDispatchUnknownMethod(t *testing.T) {
	r := NewRouter(func(string) bool { return true })
	resp := r.Dispatch([]byte(`{"method":"bogus","id":1,"params":{}}`))
	if resp.Type != "error" || resp.Error == nil || resp.Error.Code != CodeInvalidMethod {
		t.Fatalf("expected INVALID_METHOD, got %+v", resp)
	}
	if resp.ID == nil || *resp.ID != 1 {
		t.Fatalf("expected recovered id 1, got %v", resp.ID)
	}
}

func TestDispatchMalformedEnvelopeHasNoID(t *testing.T) {
	r := NewRouter(func(string) bool { return true })
	resp := r.Dispatch([]byte(`{not json`))
	if resp.Type != "error" || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %+v", resp)
	}
	if resp.ID != nil {
		t.Fatalf("expected nil id on unrecoverable parse failure, got %v", *resp.ID)
	}
}

func TestDispatchClientScopedRejectsUnknownCID(t *testing.T) {
	r := NewRouter(func(cid string) bool { return cid == "known" })
	r.Register("getPosition", ScopeClient, func(req *Request) *Response {
		return ResultResponse(req.ID, req.CID, "ok")
	})

	resp := r.Dispatch([]byte(`{"method":"getPosition","id":2,"cid":"missing","params":{}}`))
	if resp.Error == nil || resp.Error.Code != CodeInvalidClient {
		t.Fatalf("expected INVALID_CLIENT, got %+v", resp)
	}

	resp = r.Dispatch([]byte(`{"method":"getPosition","id":3,"cid":"known","params":{}}`))
	if resp.Type != "result" || resp.Result != "ok" {
		t.Fatalf("expected successful dispatch, got %+v", resp)
	}
}

func TestDispatchConnectionScopedIgnoresCID(t *testing.T) {
	r := NewRouter(func(string) bool { return false })
	r.Register("init", ScopeConnection, func(req *Request) *Response {
		return ResultResponse(req.ID, "", "ready")
	})
	resp := r.Dispatch([]byte(`{"method":"init","id":1,"params":{}}`))
	if resp.Type != "result" {
		t.Fatalf("expected connection-scoped method to skip cid check, got %+v", resp)
	}
}
