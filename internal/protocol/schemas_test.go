package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voidstorage.ai/internal/protocol"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func validate(t *testing.T, s *jsonschema.Schema, v any) {
	t.Helper()
	if err := s.Validate(v); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

// asAny round-trips a Go message through JSON so the schema sees what a
// client would.
func asAny(t *testing.T, msg any) any {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return v
}

func TestSchemas_ValidateSamples(t *testing.T) {
	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "player_name":"steve",
	  "world_id":"overworld",
	  "max_queue":16
	}`), &hello)
	validate(t, compile(t, "hello.schema.json"), hello)

	var dispatch any
	_ = json.Unmarshal([]byte(`{
	  "type":"DISPATCH",
	  "protocol_version":"1.0",
	  "req_id":"r1",
	  "handler_id":"00000000-0000-0000-0001-000000000006",
	  "pos":[10,64,-3],
	  "hand":{"item_id":"iron_ingot"},
	  "args":{"item_id":"iron_ingot","quantity":32}
	}`), &dispatch)
	validate(t, compile(t, "dispatch.schema.json"), dispatch)
}

func TestSchemas_ServerMessages(t *testing.T) {
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "S1",
		PlayerID:        "9a4f3c2e-5b6d-4e7f-8a9b-0c1d2e3f4a5b",
		WorldID:         "overworld",
		Handlers:        []protocol.HandlerRef{{ID: "00000000-0000-0000-0001-000000000001", Name: "Access"}},
	}
	validate(t, compile(t, "welcome.schema.json"), asAny(t, welcome))

	res := protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, ReqID: "r1", Kind: "skipped", Reason: "Rate limited"}
	validate(t, compile(t, "result.schema.json"), asAny(t, res))

	st := protocol.StorageMsg{
		Type:            protocol.TypeStorage,
		ProtocolVersion: protocol.Version,
		StorageID:       "9a4f3c2e-5b6d-4e7f-8a9b-0c1d2e3f4a5b",
		Capacity:        1000,
		TotalItems:      5,
		Remaining:       995,
		UniqueItems:     1,
		Items:           []protocol.StorageItem{{ItemID: "ore", Quantity: 5, Display: "ore x5"}},
	}
	validate(t, compile(t, "storage.schema.json"), asAny(t, st))

	validate(t, compile(t, "error.schema.json"), asAny(t, protocol.NewError("", protocol.ErrProtoBadRequest, "expected HELLO")))
}

func TestSchemas_RejectBadDispatch(t *testing.T) {
	var v any
	_ = json.Unmarshal([]byte(`{
	  "type":"DISPATCH",
	  "protocol_version":"1.0",
	  "req_id":"r1",
	  "handler_id":"x",
	  "pos":[1,2]
	}`), &v)
	if err := compile(t, "dispatch.schema.json").Validate(v); err == nil {
		t.Fatalf("expected short pos to be rejected")
	}
}
