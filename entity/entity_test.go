package entity

import (
	"testing"

	"go.uber.org/zap"

	"github.com/warebridge/warebridge/protocol"
	"github.com/warebridge/warebridge/session"
)

type recordingSender struct {
	requests []*protocol.Request
}

func (s *recordingSender) Send(req *protocol.Request) {
	s.requests = append(s.requests, req)
}

func (s *recordingSender) last(t *testing.T) *protocol.Request {
	t.Helper()
	if len(s.requests) == 0 {
		t.Fatalf("no request was sent")
	}
	return s.requests[len(s.requests)-1]
}

func newTestStore(t *testing.T) (*Store, *session.Store, *recordingSender) {
	t.Helper()
	sess := session.New(zap.NewNop())
	sender := &recordingSender{}
	store, err := New(Options{
		Name:    "supplier",
		UserID:  "U005",
		Sender:  sender,
		Session: sess,
		Logger:  zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(store.Close)
	return store, sess, sender
}

func TestFetchBuildsListRequest(t *testing.T) {
	store, _, sender := newTestStore(t)

	store.Fetch(Query{
		Limit:     10,
		Offset:    20,
		SortBy:    "name",
		SortOrder: "asc",
		Filter:    []string{"name", "trusted"},
		Values:    map[string]any{"trusted": true},
	})

	req := sender.last(t)
	if req.Action != "ListEntity" {
		t.Errorf("action = %q", req.Action)
	}
	if req.Env.User != "U005" {
		t.Errorf("env.user = %q", req.Env.User)
	}
	if req.Params["entityName"] != "supplier" || req.Params["limit"] != 10 || req.Params["offset"] != 20 {
		t.Errorf("params = %v", req.Params)
	}
	if req.Params["trusted"] != true {
		t.Errorf("filter value not flattened into params: %v", req.Params)
	}
}

func TestFetchDefaultsPageSize(t *testing.T) {
	store, _, sender := newTestStore(t)

	store.Fetch(Query{})
	if sender.last(t).Params["limit"] != DefaultPageSize {
		t.Errorf("limit = %v", sender.last(t).Params["limit"])
	}
}

func TestListResponseFillsRecordsAndPage(t *testing.T) {
	store, sess, _ := newTestStore(t)

	sess.Append(&protocol.Response{
		Action: "ListEntity",
		Result: protocol.Result{Code: "SUCCESS200"},
		Params: map[string]any{
			"result":       `[{"id":"S1","name":"Acme"},{"id":"S2","name":"Globex"}]`,
			"offset":       float64(0),
			"nextOffset":   float64(2),
			"totalRecords": float64(7),
			"totalFetched": float64(2),
			"hasMore":      true,
			"requestID":    "R1",
		},
	})

	records := store.Records()
	if len(records) != 2 || records[0]["name"] != "Acme" {
		t.Fatalf("records = %v", records)
	}

	page := store.Page()
	if page.NextOffset != 2 || page.TotalRecords != 7 || !page.HasMore || page.RequestID != "R1" {
		t.Errorf("page = %+v", page)
	}
}

func TestDuplicateEnvelopeProcessedOnce(t *testing.T) {
	store, sess, _ := newTestStore(t)

	resp := func() *protocol.Response {
		return &protocol.Response{
			Action: "ListEntity",
			Result: protocol.Result{Code: "SUCCESS200"},
			Params: map[string]any{"result": `[{"id":"S1"}]`, "requestID": "R1"},
		}
	}

	transitions := 0
	sess.Append(resp())
	if len(store.Records()) == 1 {
		transitions++
	}

	// The same tail entry is redelivered on every unrelated state change.
	sess.SetConnected(true)
	sess.SetConnected(false)

	// A structurally identical envelope arriving again is also a no-op.
	before := store.Page()
	sess.Append(resp())
	if store.Page() != before {
		transitions++
	}

	if transitions != 1 {
		t.Errorf("expected exactly one state transition, got %d", transitions)
	}
}

func TestErrorResponseClearsRecords(t *testing.T) {
	store, sess, _ := newTestStore(t)

	sess.Append(&protocol.Response{
		Action: "ListEntity",
		Result: protocol.Result{Code: "SUCCESS200"},
		Params: map[string]any{"result": `[{"id":"S1"}]`},
	})
	if len(store.Records()) != 1 {
		t.Fatalf("records = %v", store.Records())
	}

	sess.Append(&protocol.Response{
		Action: "ListEntity",
		Result: protocol.Result{Code: "ERR500"},
	})
	if len(store.Records()) != 0 {
		t.Errorf("ERR response must clear rows, got %v", store.Records())
	}
	if store.LastCode() != "ERR500" {
		t.Errorf("last code = %q", store.LastCode())
	}
}

func TestSchemaResponseFillsAttributes(t *testing.T) {
	store, sess, sender := newTestStore(t)

	store.FetchAttributes()
	req := sender.last(t)
	if req.Action != "GetEntity" || req.Params["primaryKey"] != "supplier" {
		t.Errorf("schema request = %+v", req)
	}

	sess.Append(&protocol.Response{
		Action: "GetEntity",
		Result: protocol.Result{Code: "SUCCESS200"},
		Params: map[string]any{
			"supplier": `{"attributes":[{"name":"name","data_type":"string","mandatory":"true","type":"field","path":"name"}]}`,
		},
	})

	attrs := store.Attributes()
	if len(attrs) != 1 || attrs[0].Name != "name" || attrs[0].DataType != "string" {
		t.Errorf("attributes = %+v", attrs)
	}
}

func TestMutationAckTriggersRefresh(t *testing.T) {
	tests := []struct {
		action string
		code   string
	}{
		{"AddEntity", "SUCCESS122"},
		{"UpdateEntity", "SUCCESS199"},
		{"RemoveEntity", "SUCCESS220"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			store, sess, sender := newTestStore(t)

			store.Fetch(Query{Limit: 10, SortBy: "name"})
			sent := len(sender.requests)

			sess.Append(&protocol.Response{
				Action: tt.action,
				Result: protocol.Result{Code: tt.code},
			})

			if len(sender.requests) != sent+1 {
				t.Fatalf("expected a refresh request, sent = %d", len(sender.requests)-sent)
			}
			refresh := sender.last(t)
			if refresh.Action != "ListEntity" {
				t.Errorf("refresh action = %q", refresh.Action)
			}
			if refresh.Params["limit"] != 10 || refresh.Params["sortBy"] != "name" {
				t.Errorf("refresh must replay the last query: %v", refresh.Params)
			}
		})
	}
}

func TestMutationRequestShapes(t *testing.T) {
	store, _, sender := newTestStore(t)

	store.Add(Record{"name": "Acme"})
	add := sender.last(t)
	if add.Action != "AddEntity" || add.Payload != `{"data":{"name":"Acme"}}` {
		t.Errorf("add request = %+v", add)
	}

	store.Update("id", "S1", Record{"trusted": true})
	update := sender.last(t)
	if update.Action != "UpdateEntity" || update.Params["id"] != "S1" {
		t.Errorf("update request = %+v", update)
	}

	store.Remove("S1")
	remove := sender.last(t)
	if remove.Action != "RemoveEntity" || remove.Params["primaryKey"] != "S1" {
		t.Errorf("remove request = %+v", remove)
	}
}
