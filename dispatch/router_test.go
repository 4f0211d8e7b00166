package dispatch

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warebridge/warebridge/notice"
	"github.com/warebridge/warebridge/protocol"
	"github.com/warebridge/warebridge/session"
)

func testTranslator(logger *zap.Logger) *notice.Translator {
	return notice.NewTranslator(notice.Tables{
		Success: notice.Catalog{
			"SUCCESS200": {
				Variables: []string{"entity"},
				Translations: map[string]string{
					"en": "All {entity} records fetched",
					"fr": "Tous les enregistrements {entity} ont été récupérés",
				},
			},
			"SUCCESS00": {
				Translations: map[string]string{"en": "Authenticated"},
			},
		},
		Error: notice.Catalog{
			"ERR404": {
				Variables:    []string{"entity"},
				Translations: map[string]string{"en": "{entity} not found"},
			},
		},
		Warning: notice.Catalog{
			"WARN001": {
				Translations: map[string]string{"en": "Partial result"},
			},
		},
	}, logger)
}

func newTestRouter(locale string) (*Router, *session.Store) {
	store := session.New(zap.NewNop())
	router := NewRouter(store, testTranslator(zap.NewNop()), locale, zap.NewNop())
	return router, store
}

func TestHandleResponseAppendsAndSetsNotice(t *testing.T) {
	router, store := newTestRouter("en")

	router.Handle(&protocol.Response{
		Action: "ListEntity",
		Result: protocol.Result{
			Code:      "SUCCESS200",
			Variables: map[string]string{"entity": "supplier"},
		},
	})

	snap := store.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("log length = %d", len(snap.Messages))
	}
	if snap.Notice == nil {
		t.Fatalf("expected an active notice")
	}
	if snap.Notice.Severity != notice.SeveritySuccess {
		t.Errorf("severity = %v", snap.Notice.Severity)
	}
	if snap.Notice.Message != "All supplier records fetched" {
		t.Errorf("message = %q", snap.Notice.Message)
	}

	resp := snap.Messages[0].(*protocol.Response)
	if resp.Rendered != snap.Notice.Message {
		t.Errorf("rendered text on the envelope = %q", resp.Rendered)
	}
}

func TestHandleResponseSeverities(t *testing.T) {
	tests := []struct {
		code string
		want notice.Severity
	}{
		{"SUCCESS200", notice.SeveritySuccess},
		{"ERR404", notice.SeverityError},
		{"WARN001", notice.SeverityWarning},
		{"XYZ999", notice.SeverityError},
	}

	for _, tt := range tests {
		router, store := newTestRouter("en")
		router.Handle(&protocol.Response{
			Action: "ListEntity",
			Result: protocol.Result{Code: tt.code, Variables: map[string]string{"entity": "supplier"}},
		})
		if got := store.Snapshot().Notice.Severity; got != tt.want {
			t.Errorf("code %q: severity = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestHandleAuthResponseIsLogOnly(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := session.New(zap.NewNop())
	router := NewRouter(store, testTranslator(zap.NewNop()), "en", zap.New(core))

	router.Handle(&protocol.Response{
		Action: "Auth",
		Result: protocol.Result{Code: "SUCCESS00"},
	})

	if logs.FilterMessage("authentication successful").Len() != 1 {
		t.Errorf("expected an auth success log entry")
	}

	router.Handle(&protocol.Response{
		Action: "Auth",
		Result: protocol.Result{Code: "ERR404", Variables: map[string]string{"entity": "user"}},
	})

	if logs.FilterMessage("authentication failed").Len() != 1 {
		t.Errorf("expected an auth failure log entry")
	}
	if store.Snapshot().Notice == nil {
		t.Errorf("auth failures still surface as a notice")
	}
}

func TestHandleWorkflowPushSetsForm(t *testing.T) {
	router, store := newTestRouter("en")

	router.Handle(&protocol.Push{
		Action: "workflow",
		Params: map[string]any{"workflow": `{"fields":["dock","schedule"]}`},
	})

	snap := store.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("push must be logged, log length = %d", len(snap.Messages))
	}
	if string(snap.Form) != `{"fields":["dock","schedule"]}` {
		t.Errorf("form = %s", snap.Form)
	}
}

func TestHandlePushIgnoresUnknownAndBroken(t *testing.T) {
	router, store := newTestRouter("en")

	router.Handle(&protocol.Push{Action: "screensaver"})
	router.Handle(&protocol.Push{
		Action: "workflow",
		Params: map[string]any{"workflow": `{not json`},
	})
	router.Handle(&protocol.Push{Action: "workflow"})

	snap := store.Snapshot()
	if len(snap.Messages) != 3 {
		t.Errorf("all pushes are logged, got %d", len(snap.Messages))
	}
	if snap.Form != nil {
		t.Errorf("no form should have been set, got %s", snap.Form)
	}
}

func TestRetranslateRewritesLoggedResponses(t *testing.T) {
	router, store := newTestRouter("en")

	router.Handle(&protocol.Response{
		Action: "ListEntity",
		Result: protocol.Result{
			Code:      "SUCCESS200",
			Variables: map[string]string{"entity": "supplier"},
		},
	})

	router.Retranslate("fr")

	resp := store.Snapshot().Messages[0].(*protocol.Response)
	if resp.Rendered != "Tous les enregistrements supplier ont été récupérés" {
		t.Errorf("rendered = %q", resp.Rendered)
	}
	if resp.Result.Code != "SUCCESS200" {
		t.Errorf("code altered: %q", resp.Result.Code)
	}
	if resp.Result.Variables["entity"] != "supplier" {
		t.Errorf("variables altered: %v", resp.Result.Variables)
	}

	// New responses render with the new locale.
	router.Handle(&protocol.Response{
		Action: "ListEntity",
		Result: protocol.Result{
			Code:      "SUCCESS200",
			Variables: map[string]string{"entity": "user"},
		},
	})
	if got := store.Snapshot().Notice.Message; got != "Tous les enregistrements user ont été récupérés" {
		t.Errorf("notice after locale change = %q", got)
	}
}
