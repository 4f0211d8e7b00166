// Package dispatch routes parsed inbound envelopes into the session store.
//
// Every envelope is appended to the message log first, regardless of what the
// router then makes of it. Responses become translated, severity-tagged
// notices; server pushes carrying a workflow body become the pending form.
// The router never raises: anything it does not recognize is logged and
// dropped.
package dispatch

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/warebridge/warebridge/notice"
	"github.com/warebridge/warebridge/protocol"
	"github.com/warebridge/warebridge/session"
)

const (
	// authResponseAction is the action the backend answers the auth
	// handshake with. Note the casing differs from the outbound "auth".
	authResponseAction = "Auth"

	// authSuccessCode signals a successful authentication.
	authSuccessCode = "SUCCESS00"

	// pushWorkflow is the only recognized server-push action; its
	// params.workflow body is a JSON-encoded form definition.
	pushWorkflow = "workflow"
)

// Router classifies inbound envelopes and is the only writer of notices,
// forms and log entries derived from them.
type Router struct {
	store      *session.Store
	translator *notice.Translator
	logger     *zap.Logger

	mu     sync.Mutex
	locale string
}

// NewRouter builds a router publishing into store, rendering notices for the
// given initial locale.
func NewRouter(store *session.Store, translator *notice.Translator, locale string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locale == "" {
		locale = notice.DefaultLocale
	}
	return &Router{
		store:      store,
		translator: translator,
		logger:     logger,
		locale:     locale,
	}
}

// Handle processes one inbound envelope.
func (r *Router) Handle(in protocol.Inbound) {
	switch m := in.(type) {
	case *protocol.Response:
		r.handleResponse(m)
	case *protocol.Push:
		r.store.Append(m)
		r.handlePush(m)
	default:
		// Unreachable for envelopes produced by protocol.ParseInbound.
		r.store.Append(in)
		r.logger.Warn("unhandled envelope kind", zap.String("action", in.InboundAction()))
	}
}

func (r *Router) handleResponse(m *protocol.Response) {
	severity := notice.Classify(m.Result.Code)
	m.Rendered = r.translator.Translate(m.Result.Code, m.Result.Variables, r.currentLocale())
	r.store.Append(m)
	r.store.SetNotice(severity, m.Rendered)

	if m.Action == authResponseAction {
		if m.Result.Code == authSuccessCode {
			r.logger.Info("authentication successful")
		} else {
			r.logger.Error("authentication failed",
				zap.String("code", m.Result.Code),
				zap.String("message", m.Rendered),
			)
		}
	}
}

func (r *Router) handlePush(m *protocol.Push) {
	if m.Action != pushWorkflow {
		r.logger.Warn("unhandled push action", zap.String("action", m.Action))
		return
	}

	body, ok := m.Params[pushWorkflow].(string)
	if !ok {
		r.logger.Warn("workflow push without workflow body")
		return
	}

	var form json.RawMessage
	if err := json.Unmarshal([]byte(body), &form); err != nil {
		r.logger.Error("invalid workflow payload", zap.Error(err))
		return
	}
	r.store.SetForm(form)
}

// Retranslate re-renders every logged response against newLocale, leaving
// codes and variables untouched, and makes newLocale the active locale for
// subsequent responses.
func (r *Router) Retranslate(newLocale string) {
	r.mu.Lock()
	r.locale = newLocale
	r.mu.Unlock()

	r.store.UpdateResponses(func(resp *protocol.Response) {
		resp.Rendered = r.translator.Translate(resp.Result.Code, resp.Result.Variables, newLocale)
	})
}

func (r *Router) currentLocale() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locale
}
