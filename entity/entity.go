// Package entity implements a generic per-entity store (suppliers, users,
// appointments, …) on top of the realtime session.
//
// The store is a subscriber of the session log: every snapshot redelivers the
// log tail, so the store tracks which envelopes it has already acted on by
// structural fingerprint. Requests go out fire-and-forget through a Sender;
// results arrive later through the subscription.
package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/warebridge/warebridge/protocol"
	"github.com/warebridge/warebridge/session"
)

// Backend actions and the success codes acknowledging them.
const (
	actionList   = "ListEntity"
	actionGet    = "GetEntity"
	actionAdd    = "AddEntity"
	actionUpdate = "UpdateEntity"
	actionRemove = "RemoveEntity"

	codeListOK   = "SUCCESS200"
	codeAddOK    = "SUCCESS122"
	codeUpdateOK = "SUCCESS199"
	codeRemoveOK = "SUCCESS220"
)

// DefaultPageSize matches the backend's default list window.
const DefaultPageSize = 5

// Sender transmits a request over the realtime connection.
type Sender interface {
	Send(*protocol.Request)
}

// Record is one entity row as delivered by the backend.
type Record map[string]any

// Attribute describes one column of the entity's schema.
type Attribute struct {
	Name      string `json:"name"`
	DataType  string `json:"data_type"`
	Mandatory string `json:"mandatory"`
	Type      string `json:"type"`
	Path      any    `json:"path"`
}

// Page carries the pagination bookkeeping of the last list response.
type Page struct {
	Offset       int
	NextOffset   int
	TotalRecords int
	TotalFetched int
	HasMore      bool
	RequestID    string
}

// Query shapes a list request.
type Query struct {
	Limit     int
	Offset    int
	RequestID string
	SortBy    string
	SortOrder string
	Filter    []string
	Values    map[string]any
}

// Options configures a Store.
type Options struct {
	// Name is the backend entity name ("supplier", "user", …).
	Name string

	// UserID is the acting user stamped on every request env.
	UserID string

	// Sender transmits requests.
	Sender Sender

	// Session is the shared session store to subscribe to.
	Session *session.Store

	// Logger is the zap logger instance.
	Logger *zap.Logger
}

// Store holds the rows, schema and pagination state of one entity.
type Store struct {
	name   string
	userID string
	sender Sender
	logger *zap.Logger

	mu         sync.Mutex
	records    []Record
	attributes []Attribute
	page       Page
	lastCode   string
	lastQuery  Query
	seen       map[string]struct{}

	unsubscribe func()
}

// New creates a Store and attaches it to the session.
func New(opts Options) (*Store, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("entity name is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Store{
		name:   opts.Name,
		userID: opts.UserID,
		sender: opts.Sender,
		logger: opts.Logger,
		seen:   make(map[string]struct{}),
	}
	s.unsubscribe = opts.Session.Subscribe(s.onSnapshot)
	return s, nil
}

// Close detaches the store from the session.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// FetchAttributes requests the entity's attribute schema.
func (s *Store) FetchAttributes() {
	s.sender.Send(&protocol.Request{
		Kind:   protocol.KindAction,
		Action: actionGet,
		Env:    &protocol.Env{User: s.userID},
		Params: map[string]any{
			"entityName": "entity",
			"primaryKey": s.name,
		},
	})
}

// Fetch requests a page of rows.
func (s *Store) Fetch(q Query) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}

	s.mu.Lock()
	s.records = nil
	s.lastQuery = q
	s.mu.Unlock()

	params := map[string]any{
		"entityName": s.name,
		"limit":      q.Limit,
		"offset":     q.Offset,
		"requestID":  q.RequestID,
		"sortBy":     q.SortBy,
		"sortOrder":  q.SortOrder,
	}
	for key, value := range q.Values {
		params[key] = value
	}
	if len(q.Filter) > 0 {
		params["filter"] = q.Filter
	}

	s.sender.Send(&protocol.Request{
		Kind:   protocol.KindAction,
		Action: actionList,
		Env:    &protocol.Env{User: s.userID},
		Params: params,
	})
}

// Add creates a new row.
func (s *Store) Add(data Record) {
	payload, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		s.logger.Error("dropping unencodable entity payload", zap.Error(err))
		return
	}
	s.sender.Send(&protocol.Request{
		Kind:    protocol.KindAction,
		Action:  actionAdd,
		Env:     &protocol.Env{User: s.userID},
		Params:  map[string]any{"entityName": s.name},
		Payload: string(payload),
	})
}

// Update patches the row identified by the given primary key.
func (s *Store) Update(primaryKeyName, primaryKey string, updates Record) {
	s.sender.Send(&protocol.Request{
		Kind:   protocol.KindAction,
		Action: actionUpdate,
		Env:    &protocol.Env{User: s.userID},
		Params: map[string]any{
			"entityName":   s.name,
			primaryKeyName: primaryKey,
			"updates":      updates,
		},
	})
}

// Remove deletes the row identified by the given primary key.
func (s *Store) Remove(primaryKey string) {
	s.sender.Send(&protocol.Request{
		Kind:   protocol.KindAction,
		Action: actionRemove,
		Env:    &protocol.Env{User: s.userID},
		Params: map[string]any{
			"entityName": s.name,
			"primaryKey": primaryKey,
		},
	})
}

// Records returns a copy of the current rows.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Attributes returns a copy of the entity schema.
func (s *Store) Attributes() []Attribute {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Attribute, len(s.attributes))
	copy(out, s.attributes)
	return out
}

// Page returns the pagination state of the last list response.
func (s *Store) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// LastCode returns the status code of the last processed response.
func (s *Store) LastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode
}

// onSnapshot inspects the redelivered log tail and acts once per distinct
// envelope.
func (s *Store) onSnapshot(snap session.Snapshot) {
	if len(snap.Messages) == 0 {
		return
	}

	last, ok := snap.Messages[len(snap.Messages)-1].(*protocol.Response)
	if !ok {
		return
	}

	key := last.Fingerprint()
	s.mu.Lock()
	if _, done := s.seen[key]; done {
		s.mu.Unlock()
		return
	}
	s.seen[key] = struct{}{}
	s.mu.Unlock()

	s.handleResponse(last)
}

func (s *Store) handleResponse(resp *protocol.Response) {
	code := resp.Result.Code

	s.mu.Lock()
	s.lastCode = code
	if strings.HasPrefix(code, "ERR") {
		s.records = nil
	}
	s.mu.Unlock()

	switch resp.Action {
	case actionList:
		if code == codeListOK {
			s.applyListResult(resp.Params)
		}
	case actionGet:
		if code == codeListOK {
			s.applySchema(resp.Params)
		}
	case actionAdd:
		if code == codeAddOK {
			s.refresh()
		}
	case actionUpdate:
		if code == codeUpdateOK {
			s.refresh()
		}
	case actionRemove:
		if code == codeRemoveOK {
			s.refresh()
		}
	}
}

func (s *Store) applyListResult(params map[string]any) {
	raw, ok := params["result"].(string)
	if !ok {
		s.logger.Warn("list response without result payload", zap.String("entity", s.name))
		return
	}

	var rows []Record
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		s.logger.Error("invalid entity rows",
			zap.String("entity", s.name),
			zap.Error(err),
		)
		return
	}

	requestID, _ := params["requestID"].(string)
	page := Page{
		Offset:       intParam(params, "offset"),
		NextOffset:   intParam(params, "nextOffset"),
		TotalRecords: intParam(params, "totalRecords"),
		TotalFetched: intParam(params, "totalFetched"),
		HasMore:      boolParam(params, "hasMore"),
		RequestID:    requestID,
	}

	s.mu.Lock()
	s.records = rows
	s.page = page
	s.mu.Unlock()

	s.logger.Debug("entity rows updated",
		zap.String("entity", s.name),
		zap.Int("rows", len(rows)),
		zap.Int("total", page.TotalRecords),
	)
}

func (s *Store) applySchema(params map[string]any) {
	raw, ok := params[s.name].(string)
	if !ok {
		return
	}

	var schema struct {
		Attributes []Attribute `json:"attributes"`
	}
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		s.logger.Error("invalid entity schema",
			zap.String("entity", s.name),
			zap.Error(err),
		)
		return
	}

	s.mu.Lock()
	s.attributes = schema.Attributes
	s.mu.Unlock()
}

// refresh re-runs the last list query after a mutation was acknowledged.
func (s *Store) refresh() {
	s.mu.Lock()
	q := s.lastQuery
	s.mu.Unlock()
	s.Fetch(q)
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func boolParam(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}
