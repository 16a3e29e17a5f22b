package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// Call records one request made against a Memory store.
type Call struct {
	Op     string          `json:"op"`
	Ref    model.EntityRef `json:"ref"`
	Fields []string        `json:"fields,omitempty"`
}

// Memory is an in-process document store with the same semantics as the HTTP
// remote. It backs the daemon when no remote URL is configured, the scenario
// harness and most tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	docs     map[model.EntityRef]memDoc
	down     bool
	failures []error
	calls    []Call
	last     time.Time
	now      func() time.Time
}

type memDoc struct {
	fields    map[string]json.RawMessage
	updatedAt time.Time
}

// NewMemory creates an empty store. A nil now uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{docs: map[model.EntityRef]memDoc{}, now: now}
}

// SetDown makes every request fail with a transient error until cleared.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// FailNext queues errors returned, in order, by the next requests.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Put writes a whole document as another client would, bumping updated_at.
func (m *Memory) Put(ref model.EntityRef, data any) (model.Document, error) {
	fields, err := toFields(data)
	if err != nil {
		return model.Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := memDoc{fields: fields, updatedAt: m.tick()}
	m.docs[ref] = d
	return d.document(ref)
}

// Delete removes a document.
func (m *Memory) Delete(ref model.EntityRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, ref)
}

// Document returns the stored document without recording a call.
func (m *Memory) Document(ref model.EntityRef) (model.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[ref]
	if !ok {
		return model.Document{}, false
	}
	doc, err := d.document(ref)
	return doc, err == nil
}

// Calls returns every request made so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Get implements Client.
func (m *Memory) Get(ctx context.Context, ref model.EntityRef) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, Call{Op: "get", Ref: ref}); err != nil {
		return model.Document{}, err
	}
	d, ok := m.docs[ref]
	if !ok {
		return model.Document{}, fmt.Errorf("get %s: %w", ref, model.ErrNotFound)
	}
	return d.document(ref)
}

// Update implements Client.
func (m *Memory) Update(ctx context.Context, ref model.EntityRef, fields map[string]any) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, Call{Op: "update", Ref: ref, Fields: keys(fields)}); err != nil {
		return model.Document{}, err
	}
	d, ok := m.docs[ref]
	if !ok {
		return model.Document{}, fmt.Errorf("update %s: %w", ref, model.ErrNotFound)
	}

	next := make(map[string]json.RawMessage, len(d.fields)+len(fields))
	for k, v := range d.fields {
		next[k] = v
	}
	for k, v := range fields {
		if v == nil {
			delete(next, k)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return model.Document{}, &model.ConflictError{Reason: model.ReasonRemoteRejected, Detail: "field " + k, Err: err}
		}
		next[k] = raw
	}
	d = memDoc{fields: next, updatedAt: m.tick()}
	m.docs[ref] = d
	return d.document(ref)
}

// Create implements Client.
func (m *Memory) Create(ctx context.Context, ref model.EntityRef, data any) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, Call{Op: "create", Ref: ref}); err != nil {
		return model.Document{}, err
	}
	if _, ok := m.docs[ref]; ok {
		return model.Document{}, fmt.Errorf("create %s: %w", ref, model.ErrAlreadyExists)
	}
	fields, err := toFields(data)
	if err != nil {
		return model.Document{}, &model.ConflictError{Reason: model.ReasonRemoteRejected, Detail: "create " + ref.String(), Err: err}
	}
	d := memDoc{fields: fields, updatedAt: m.tick()}
	m.docs[ref] = d
	return d.document(ref)
}

// begin records the call and returns any injected failure. Callers hold mu.
func (m *Memory) begin(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.calls = append(m.calls, c)
	op := c.Op + " " + c.Ref.String()
	if m.down {
		return &model.TransientError{Op: op, Err: fmt.Errorf("remote unavailable")}
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	return nil
}

// tick returns a strictly increasing write timestamp. Callers hold mu.
func (m *Memory) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Nanosecond)
	}
	m.last = t
	return t
}

func (d memDoc) document(ref model.EntityRef) (model.Document, error) {
	data, err := json.Marshal(d.fields)
	if err != nil {
		return model.Document{}, fmt.Errorf("encode %s: %w", ref, err)
	}
	return model.Document{Ref: ref, Data: data, UpdatedAt: d.updatedAt}, nil
}

func toFields(data any) (map[string]json.RawMessage, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return nil, fmt.Errorf("encode document: %w", err)
		}
	}
	return model.Fields(raw)
}

func keys(fields map[string]any) []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
