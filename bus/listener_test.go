package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"signflow/agreement"
)

type recordingHandler struct {
	created []agreement.Agreement
	updated [][2]agreement.Agreement
	err     error
}

func (h *recordingHandler) HandleAgreementCreated(_ context.Context, snap agreement.Agreement) error {
	if h.err != nil {
		return h.err
	}
	h.created = append(h.created, snap)
	return nil
}

func (h *recordingHandler) HandleAgreementUpdated(_ context.Context, before, after agreement.Agreement) error {
	if h.err != nil {
		return h.err
	}
	h.updated = append(h.updated, [2]agreement.Agreement{before, after})
	return nil
}

func entry(t *testing.T, ev agreement.Event) map[string]interface{} {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return map[string]interface{}{
		"topic":   string(ev.Kind),
		"payload": string(payload),
	}
}

func newTestListener(h Handler) *Listener {
	return NewListener(nil, "agreements", "signflow", "test-consumer", h, zap.NewNop())
}

func TestDispatchCreated(t *testing.T) {
	h := &recordingHandler{}
	l := newTestListener(h)

	snap := agreement.Agreement{ID: "A1", VendorName: "Acme", VendorEmail: "v@x.com"}
	ev := agreement.Event{Kind: agreement.EventCreated, AgreementID: "A1", After: snap}

	if err := l.dispatch(context.Background(), entry(t, ev)); err != nil {
		t.Fatalf("dispatch created: %v", err)
	}
	if len(h.created) != 1 || h.created[0].ID != "A1" {
		t.Fatalf("creation branch did not receive the snapshot: %+v", h.created)
	}
}

func TestDispatchUpdatedCarriesSnapshotPair(t *testing.T) {
	h := &recordingHandler{}
	l := newTestListener(h)

	before := agreement.Agreement{ID: "A1", Signed: false}
	after := agreement.Agreement{ID: "A1", Signed: true, SignedPDFURL: "https://s/A1.pdf"}
	ev := agreement.Event{Kind: agreement.EventUpdated, AgreementID: "A1", Before: &before, After: after}

	if err := l.dispatch(context.Background(), entry(t, ev)); err != nil {
		t.Fatalf("dispatch updated: %v", err)
	}
	if len(h.updated) != 1 {
		t.Fatalf("expected one update dispatch, got %d", len(h.updated))
	}
	pair := h.updated[0]
	if pair[0].Signed || !pair[1].Signed {
		t.Fatalf("snapshot pair lost the signed transition: %+v", pair)
	}
}

func TestDispatchMalformed(t *testing.T) {
	h := &recordingHandler{}
	l := newTestListener(h)

	cases := []map[string]interface{}{
		{},                                  // no payload
		{"payload": "not-json"},             // undecodable
		{"payload": `{"kind":"mystery"}`},   // unknown kind
		{"payload": `{"kind":"agreement.updated","after":{}}`}, // missing before
	}
	for i, values := range cases {
		if err := l.dispatch(context.Background(), values); err == nil {
			t.Errorf("case %d: expected dispatch error", i)
		}
	}
	if len(h.created)+len(h.updated) != 0 {
		t.Fatalf("malformed entries must not reach the handler")
	}
}

func TestDispatchHandlerErrorPropagates(t *testing.T) {
	h := &recordingHandler{err: errors.New("mailer down")}
	l := newTestListener(h)

	ev := agreement.Event{Kind: agreement.EventCreated, AgreementID: "A1", After: agreement.Agreement{ID: "A1"}}
	if err := l.dispatch(context.Background(), entry(t, ev)); err == nil {
		t.Fatalf("handler failure must propagate so the entry stays pending")
	}
}
