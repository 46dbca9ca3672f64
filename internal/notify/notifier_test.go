package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiver struct {
	mu       sync.Mutex
	received []Notification
	headers  []http.Header
	fail     int // answer 500 to this many requests first
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	var n Notification
	if err := json.NewDecoder(req.Body).Decode(&n); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.received = append(r.received, n)
	r.headers = append(r.headers, req.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func fastOptions() Options {
	return Options{Timeout: time.Second, MaxAttempts: 3, InitialBackoff: time.Millisecond}
}

func TestNotifyDeliversToMatchingHooks(t *testing.T) {
	all := &receiver{}
	migrations := &receiver{}
	exports := &receiver{}
	srvAll := httptest.NewServer(all)
	defer srvAll.Close()
	srvMig := httptest.NewServer(migrations)
	defer srvMig.Close()
	srvExp := httptest.NewServer(exports)
	defer srvExp.Close()

	n := New([]Hook{
		{URL: srvAll.URL},
		{URL: srvMig.URL, Events: []string{"migrate.*"}},
		{URL: srvExp.URL, Events: []string{EventExportFinished}},
		{Events: []string{"*"}},
	}, fastOptions(), nil)

	err := n.Notify(context.Background(), Event{
		Type:    EventMigrateFinished,
		Source:  "site/production",
		RunID:   "run-1",
		Summary: map[string]int{"successful": 4},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, all.count())
	assert.Equal(t, 1, migrations.count())
	assert.Equal(t, 0, exports.count())

	got := migrations.received[0]
	assert.Equal(t, EventMigrateFinished, got.Event.Type)
	assert.Equal(t, "run-1", got.Event.RunID)
	assert.NotEmpty(t, got.Event.ID)
	assert.False(t, got.Event.Timestamp.IsZero())
	assert.Equal(t, EventMigrateFinished, migrations.headers[0].Get("X-Docmigrate-Event"))
	assert.Equal(t, got.Event.ID, migrations.headers[0].Get("X-Docmigrate-Delivery"))
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	r := &receiver{fail: 2}
	srv := httptest.NewServer(r)
	defer srv.Close()

	n := New([]Hook{{URL: srv.URL}}, fastOptions(), nil)
	require.NoError(t, n.Notify(context.Background(), Event{Type: EventExportFinished}))
	assert.Equal(t, 1, r.count())
}

func TestNotifyGivesUp(t *testing.T) {
	r := &receiver{fail: 10}
	srv := httptest.NewServer(r)
	defer srv.Close()
	ok := &receiver{}
	srvOK := httptest.NewServer(ok)
	defer srvOK.Close()

	n := New([]Hook{{URL: srv.URL}, {URL: srvOK.URL}}, fastOptions(), nil)
	err := n.Notify(context.Background(), Event{Type: EventValidateFinished})

	var werr *WebhookError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, srv.URL, werr.URL)
	assert.Equal(t, http.StatusInternalServerError, werr.StatusCode)
	assert.Equal(t, 7, r.fail, "three attempts")
	assert.Equal(t, 1, ok.count(), "other hooks still notified")
}

func TestHookMatches(t *testing.T) {
	tests := []struct {
		events []string
		typ    string
		want   bool
	}{
		{nil, EventExportFinished, true},
		{[]string{"migrate.*"}, EventMigrateAborted, true},
		{[]string{"migrate.*"}, EventExportFinished, false},
		{[]string{EventValidateFinished, EventExportFinished}, EventExportFinished, true},
		{[]string{"*.finished"}, EventMigrateAborted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Hook{URL: "x", Events: tt.events}.Matches(tt.typ), "%v %s", tt.events, tt.typ)
	}
}
