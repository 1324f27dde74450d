package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/labq/model"
	"github.com/viant/labq/service/store/memory"
)

// fakeLab serves a minimal labdiscoverylib remote. Every session it starts
// reports itself over on the first poll.
func fakeLab(t *testing.T, started *int32, disposed *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ldl/sessions/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			atomic.AddInt32(started, 1)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"url":        "http://lab.example/session",
				"session_id": "remote-session",
			})
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{"should_finish": -1})
		case http.MethodDelete:
			atomic.AddInt32(disposed, 1)
			json.NewEncoder(w).Encode(map[string]interface{}{"should_finish": 0})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testWorker(t *testing.T, aStore *memory.Store, resource *model.Resource) *Worker {
	t.Helper()
	config := DefaultConfig()
	config.WaitTimeout = 20 * time.Millisecond
	config.Processor.StatusPollCeiling = 20 * time.Millisecond
	aWorker, err := New(config, resource, aStore, nil, nil, nil)
	assert.NoError(t, err)
	return aWorker
}

func waitForStatus(t *testing.T, aStore *memory.Store, reservationID string, want model.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := aStore.CurrentStatus(context.Background(), reservationID)
		assert.NoError(t, err)
		if status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("reservation %v never reached %v", reservationID, want)
}

func TestWorker_ProcessesSubmissions(t *testing.T) {
	var started, disposed int32
	server := fakeLab(t, &started, &disposed)
	resource := &model.Resource{Identifier: "dummy-1", URL: server.URL, Login: "lde", Password: "secret"}
	aStore := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	aWorker := testWorker(t, aStore, resource)
	go aWorker.Run(ctx)

	for _, id := range []string{"res-a", "res-b"} {
		err := aStore.StoreReservation(ctx, &model.ReservationRequest{
			Identifier:     id,
			Laboratory:     "dummy",
			Resources:      []string{resource.Identifier},
			UserIdentifier: "john",
			Priority:       model.DefaultPriority,
		})
		assert.NoError(t, err)
	}

	waitForStatus(t, aStore, "res-a", model.StatusFinished)
	waitForStatus(t, aStore, "res-b", model.StatusFinished)
	assert.Equal(t, int32(2), atomic.LoadInt32(&started))
	assert.Equal(t, int32(2), atomic.LoadInt32(&disposed))

	cancel()
	select {
	case <-aWorker.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_ResumesLeftoverAssignment(t *testing.T) {
	var started, disposed int32
	server := fakeLab(t, &started, &disposed)
	resource := &model.Resource{Identifier: "dummy-1", URL: server.URL, Login: "lde", Password: "secret"}
	aStore := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Simulate a crash between assignment and processing.
	err := aStore.StoreReservation(ctx, &model.ReservationRequest{
		Identifier:     "res-orphan",
		Laboratory:     "dummy",
		Resources:      []string{resource.Identifier},
		UserIdentifier: "john",
		Priority:       model.DefaultPriority,
	})
	assert.NoError(t, err)
	assigned, err := aStore.AssignReservation(ctx, resource.Identifier)
	assert.NoError(t, err)
	assert.Equal(t, "res-orphan", assigned)

	aWorker := testWorker(t, aStore, resource)
	go aWorker.Run(ctx)

	waitForStatus(t, aStore, "res-orphan", model.StatusFinished)
	free, err := aStore.AssignedReservation(ctx, resource.Identifier)
	assert.NoError(t, err)
	assert.Equal(t, "", free)
}

// flakyStore fails a number of CurrentStatus calls before behaving normally,
// simulating transient store trouble hitting a processor after a claim.
type flakyStore struct {
	*memory.Store
	mux      sync.Mutex
	failures int
}

func (s *flakyStore) CurrentStatus(ctx context.Context, reservationID string) (model.Status, error) {
	s.mux.Lock()
	if s.failures > 0 {
		s.failures--
		s.mux.Unlock()
		return "", fmt.Errorf("connection reset")
	}
	s.mux.Unlock()
	return s.Store.CurrentStatus(ctx, reservationID)
}

func TestWorker_ResumesAfterTransientStoreError(t *testing.T) {
	var started, disposed int32
	server := fakeLab(t, &started, &disposed)
	resource := &model.Resource{Identifier: "dummy-1", URL: server.URL, Login: "lde", Password: "secret"}
	aStore := &flakyStore{Store: memory.New(), failures: 1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := DefaultConfig()
	config.WaitTimeout = 20 * time.Millisecond
	config.Processor.StatusPollCeiling = 20 * time.Millisecond
	aWorker, err := New(config, resource, aStore, nil, nil, nil)
	assert.NoError(t, err)
	go aWorker.Run(ctx)

	// The first pass claims the reservation and then fails; the next pass
	// must resume the still-assigned reservation rather than leave it
	// stranded with the resource held.
	err = aStore.StoreReservation(ctx, &model.ReservationRequest{
		Identifier:     "res-stranded",
		Laboratory:     "dummy",
		Resources:      []string{resource.Identifier},
		UserIdentifier: "john",
		Priority:       model.DefaultPriority,
	})
	assert.NoError(t, err)

	waitForStatus(t, aStore.Store, "res-stranded", model.StatusFinished)
	free, err := aStore.AssignedReservation(ctx, resource.Identifier)
	assert.NoError(t, err)
	assert.Equal(t, "", free)
	assert.Equal(t, int32(1), atomic.LoadInt32(&started))
	assert.Equal(t, int32(1), atomic.LoadInt32(&disposed))
}

func TestWorker_UnknownVariantRejected(t *testing.T) {
	resource := &model.Resource{Identifier: "dummy-1", URL: "http://lab.example", API: model.APIVariant("grpc")}
	_, err := New(DefaultConfig(), resource, memory.New(), nil, nil, nil)
	assert.Error(t, err)
}
