package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/labq/model"
	"github.com/viant/labq/service/store"
)

func newRequest(id string, resources []string, priority int) *model.ReservationRequest {
	return &model.ReservationRequest{
		Identifier:     id,
		Laboratory:     "dummy",
		Resources:      resources,
		UserIdentifier: "john",
		UserRole:       "student",
		Priority:       priority,
	}
}

func TestStore_ExclusiveAssignment(t *testing.T) {
	ctx := context.Background()
	aStore := New()

	resources := []string{"dummy-1", "dummy-2", "dummy-3", "dummy-4"}
	err := aStore.StoreReservation(ctx, newRequest("res-1", resources, model.DefaultPriority))
	assert.NoError(t, err)

	// Race one claim per candidate resource; exactly one may win.
	var wg sync.WaitGroup
	winners := make(chan string, len(resources))
	for _, resourceID := range resources {
		wg.Add(1)
		go func(resourceID string) {
			defer wg.Done()
			reservationID, err := aStore.AssignReservation(ctx, resourceID)
			assert.NoError(t, err)
			if reservationID != "" {
				winners <- resourceID
			}
		}(resourceID)
	}
	wg.Wait()
	close(winners)

	var assigned []string
	for resourceID := range winners {
		assigned = append(assigned, resourceID)
	}
	assert.Len(t, assigned, 1)

	status, err := aStore.CurrentStatus(ctx, "res-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusInitializing, status)

	// The winner holds the assignment fact, nobody else does.
	for _, resourceID := range resources {
		reservationID, err := aStore.AssignedReservation(ctx, resourceID)
		assert.NoError(t, err)
		if resourceID == assigned[0] {
			assert.Equal(t, "res-1", reservationID)
		} else {
			assert.Equal(t, "", reservationID)
		}
	}
}

func TestStore_InitialStatus(t *testing.T) {
	ctx := context.Background()
	aStore := New()

	assert.NoError(t, aStore.StoreReservation(ctx, newRequest("res-1", []string{"dummy-1"}, model.DefaultPriority)))
	status, err := aStore.ReservationStatus(ctx, "res-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPending, status.Status)

	reservationID, err := aStore.AssignReservation(ctx, "dummy-1")
	assert.NoError(t, err)
	assert.Equal(t, "res-1", reservationID)

	// dummy-1 is busy now, so a new reservation starts out queued.
	assert.NoError(t, aStore.StoreReservation(ctx, newRequest("res-2", []string{"dummy-1"}, model.DefaultPriority)))
	status, err = aStore.ReservationStatus(ctx, "res-2")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusQueued, status.Status)
}

func TestStore_CancelBeforeClaim(t *testing.T) {
	ctx := context.Background()
	aStore := New()

	assert.NoError(t, aStore.StoreReservation(ctx, newRequest("res-1", []string{"dummy-1", "dummy-2"}, model.DefaultPriority)))

	cancelled, err := aStore.CancelReservation(ctx, "res-1")
	assert.NoError(t, err)
	assert.True(t, cancelled)

	// The next claim attempt cleans the entry up without assigning it.
	for _, resourceID := range []string{"dummy-1", "dummy-2"} {
		reservationID, err := aStore.AssignReservation(ctx, resourceID)
		assert.NoError(t, err)
		assert.Equal(t, "", reservationID)

		assigned, err := aStore.AssignedReservation(ctx, resourceID)
		assert.NoError(t, err)
		assert.Equal(t, "", assigned)
	}

	status, err := aStore.CurrentStatus(ctx, "res-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFinished, status)

	// Cancelling a terminal reservation has no effect.
	cancelled, err = aStore.CancelReservation(ctx, "res-1")
	assert.NoError(t, err)
	assert.False(t, cancelled)
}

func TestStore_QueuePosition(t *testing.T) {
	ctx := context.Background()
	aStore := New()

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("res-%d", i)
		assert.NoError(t, aStore.StoreReservation(ctx, newRequest(id, []string{"dummy-1"}, model.DefaultPriority)))
	}

	for i := 1; i <= 3; i++ {
		status, err := aStore.ReservationStatus(ctx, fmt.Sprintf("res-%d", i))
		assert.NoError(t, err)
		assert.Equal(t, i-1, status.Position)
	}

	// After the head is claimed the remaining positions shift up.
	reservationID, err := aStore.AssignReservation(ctx, "dummy-1")
	assert.NoError(t, err)
	assert.Equal(t, "res-1", reservationID)

	status, err := aStore.ReservationStatus(ctx, "res-2")
	assert.NoError(t, err)
	assert.Equal(t, 0, status.Position)

	status, err = aStore.ReservationStatus(ctx, "res-3")
	assert.NoError(t, err)
	assert.Equal(t, 1, status.Position)
}

func TestStore_PriorityOrdering(t *testing.T) {
	ctx := context.Background()
	aStore := New()

	assert.NoError(t, aStore.StoreReservation(ctx, newRequest("res-low", []string{"dummy-1"}, 8)))
	assert.NoError(t, aStore.StoreReservation(ctx, newRequest("res-high", []string{"dummy-1"}, 1)))

	status, err := aStore.ReservationStatus(ctx, "res-high")
	assert.NoError(t, err)
	assert.Equal(t, 0, status.Position)

	status, err = aStore.ReservationStatus(ctx, "res-low")
	assert.NoError(t, err)
	assert.Equal(t, 1, status.Position)

	reservationID, err := aStore.AssignReservation(ctx, "dummy-1")
	assert.NoError(t, err)
	assert.Equal(t, "res-high", reservationID)
}

func TestStore_Subscription(t *testing.T) {
	ctx := context.Background()
	aStore := New()

	assert.NoError(t, aStore.StoreReservation(ctx, newRequest("res-1", []string{"dummy-1"}, model.DefaultPriority)))

	subscription, err := aStore.SubscribeReservation(ctx, "res-1")
	assert.NoError(t, err)
	defer subscription.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = aStore.CancelReservation(ctx, "res-1")
	}()

	notified, err := subscription.Wait(ctx, time.Second)
	assert.NoError(t, err)
	assert.True(t, notified)

	// No further notifications: the wait times out.
	notified, err = subscription.Wait(ctx, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, notified)
}

func TestStore_RejectsEmptyCandidates(t *testing.T) {
	ctx := context.Background()
	aStore := New()

	err := aStore.StoreReservation(ctx, newRequest("res-1", nil, model.DefaultPriority))
	assert.Error(t, err)

	// The rejected reservation never entered the store.
	_, err = aStore.ReservationStatus(ctx, "res-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Running(t *testing.T) {
	ctx := context.Background()
	aStore := New()

	running, err := aStore.Running(ctx)
	assert.NoError(t, err)
	assert.True(t, running)

	aStore.Reset()
	running, err = aStore.Running(ctx)
	assert.NoError(t, err)
	assert.False(t, running)
}
