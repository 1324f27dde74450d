package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/labq/model"
)

func TestRecorder_Lifecycle(t *testing.T) {
	ctx := context.Background()
	recorder, err := New(filepath.Join(t.TempDir(), "usage.db"))
	assert.NoError(t, err)
	defer recorder.Close()

	request := &model.ReservationRequest{
		Identifier:     "res-1",
		Laboratory:     "dummy",
		Resources:      []string{"dummy-1", "dummy-2"},
		UserIdentifier: "john",
		UserRole:       "student",
		Priority:       model.DefaultPriority,
	}
	assert.NoError(t, recorder.RecordSubmission(ctx, request))
	assert.NoError(t, recorder.RecordAssignment(ctx, "res-1", "dummy-1"))
	assert.NoError(t, recorder.RecordSessionStart(ctx, "res-1", "http://lab.example/session/abc"))
	assert.NoError(t, recorder.RecordFinish(ctx, "res-1", model.StatusFinished))

	var user, laboratory, assignedResource, finalStatus string
	var queueSeconds, sessionSeconds float64
	row := recorder.db.QueryRow(`
		SELECT user, laboratory, assigned_resource, final_status, queue_seconds, session_seconds
		FROM sessions WHERE reservation_id = ?`, "res-1")
	assert.NoError(t, row.Scan(&user, &laboratory, &assignedResource, &finalStatus, &queueSeconds, &sessionSeconds))
	assert.Equal(t, "john", user)
	assert.Equal(t, "dummy", laboratory)
	assert.Equal(t, "dummy-1", assignedResource)
	assert.Equal(t, "finished", finalStatus)
	assert.GreaterOrEqual(t, queueSeconds, 0.0)
	assert.GreaterOrEqual(t, sessionSeconds, 0.0)
}

func TestRecorder_FinishWithoutSession(t *testing.T) {
	ctx := context.Background()
	recorder, err := New(filepath.Join(t.TempDir(), "usage.db"))
	assert.NoError(t, err)
	defer recorder.Close()

	request := &model.ReservationRequest{
		Identifier:     "res-2",
		Laboratory:     "dummy",
		UserIdentifier: "john",
		Priority:       model.DefaultPriority,
	}
	assert.NoError(t, recorder.RecordSubmission(ctx, request))
	assert.NoError(t, recorder.RecordFinish(ctx, "res-2", model.StatusBroken))

	var finalStatus string
	var sessionSeconds *float64
	row := recorder.db.QueryRow(`SELECT final_status, session_seconds FROM sessions WHERE reservation_id = ?`, "res-2")
	assert.NoError(t, row.Scan(&finalStatus, &sessionSeconds))
	assert.Equal(t, "broken", finalStatus)
	assert.Nil(t, sessionSeconds)
}
