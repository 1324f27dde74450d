package client

import (
	"context"
	"net/http"

	"github.com/viant/labq/model"
)

// webLabClient speaks the legacy weblablib protocol: session teardown is a
// POST with a delete action body.
type webLabClient struct {
	base
}

func (c *webLabClient) Start(ctx context.Context, request *model.ReservationRequest) (string, string, error) {
	return c.start(ctx, request)
}

func (c *webLabClient) ShouldFinish(ctx context.Context, sessionID string) (float64, error) {
	return c.shouldFinish(ctx, sessionID)
}

func (c *webLabClient) Dispose(ctx context.Context, sessionID string) (float64, error) {
	body := map[string]string{"action": "delete"}
	response := &sessionResponse{}
	if err := c.do(ctx, http.MethodPost, c.url("/sessions/"+sessionID), body, response); err != nil {
		return 0, err
	}
	return response.ShouldFinish, nil
}
