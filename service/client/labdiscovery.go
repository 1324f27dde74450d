package client

import (
	"context"
	"net/http"

	"github.com/viant/labq/model"
)

// labDiscoveryClient speaks the labdiscoverylib protocol: session teardown is
// a DELETE on the session.
type labDiscoveryClient struct {
	base
}

func (c *labDiscoveryClient) Start(ctx context.Context, request *model.ReservationRequest) (string, string, error) {
	return c.start(ctx, request)
}

func (c *labDiscoveryClient) ShouldFinish(ctx context.Context, sessionID string) (float64, error) {
	return c.shouldFinish(ctx, sessionID)
}

func (c *labDiscoveryClient) Dispose(ctx context.Context, sessionID string) (float64, error) {
	response := &sessionResponse{}
	if err := c.do(ctx, http.MethodDelete, c.url("/sessions/"+sessionID), nil, response); err != nil {
		return 0, err
	}
	return response.ShouldFinish, nil
}
