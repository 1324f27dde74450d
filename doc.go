// Package labq is a reservation scheduling and resource-dispatch engine for
// remote laboratories. It brokers access to scarce, singly-occupiable lab
// resources among competing reservation requests: requests are queued fairly,
// atomically assigned to exactly one resource even under concurrent workers,
// driven through the remote session protocol, and released when the session
// ends.
//
// The engine is designed to be embedded in a host application. The request
// layer interacts with it through the root Service façade:
//
//	srv, _ := labq.New(ctx, config)
//	go srv.Run(ctx)
//	status, _ := srv.Submit(ctx, request)
//	status, _ = srv.Status(ctx, user, status.ReservationID, status, 30*time.Second)
//	_, _ = srv.Cancel(ctx, user, status.ReservationID)
//
// Any number of engine processes may run the same resource set against one
// shared redis store; mutual exclusion is enforced by the store's atomic
// assignment operation, not by in-process locking.
//
// For more details see the README and individual sub-packages.
package labq
