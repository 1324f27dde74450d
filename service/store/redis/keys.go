package redis

// Key namespace shared with the server-side scripts in scripts.go. The lua
// sources spell the prefixes out literally; keep both in sync.

const (
	runningKey = "lde:running"
)

func reservationKey(reservationID string) string {
	return "lde:reservations:" + reservationID
}

func reservationChannel(reservationID string) string {
	return reservationKey(reservationID) + ":channel"
}

func resourceKey(resourceID string) string {
	return "lde:resources:" + resourceID
}

func resourceAssignedKey(resourceID string) string {
	return resourceKey(resourceID) + ":assigned"
}

func resourceChannel(resourceID string) string {
	return resourceKey(resourceID) + ":channel"
}

func userReservationsKey(userID string) string {
	return "lde:users:" + userID + ":reservations"
}
