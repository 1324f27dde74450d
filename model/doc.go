// Package model defines the immutable value types of the reservation engine:
// resources, laboratories, reservation requests and the reservation status
// projection.
package model
