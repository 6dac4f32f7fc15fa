// Package state holds the client's in-memory state containers: the current
// recording session, the bound peripheral and the signed-in user.
//
// Containers are constructed explicitly and passed to the components that need
// them. Every method is safe for concurrent use.
package state
