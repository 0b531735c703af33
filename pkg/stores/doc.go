// Package stores implements the transactional persistence layer for offers,
// leases, owner changes, events and console auth tokens, including the
// temporal-conflict primitives the lifecycle engine builds on.
package stores
