// Package types defines the domain records of the lease lifecycle engine:
// offers, leases, owner changes, events and console auth tokens, together
// with their status machines and the half-open time window algebra shared by
// every component.
package types
