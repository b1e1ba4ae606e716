package todostore

import "testing"

// The store requires a live Postgres DSN to exercise meaningfully; these
// light tests cover the pieces that don't need a connection.

func TestFilterConstants(t *testing.T) {
	if FilterDue == FilterUpcoming || FilterUpcoming == FilterAll || FilterDue == FilterAll {
		t.Fatal("filter constants must be distinct")
	}
}

func TestStatusConstants(t *testing.T) {
	if StatusPending == StatusCompleted {
		t.Fatal("status constants must be distinct")
	}
}
