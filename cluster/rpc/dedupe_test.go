package rpc

import (
	"testing"
	"time"
)

func TestDedupeCheckReplayMissesOnFirstSeen(t *testing.T) {
	d := NewDedupe(time.Minute)
	if _, ok := d.CheckReplay("req-1"); ok {
		t.Fatal("expected no replay for an unseen request ID")
	}
}

func TestDedupeReplaysWithinWindow(t *testing.T) {
	d := NewDedupe(time.Minute)
	d.Record("req-1", PushCounterResponse{Current: 5, Passed: true})

	got, ok := d.CheckReplay("req-1")
	if !ok {
		t.Fatal("expected a replay hit within the dedupe window")
	}
	resp, ok := got.(PushCounterResponse)
	if !ok || resp.Current != 5 {
		t.Fatalf("unexpected cached result: %+v", got)
	}
}

func TestDedupeExpiresAfterWindow(t *testing.T) {
	d := NewDedupe(10 * time.Millisecond)
	d.Record("req-1", "anything")
	time.Sleep(20 * time.Millisecond)

	if _, ok := d.CheckReplay("req-1"); ok {
		t.Fatal("expected the dedupe entry to have expired")
	}
}
