package events

import (
	"fmt"
	"testing"
	"time"
)

func waitForSubscribers(t *testing.T, bus *EventBus, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", n, bus.SubscriberCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEventBus_BasicPubSub(t *testing.T) {
	bus := NewEventBus(100, 10)
	go bus.Run()
	defer bus.Stop()

	sub := bus.Subscribe("test-sub", []EventType{EventTypeCheckpoint}, nil, 10)
	if sub == nil {
		t.Fatal("subscription should not be nil")
	}
	waitForSubscribers(t, bus, 1)

	if !bus.Publish(NewCheckpointEvent(ChainChainflip, 42, false)) {
		t.Fatal("publish should succeed")
	}

	select {
	case received := <-sub.Channel:
		checkpoint, ok := received.(*CheckpointEvent)
		if !ok {
			t.Fatalf("expected *CheckpointEvent, got %T", received)
		}
		if checkpoint.Height != 42 || checkpoint.Chain != ChainChainflip {
			t.Errorf("unexpected checkpoint %+v", checkpoint)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	if sub.Received() != 1 {
		t.Errorf("expected 1 received event, got %d", sub.Received())
	}
}

func TestEventBus_TypeRouting(t *testing.T) {
	bus := NewEventBus(100, 10)
	go bus.Run()
	defer bus.Stop()

	stakes := bus.Subscribe("stakes", []EventType{EventTypeStake}, nil, 10)
	claims := bus.Subscribe("claims", []EventType{EventTypeClaim}, nil, 10)
	waitForSubscribers(t, bus, 2)

	bus.Publish(NewStakeEvent(ChainEthereum, ActionInitiated, "0x01", "cFalice", "100", 10))
	bus.Publish(NewClaimEvent(ChainChainflip, ActionExpired, "0x02", "cFalice", 11))

	select {
	case e := <-stakes.Channel:
		if e.Type() != EventTypeStake {
			t.Errorf("stake subscriber got %s", e.Type())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stake event")
	}

	select {
	case e := <-claims.Channel:
		if e.Type() != EventTypeClaim {
			t.Errorf("claim subscriber got %s", e.Type())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for claim event")
	}
}

func TestEventBus_Filter(t *testing.T) {
	bus := NewEventBus(100, 10)
	go bus.Run()
	defer bus.Stop()

	filter := &Filter{Addresses: []string{"cFbob"}}
	sub := bus.Subscribe("bob", []EventType{EventTypeStake}, filter, 10)
	waitForSubscribers(t, bus, 1)

	bus.Publish(NewStakeEvent(ChainEthereum, ActionInitiated, "0x01", "cFalice", "1", 1))
	bus.Publish(NewStakeEvent(ChainEthereum, ActionInitiated, "0x02", "cFbob", "2", 2))

	select {
	case e := <-sub.Channel:
		if e.(*StakeEvent).Address != "cFbob" {
			t.Errorf("filter let through %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for filtered event")
	}

	select {
	case e := <-sub.Channel:
		t.Fatalf("unexpected extra event %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEventBus_InvalidFilter(t *testing.T) {
	bus := NewEventBus(10, 10)
	go bus.Run()
	defer bus.Stop()

	if sub := bus.Subscribe("bad", []EventType{EventTypeStake}, &Filter{Chains: []string{"bitcoin"}}, 1); sub != nil {
		t.Error("subscription with invalid filter should be nil")
	}
}

func TestEventBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := NewEventBus(100, 10)
	go bus.Run()
	defer bus.Stop()

	sub := bus.Subscribe("slow", []EventType{EventTypeCheckpoint}, nil, 1)
	waitForSubscribers(t, bus, 1)

	for i := 0; i < 5; i++ {
		bus.Publish(NewCheckpointEvent(ChainEthereum, uint64(i), true))
	}

	deadline := time.Now().Add(time.Second)
	for {
		total := bus.Stats().Published
		if total == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d events processed", total)
		}
		time.Sleep(time.Millisecond)
	}

	if sub.Received() != 1 || sub.Dropped() != 4 {
		t.Errorf("expected 1 received and 4 dropped, got %d and %d", sub.Received(), sub.Dropped())
	}
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(10, 10)
	go bus.Run()
	defer bus.Stop()

	sub := bus.Subscribe("gone", []EventType{EventTypeCheckpoint}, nil, 1)
	waitForSubscribers(t, bus, 1)

	bus.Unsubscribe("gone")
	select {
	case _, ok := <-sub.Channel:
		if ok {
			t.Error("channel should be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestEventBus_StopClosesSubscriptions(t *testing.T) {
	bus := NewEventBus(10, 10)
	go bus.Run()

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = bus.Subscribe(SubscriptionID(fmt.Sprintf("sub-%d", i)), []EventType{EventTypeCheckpoint}, nil, 1)
	}
	waitForSubscribers(t, bus, 3)

	bus.Stop()

	for _, sub := range subs {
		if _, ok := <-sub.Channel; ok {
			t.Errorf("subscription %s should be closed", sub.ID)
		}
	}
	if bus.Publish(NewCheckpointEvent(ChainEthereum, 1, true)) {
		t.Error("publish after stop should fail")
	}
}
