package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe(TypePriceChanged, received)

	bus.Publish(Event{
		Type:   TypePriceChanged,
		TaskID: "t1",
		Data:   map[string]int64{"master_property_id": 42},
	})

	select {
	case evt := <-received:
		if evt.Type != TypePriceChanged {
			t.Errorf("expected %s, got %s", TypePriceChanged, evt.Type)
		}
		if evt.TaskID != "t1" {
			t.Errorf("expected task t1, got %s", evt.TaskID)
		}
		if evt.Timestamp.IsZero() {
			t.Error("expected publish to stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10)
	ch2 := make(chan Event, 10)
	bus.Subscribe(TypeMergePerformed, ch1)
	bus.Subscribe(TypeMergePerformed, ch2)

	bus.Publish(Event{Type: TypeMergePerformed})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	mergeCh := make(chan Event, 10)
	taskCh := make(chan Event, 10)
	bus.Subscribe(TypeMergePerformed, mergeCh)
	bus.Subscribe(TypeTaskProgress, taskCh)

	bus.Publish(Event{Type: TypeMergePerformed})

	select {
	case <-mergeCh:
	case <-time.After(time.Second):
		t.Fatal("merge subscriber did not receive event")
	}

	select {
	case <-taskCh:
		t.Fatal("task subscriber should NOT receive merge event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishBatch(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe(TypeListingIngested, received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: TypeListingIngested})
		}()
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}
