package events

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestEventBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()

	event := NewWorkflowStartedEvent("sess-1", "", "review", "draft")
	bus.Publish(event)

	select {
	case received := <-ch:
		if received.EventType() != TypeWorkflowStarted {
			t.Errorf("expected %s, got %s", TypeWorkflowStarted, received.EventType())
		}
		if received.SessionID() != "sess-1" {
			t.Errorf("expected sess-1, got %s", received.SessionID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestEventBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	taskCh := bus.Subscribe(TypeTaskCreated, TypeTaskClosed)
	allCh := bus.Subscribe()

	bus.Publish(NewWorkflowStartedEvent("sess-1", "", "review", "draft"))
	bus.Publish(NewTaskCreatedEvent("sess-1", "", "task-1", "write docs", ""))

	select {
	case <-allCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("allCh should receive workflow event")
	}
	select {
	case <-allCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("allCh should receive task event")
	}

	select {
	case received := <-taskCh:
		if received.EventType() != TypeTaskCreated {
			t.Errorf("expected task.created, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("taskCh should receive task event")
	}
}

func TestEventBus_PriorityNeverDrops(t *testing.T) {
	bus := New(5) // Small buffer
	defer bus.Close()

	priorityCh := bus.SubscribePriority()

	for i := 0; i < 100; i++ {
		bus.Publish(NewLogEvent("sess-1", "", "info", "log message", nil))
	}

	failedEvent := NewWorkflowFailedEvent("sess-1", "", "review", "draft", nil)
	bus.PublishPriority(failedEvent)

	select {
	case received := <-priorityCh:
		if received.EventType() != TypeWorkflowFailed {
			t.Errorf("expected workflow.failed, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("priority event was dropped")
	}
}

func TestEventBus_RingBufferDropsOldest(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	ch := bus.Subscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(NewLogEvent("sess-1", "", "info", "message", nil))
	}

	if bus.DroppedCount() == 0 {
		t.Error("expected some events to be dropped")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			goto done
		}
	}
done:

	if received == 0 {
		t.Error("should have received at least some events")
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := New(100)
	defer bus.Close()

	ch := bus.Subscribe()

	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				bus.Publish(NewLogEvent("sess-1", "", "info", "concurrent", nil))
			}
		}(i)
	}

	wg.Wait()

	received := 0
drainLoop:
	for {
		select {
		case <-ch:
			received++
		default:
			break drainLoop
		}
	}

	if received == 0 {
		t.Error("should have received some events")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, ok := <-ch
	if ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

// Project filtering tests

func TestEventBus_SubscribeForProject(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	chA := bus.SubscribeForProject("proj-a")
	chB := bus.SubscribeForProject("proj-b")
	chAll := bus.Subscribe()

	eventA := NewWorkflowStartedEvent("sess-1", "proj-a", "review", "draft")
	bus.Publish(eventA)

	eventB := NewWorkflowStartedEvent("sess-2", "proj-b", "review", "draft")
	bus.Publish(eventB)

	time.Sleep(10 * time.Millisecond)

	select {
	case e := <-chA:
		if e.ProjectID() != "proj-a" {
			t.Errorf("chA received wrong project: %s", e.ProjectID())
		}
	default:
		t.Error("chA should have received an event")
	}

	select {
	case e := <-chA:
		t.Errorf("chA should not receive project B event, got: %s", e.ProjectID())
	default:
	}

	select {
	case e := <-chB:
		if e.ProjectID() != "proj-b" {
			t.Errorf("chB received wrong project: %s", e.ProjectID())
		}
	default:
		t.Error("chB should have received an event")
	}

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-chAll:
			count++
		default:
		}
	}
	if count != 2 {
		t.Errorf("chAll should receive 2 events, got %d", count)
	}
}

func TestEventBus_SubscribeForProjectWithTypes(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.SubscribeForProject("proj-a", TypeWorkflowStarted)

	event1 := NewWorkflowStartedEvent("sess-1", "proj-a", "review", "draft")
	bus.Publish(event1)

	event2 := NewWorkflowCompletedEvent("sess-1", "proj-a", "review")
	bus.Publish(event2)

	event3 := NewWorkflowStartedEvent("sess-2", "proj-b", "review", "draft")
	bus.Publish(event3)

	time.Sleep(10 * time.Millisecond)

	count := 0
	for {
		select {
		case e := <-ch:
			count++
			if e.ProjectID() != "proj-a" || e.EventType() != TypeWorkflowStarted {
				t.Errorf("received unexpected event: project=%s, type=%s",
					e.ProjectID(), e.EventType())
			}
		default:
			goto done
		}
	}
done:

	if count != 1 {
		t.Errorf("expected 1 event, got %d", count)
	}
}

func TestEventBus_ProjectFilteringConcurrent(t *testing.T) {
	bus := New(100)
	defer bus.Close()

	const numProjects = 5
	const eventsPerProject = 100

	channels := make([]<-chan Event, numProjects)
	for i := 0; i < numProjects; i++ {
		channels[i] = bus.SubscribeForProject(fmt.Sprintf("proj-%d", i))
	}

	var wg sync.WaitGroup
	for p := 0; p < numProjects; p++ {
		wg.Add(1)
		go func(projectNum int) {
			defer wg.Done()
			projectID := fmt.Sprintf("proj-%d", projectNum)
			for e := 0; e < eventsPerProject; e++ {
				event := NewWorkflowStartedEvent(
					fmt.Sprintf("sess-%d-%d", projectNum, e), projectID, "review", "draft")
				bus.Publish(event)
			}
		}(p)
	}

	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < numProjects; i++ {
		count := 0
		expectedProject := fmt.Sprintf("proj-%d", i)
		for {
			select {
			case e := <-channels[i]:
				count++
				if e.ProjectID() != expectedProject {
					t.Errorf("channel %d received event from wrong project: %s",
						i, e.ProjectID())
				}
			default:
				goto nextChannel
			}
		}
	nextChannel:
		if count != eventsPerProject {
			t.Errorf("channel %d received %d events, expected %d",
				i, count, eventsPerProject)
		}
	}
}

func TestEventBus_EmptyProjectIDReceivesAll(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.SubscribeForProject("")

	bus.Publish(NewWorkflowStartedEvent("sess-1", "proj-a", "review", "draft"))
	bus.Publish(NewWorkflowStartedEvent("sess-2", "proj-b", "review", "draft"))
	bus.Publish(NewWorkflowStartedEvent("sess-3", "", "review", "draft"))

	time.Sleep(10 * time.Millisecond)

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			goto done
		}
	}
done:

	if count != 3 {
		t.Errorf("expected 3 events, got %d", count)
	}
}

func TestEventBus_ProjectIDMethod(t *testing.T) {
	be := NewBaseEvent(TypeWorkflowStarted, "sess-1", "proj-test")

	if be.ProjectID() != "proj-test" {
		t.Errorf("expected ProjectID 'proj-test', got '%s'", be.ProjectID())
	}

	be2 := NewBaseEvent(TypeWorkflowStarted, "sess-2", "")
	if be2.ProjectID() != "" {
		t.Errorf("expected empty ProjectID, got '%s'", be2.ProjectID())
	}
}

func TestEventBus_SubscribeForProjectWithPriority(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	chA := bus.SubscribeForProjectWithPriority("proj-a")

	eventA := NewWorkflowFailedEvent("sess-1", "proj-a", "review", "draft", nil)
	bus.PublishPriority(eventA)

	eventB := NewWorkflowFailedEvent("sess-2", "proj-b", "review", "draft", nil)
	bus.PublishPriority(eventB)

	time.Sleep(10 * time.Millisecond)

	count := 0
	for {
		select {
		case e := <-chA:
			count++
			if e.ProjectID() != "proj-a" {
				t.Errorf("chA received wrong project: %s", e.ProjectID())
			}
		default:
			goto done
		}
	}
done:

	if count != 1 {
		t.Errorf("expected 1 event, got %d", count)
	}
}

func TestEventBus_SubscribeOnClosedBus(t *testing.T) {
	bus := New(10)
	bus.Close()

	ch := bus.SubscribeForProject("proj-a")

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("channel should be closed")
		}
	default:
	}
}
