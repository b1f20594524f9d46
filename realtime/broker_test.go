package realtime

import (
	"sync"
	"testing"

	"websocket-kanban/domain"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	frames []string
}

func (r *recordingSubscriber) deliver(frame []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, string(frame))
	r.mu.Unlock()
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestTopicsFor(t *testing.T) {
	user := topicsFor(domain.Identity{UserID: "u1", Role: domain.RoleUser})
	if len(user) != 1 || user[0] != "user:u1" {
		t.Fatalf("unexpected user topics: %v", user)
	}
	admin := topicsFor(domain.Identity{UserID: "a1", Role: domain.RoleAdmin})
	if len(admin) != 2 || admin[0] != "user:a1" || admin[1] != adminTopic {
		t.Fatalf("unexpected admin topics: %v", admin)
	}
}

func TestBrokerScopesDelivery(t *testing.T) {
	b := newBroker()
	alice, bob, admin := &recordingSubscriber{}, &recordingSubscriber{}, &recordingSubscriber{}
	b.subscribe(alice, topicsFor(domain.Identity{UserID: "alice", Role: domain.RoleUser})...)
	b.subscribe(bob, topicsFor(domain.Identity{UserID: "bob", Role: domain.RoleUser})...)
	b.subscribe(admin, topicsFor(domain.Identity{UserID: "root", Role: domain.RoleAdmin})...)

	n := b.publish([]byte("x"), taskTopics("alice")...)
	if n != 2 {
		t.Fatalf("expected 2 recipients, got %d", n)
	}
	if alice.count() != 1 || admin.count() != 1 || bob.count() != 0 {
		t.Fatalf("unexpected deliveries alice=%d bob=%d admin=%d", alice.count(), bob.count(), admin.count())
	}
}

func TestBrokerDeliversOncePerSubscriber(t *testing.T) {
	b := newBroker()
	admin := &recordingSubscriber{}
	// an admin owning the task is on both topics
	b.subscribe(admin, topicsFor(domain.Identity{UserID: "root", Role: domain.RoleAdmin})...)

	if n := b.publish([]byte("x"), taskTopics("root")...); n != 1 {
		t.Fatalf("expected 1 recipient, got %d", n)
	}
	if admin.count() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", admin.count())
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := newBroker()
	s := &recordingSubscriber{}
	b.subscribe(s, "user:u1", adminTopic)
	b.subscribe(s, "user:u1")
	if b.subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.subscribers())
	}

	b.unsubscribe(s)
	b.unsubscribe(s)

	if n := b.publish([]byte("x"), taskTopics("u1")...); n != 0 {
		t.Fatalf("expected no recipients after unsubscribe, got %d", n)
	}
	if b.subscribers() != 0 || len(b.topics) != 0 {
		t.Fatalf("expected empty broker, subs=%d topics=%d", b.subscribers(), len(b.topics))
	}
}
