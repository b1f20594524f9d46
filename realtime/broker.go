package realtime

import (
	"sync"

	"websocket-kanban/domain"
)

const adminTopic = "role:admin"

func userTopic(userID string) string { return "user:" + userID }

// topicsFor returns the scopes a connection with the identity listens on.
func topicsFor(id domain.Identity) []string {
	topics := []string{userTopic(id.UserID)}
	if id.IsAdmin() {
		topics = append(topics, adminTopic)
	}
	return topics
}

// taskTopics returns the scopes a change to a task owned by ownerID is
// published to.
func taskTopics(ownerID string) []string {
	return []string{userTopic(ownerID), adminTopic}
}

// subscriber receives published frames. deliver must not block.
type subscriber interface {
	deliver(frame []byte)
}

// broker fans frames out to the subscribers of a set of topics.
type broker struct {
	mu     sync.Mutex
	topics map[string]map[subscriber]struct{}
	subs   map[subscriber][]string
}

func newBroker() *broker {
	return &broker{
		topics: make(map[string]map[subscriber]struct{}),
		subs:   make(map[subscriber][]string),
	}
}

func (b *broker) subscribe(s subscriber, topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range topics {
		set, ok := b.topics[t]
		if !ok {
			set = make(map[subscriber]struct{})
			b.topics[t] = set
		}
		if _, dup := set[s]; dup {
			continue
		}
		set[s] = struct{}{}
		b.subs[s] = append(b.subs[s], t)
	}
}

func (b *broker) unsubscribe(s subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.subs[s] {
		set := b.topics[t]
		delete(set, s)
		if len(set) == 0 {
			delete(b.topics, t)
		}
	}
	delete(b.subs, s)
}

// publish delivers frame once to every subscriber of any of the topics and
// returns the number of recipients.
func (b *broker) publish(frame []byte, topics ...string) int {
	b.mu.Lock()
	recipients := make(map[subscriber]struct{})
	for _, t := range topics {
		for s := range b.topics[t] {
			recipients[s] = struct{}{}
		}
	}
	b.mu.Unlock()

	for s := range recipients {
		s.deliver(frame)
	}
	return len(recipients)
}

func (b *broker) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
