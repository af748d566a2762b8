package bus

import (
	"strings"
	"sync"

	"github.com/yanun0323/errors"
)

var (
	ErrEmptyTopicName = errors.New("topic name is empty")
	ErrUnknownTopic   = errors.New("topic not found")
)

// TopicID is the interned numeric identifier for a topic name. All routing
// after bootstrap happens on ids; no string comparison sits on the hot path.
type TopicID uint32

// TopicRegistry stores topic name mappings in a compact form. It is
// populated during bootstrap wiring and read-mostly afterwards.
type TopicRegistry struct {
	mu     sync.RWMutex
	names  []string
	byName map[string]TopicID
}

// NewTopicRegistry creates an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{byName: make(map[string]TopicID)}
}

// Intern registers a topic name if needed and returns its id.
func (r *TopicRegistry) Intern(name string) (TopicID, error) {
	if name == "" {
		return 0, ErrEmptyTopicName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[name]; ok {
		return id, nil
	}
	id := TopicID(len(r.names) + 1)
	r.names = append(r.names, name)
	r.byName[name] = id
	return id, nil
}

// Lookup returns the id for a name.
func (r *TopicRegistry) Lookup(name string) (TopicID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Name returns the name for an id.
func (r *TopicRegistry) Name(id TopicID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == 0 || int(id) > len(r.names) {
		return ""
	}
	return r.names[id-1]
}

// Match resolves an exact name or a trailing-wildcard pattern ("plan.*")
// against the currently registered topics.
func (r *TopicRegistry) Match(nameOrPattern string) ([]TopicID, error) {
	if nameOrPattern == "" {
		return nil, ErrEmptyTopicName
	}
	if !strings.HasSuffix(nameOrPattern, "*") {
		id, ok := r.Lookup(nameOrPattern)
		if !ok {
			return nil, errors.Wrap(ErrUnknownTopic, nameOrPattern)
		}
		return []TopicID{id}, nil
	}

	prefix := strings.TrimSuffix(nameOrPattern, "*")
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []TopicID
	for i, name := range r.names {
		if strings.HasPrefix(name, prefix) {
			ids = append(ids, TopicID(i+1))
		}
	}
	if len(ids) == 0 {
		return nil, errors.Wrap(ErrUnknownTopic, nameOrPattern)
	}
	return ids, nil
}

// Count returns the number of registered topics.
func (r *TopicRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
