// Package bridge turns the interpreter's per-execution callbacks into
// outbound WireEvent frames, records case-log entries for matching
// subscriptions, and hands every frame to the results publisher.
package bridge

import (
	"encoding/json"
	"sync"
)

// CaseLogEntry is one (event, sender_id, data) triple recorded against a
// case because a live subscription matched it.
type CaseLogEntry struct {
	SenderID string
	Event    string
	Data     json.RawMessage
}

// SubscriptionCache tracks, per case, which senders want which event names,
// plus the log of matched events recorded for each case. One cache instance
// is shared by every execution in the worker; control messages mutate the
// subscription sets, the bridge only reads them and appends log entries.
type SubscriptionCache struct {
	mu    sync.RWMutex
	cases map[string]map[string]map[string]struct{} // caseID -> senderID -> eventName set
	logs  map[string][]CaseLogEntry
}

// NewSubscriptionCache creates an empty cache.
func NewSubscriptionCache() *SubscriptionCache {
	return &SubscriptionCache{
		cases: make(map[string]map[string]map[string]struct{}),
		logs:  make(map[string][]CaseLogEntry),
	}
}

// Create installs a fresh subscription set for a case, replacing any
// previous one. Idempotent: a repeated Create for the same case id is a
// full overwrite, not an error.
func (c *SubscriptionCache) Create(caseID string, subs map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cases[caseID] = toSets(subs)
}

// Update installs subs as the case's entire subscription set, exactly like
// Create: both are atomic install/replace operations, so an Update carrying
// fewer senders or events than before shrinks the set rather than leaving
// stale subscriptions active.
func (c *SubscriptionCache) Update(caseID string, subs map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cases[caseID] = toSets(subs)
}

// Delete removes a case's subscriptions entirely.
func (c *SubscriptionCache) Delete(caseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cases, caseID)
}

// Matches reports whether any subscriber for caseID wants eventName.
func (c *SubscriptionCache) Matches(caseID, eventName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	senders, ok := c.cases[caseID]
	if !ok {
		return false
	}
	for _, set := range senders {
		if _, ok := set[eventName]; ok {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
	}
	return false
}

// Record checks every known case's subscriptions for an exact (senderID,
// eventName) match and appends a CaseLogEntry to each case that matches.
// Unlike Matches (which answers "does this case want this event name at
// all"), Record discriminates by sender, mirroring the Subscription record
// (sender_id, set<event_name>). Returns the matched case ids, mainly for
// tests. Recording never gates whether the event reaches the results
// channel; that happens unconditionally in the caller.
func (c *SubscriptionCache) Record(senderID, eventName string, data json.RawMessage) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []string
	for caseID, senders := range c.cases {
		set, ok := senders[senderID]
		if !ok {
			continue
		}
		_, exact := set[eventName]
		_, wild := set["*"]
		if !exact && !wild {
			continue
		}
		c.logs[caseID] = append(c.logs[caseID], CaseLogEntry{SenderID: senderID, Event: eventName, Data: data})
		matched = append(matched, caseID)
	}
	return matched
}

// Entries returns a copy of the log recorded for caseID so far.
func (c *SubscriptionCache) Entries(caseID string) []CaseLogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CaseLogEntry, len(c.logs[caseID]))
	copy(out, c.logs[caseID])
	return out
}

func toSets(subs map[string][]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(subs))
	for sender, events := range subs {
		set := make(map[string]struct{}, len(events))
		for _, e := range events {
			set[e] = struct{}{}
		}
		out[sender] = set
	}
	return out
}
