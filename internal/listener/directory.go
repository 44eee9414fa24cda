// Package listener tracks the webhook subscribers interested in
// registry changes.
package listener

import (
	"errors"
	"slices"
	"sync"
)

var ErrEmptyWebhook = errors.New("webhook base is required")
var ErrEmptyKey = errors.New("subscription key is required")

// Directory holds webhook subscriptions keyed by service name, by tag,
// plus the unconditional "all" set. Subscription is additive only — a
// webhook stays registered for the lifetime of the process. Duplicate
// subscriptions are kept, and each one produces its own delivery.
type Directory struct {
	mu     sync.RWMutex
	byName map[string][]string
	byTag  map[string][]string
	all    []string
}

func NewDirectory() *Directory {
	return &Directory{
		byName: make(map[string][]string),
		byTag:  make(map[string][]string),
	}
}

// SubscribeName registers webhook for changes to providers of the
// given service. The webhook URI is not validated beyond non-empty.
func (d *Directory) SubscribeName(service, webhook string) error {
	if service == "" {
		return ErrEmptyKey
	}
	if webhook == "" {
		return ErrEmptyWebhook
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byName[service] = append(d.byName[service], webhook)
	return nil
}

// SubscribeTag registers webhook for changes to providers carrying the
// given tag.
func (d *Directory) SubscribeTag(tag, webhook string) error {
	if tag == "" {
		return ErrEmptyKey
	}
	if webhook == "" {
		return ErrEmptyWebhook
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byTag[tag] = append(d.byTag[tag], webhook)
	return nil
}

// SubscribeAll registers webhook for every registry change.
func (d *Directory) SubscribeAll(webhook string) error {
	if webhook == "" {
		return ErrEmptyWebhook
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, webhook)
	return nil
}

// TagListeners pairs one of a record's tags with the webhooks
// subscribed to that tag.
type TagListeners struct {
	Tag      string
	Webhooks []string
}

// Listeners is the point-in-time resolution of every webhook
// interested in a change to one record.
type Listeners struct {
	Name []string
	Tags []TagListeners
	All  []string
}

// Total returns the number of deliveries the set implies.
func (l Listeners) Total() int {
	n := len(l.Name) + len(l.All)
	for _, tl := range l.Tags {
		n += len(tl.Webhooks)
	}
	return n
}

// ListenersFor resolves the webhooks interested in a change to a
// record with the given service name and tags. All three categories
// are read under one lock, so they are consistent with each other. Tag
// entries follow the record's tag order, and a webhook subscribed to
// several of the record's tags appears once per matching tag — each
// occurrence is a separate delivery. Returned slices are copies.
func (d *Directory) ListenersFor(service string, tags []string) Listeners {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ls := Listeners{
		Name: slices.Clone(d.byName[service]),
		All:  slices.Clone(d.all),
	}
	for _, tag := range tags {
		if hooks := d.byTag[tag]; len(hooks) > 0 {
			ls.Tags = append(ls.Tags, TagListeners{Tag: tag, Webhooks: slices.Clone(hooks)})
		}
	}
	return ls
}

// Stats summarizes subscription counts for metrics.
type Stats struct {
	Name int
	Tag  int
	All  int
}

func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Stats{All: len(d.all)}
	for _, hooks := range d.byName {
		st.Name += len(hooks)
	}
	for _, hooks := range d.byTag {
		st.Tag += len(hooks)
	}
	return st
}
