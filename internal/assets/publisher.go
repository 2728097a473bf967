package assets

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JonWallsten/aws-cdk/internal/awsapi"
)

// EventType classifies publisher progress events.
type EventType int

const (
	EventProgress EventType = iota
	EventSuccess
	EventFail
	EventDebug
)

// Listener receives publisher progress events.
type Listener interface {
	OnPublishEvent(typ EventType, text string)
}

// WriterListener writes events to w. In quiet mode non-failure events are
// demoted to the debug writer (usually discarded); failures are never
// demoted.
type WriterListener struct {
	W      io.Writer
	Debug  io.Writer
	Prefix string
	Quiet  bool
}

func (l *WriterListener) OnPublishEvent(typ EventType, text string) {
	w := l.W
	if w == nil {
		w = io.Discard
	}
	if l.Quiet && typ != EventFail {
		w = l.Debug
		if w == nil {
			w = io.Discard
		}
	}
	fmt.Fprintf(w, "%s%s\n", l.Prefix, text)
}

// Publisher owns build and publish progress for one manifest. It lives as
// long as the façade that created it and is never evicted within a run.
type Publisher struct {
	manifest *Manifest
	client   *awsapi.Client
	listener Listener

	mu        sync.Mutex
	built     map[string]bool
	published map[string]bool
	failures  []string
}

// NewPublisher creates a publisher bound to an environment-scoped client.
func NewPublisher(manifest *Manifest, client *awsapi.Client, listener Listener) *Publisher {
	if listener == nil {
		listener = &WriterListener{W: io.Discard}
	}
	return &Publisher{
		manifest:  manifest,
		client:    client,
		listener:  listener,
		built:     make(map[string]bool),
		published: make(map[string]bool),
	}
}

// BuildEntry builds one entry, at most once per publisher. Failures are
// accumulated on the publisher and reported through the failure flag.
func (p *Publisher) BuildEntry(ctx context.Context, e Entry) error {
	p.mu.Lock()
	if p.built[e.ID()] {
		p.mu.Unlock()
		p.listener.OnPublishEvent(EventDebug, fmt.Sprintf("%s: already built", e.ID()))
		return nil
	}
	p.mu.Unlock()

	p.listener.OnPublishEvent(EventProgress, fmt.Sprintf("building %s", e.ID()))
	if err := e.Build(ctx, p.client); err != nil {
		p.recordFailure(e.ID(), err)
		return nil
	}

	p.mu.Lock()
	p.built[e.ID()] = true
	p.mu.Unlock()
	p.listener.OnPublishEvent(EventSuccess, fmt.Sprintf("built %s", e.ID()))
	return nil
}

// PublishEntry publishes one entry, building it first when that has not
// happened yet and skipping the upload when the destination already has it.
func (p *Publisher) PublishEntry(ctx context.Context, e Entry) error {
	p.mu.Lock()
	alreadyBuilt := p.built[e.ID()]
	alreadyPublished := p.published[e.ID()]
	p.mu.Unlock()

	if alreadyPublished {
		p.listener.OnPublishEvent(EventDebug, fmt.Sprintf("%s: already published", e.ID()))
		return nil
	}

	if !alreadyBuilt {
		if err := p.BuildEntry(ctx, e); err != nil {
			return err
		}
		if p.HasFailures() {
			return nil
		}
	}

	published, err := e.IsPublished(ctx, p.client)
	if err != nil {
		p.listener.OnPublishEvent(EventDebug, fmt.Sprintf("%s: published check failed, publishing anyway (%v)", e.ID(), err))
	}
	if published {
		p.mu.Lock()
		p.published[e.ID()] = true
		p.mu.Unlock()
		p.listener.OnPublishEvent(EventDebug, fmt.Sprintf("%s: found at destination", e.ID()))
		return nil
	}

	p.listener.OnPublishEvent(EventProgress, fmt.Sprintf("publishing %s", e.ID()))
	if err := e.Publish(ctx, p.client); err != nil {
		p.recordFailure(e.ID(), err)
		return nil
	}

	p.mu.Lock()
	p.published[e.ID()] = true
	p.mu.Unlock()
	p.listener.OnPublishEvent(EventSuccess, fmt.Sprintf("published %s", e.ID()))
	return nil
}

// IsEntryPublished checks the destination without side effects.
func (p *Publisher) IsEntryPublished(ctx context.Context, e Entry) (bool, error) {
	p.mu.Lock()
	if p.published[e.ID()] {
		p.mu.Unlock()
		return true, nil
	}
	p.mu.Unlock()
	return e.IsPublished(ctx, p.client)
}

// HasFailures reports whether any build or publish step failed.
func (p *Publisher) HasFailures() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failures) > 0
}

// Failures returns the accumulated failure messages.
func (p *Publisher) Failures() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failures...)
}

func (p *Publisher) recordFailure(id string, err error) {
	p.mu.Lock()
	p.failures = append(p.failures, fmt.Sprintf("%s: %v", id, err))
	p.mu.Unlock()
	p.listener.OnPublishEvent(EventFail, fmt.Sprintf("%s: %v", id, err))
}
