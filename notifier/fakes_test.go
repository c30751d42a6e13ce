package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/live-herald/store"
	"github.com/onnwee/live-herald/twitchapi"
)

type fakeHub struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	listing      []twitchapi.WebhookSubscription
	subErr       error
	unsubErr     error
	listErr      error

	// entered receives each subscribed id; gate, when set, holds Subscribe until closed.
	entered chan string
	gate    chan struct{}
}

func (h *fakeHub) Subscribe(_ context.Context, id string) error {
	h.mu.Lock()
	h.subscribed = append(h.subscribed, id)
	entered, gate := h.entered, h.gate
	h.mu.Unlock()
	if entered != nil {
		entered <- id
	}
	if gate != nil {
		<-gate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subErr
}

func (h *fakeHub) Unsubscribe(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribed = append(h.unsubscribed, id)
	return h.unsubErr
}

func (h *fakeHub) Subscriptions(context.Context) ([]twitchapi.WebhookSubscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listing, h.listErr
}

func (h *fakeHub) calls() (sub, unsub []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.subscribed...), append([]string(nil), h.unsubscribed...)
}

func listed(id string, expires time.Time) twitchapi.WebhookSubscription {
	return twitchapi.WebhookSubscription{Topic: twitchapi.StreamsTopic(id), Callback: "cb", ExpiresAt: expires}
}

// fakeDirectory knows users by login.
type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string]twitchapi.User
	search  map[string]twitchapi.Channel
	err     error
	lookups int
}

func newDirectory(logins ...string) *fakeDirectory {
	d := &fakeDirectory{users: map[string]twitchapi.User{}, search: map[string]twitchapi.Channel{}}
	for i, l := range logins {
		d.users[l] = twitchapi.User{ID: fmt.Sprintf("%d", 1000+i), Login: l, DisplayName: strings.ToUpper(l[:1]) + l[1:]}
	}
	return d
}

func (d *fakeDirectory) id(login string) string { return d.users[login].ID }

func (d *fakeDirectory) GetUser(_ context.Context, login string) (twitchapi.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if d.err != nil {
		return twitchapi.User{}, d.err
	}
	u, ok := d.users[login]
	if !ok {
		return twitchapi.User{}, fmt.Errorf("user %q: %w", login, twitchapi.ErrNotFound)
	}
	return u, nil
}

func (d *fakeDirectory) SearchChannel(_ context.Context, q string) (twitchapi.Channel, error) {
	if d.err != nil {
		return twitchapi.Channel{}, d.err
	}
	if c, ok := d.search[q]; ok {
		return c, nil
	}
	if u, ok := d.users[q]; ok {
		return twitchapi.Channel{ID: u.ID, Login: u.Login, DisplayName: u.DisplayName}, nil
	}
	return twitchapi.Channel{}, fmt.Errorf("search %q: %w", q, twitchapi.ErrNotFound)
}

type fakeStreams struct {
	streams []twitchapi.Stream
	err     error
}

func (f *fakeStreams) GetStreams(_ context.Context, ids []string) ([]twitchapi.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	want := NewSet(ids...)
	var out []twitchapi.Stream
	for _, s := range f.streams {
		if want.Has(s.UserID) {
			out = append(out, s)
		}
	}
	return out, nil
}

type sentMessage struct {
	Chat DestinationID
	Msg  Message
}

// fakePoster keeps posted messages in memory. Like a real chat client it
// refuses work on a done context.
type fakePoster struct {
	mu      sync.Mutex
	next    int
	posts   map[MessageRef]Message
	sent    []sentMessage
	deleted []MessageRef
	edits   int
	sendErr error
}

func newPoster() *fakePoster { return &fakePoster{posts: map[MessageRef]Message{}} }

func (p *fakePoster) Send(ctx context.Context, chat DestinationID, msg Message) (MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return MessageRef{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return MessageRef{}, p.sendErr
	}
	p.next++
	ref := MessageRef{Chat: chat, ID: fmt.Sprintf("m%d", p.next)}
	p.posts[ref] = cloneMessage(msg)
	p.sent = append(p.sent, sentMessage{Chat: chat, Msg: cloneMessage(msg)})
	return ref, nil
}

func (p *fakePoster) Fetch(ctx context.Context, ref MessageRef) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.posts[ref]
	if !ok {
		return Message{}, fmt.Errorf("fetch %s: %w", ref.ID, ErrPostGone)
	}
	return cloneMessage(m), nil
}

func (p *fakePoster) Edit(ctx context.Context, ref MessageRef, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.posts[ref]; !ok {
		return ErrPostGone
	}
	p.edits++
	p.posts[ref] = cloneMessage(msg)
	return nil
}

func (p *fakePoster) Delete(ctx context.Context, ref MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.posts[ref]; !ok {
		return errors.New("unknown message")
	}
	delete(p.posts, ref)
	p.deleted = append(p.deleted, ref)
	return nil
}

// seed stores a message without counting it as sent.
func (p *fakePoster) seed(chat DestinationID, msg Message) MessageRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	ref := MessageRef{Chat: chat, ID: fmt.Sprintf("m%d", p.next)}
	p.posts[ref] = cloneMessage(msg)
	return ref
}

func (p *fakePoster) post(ref MessageRef) (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.posts[ref]
	return cloneMessage(m), ok
}

func (p *fakePoster) remove(ref MessageRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.posts, ref)
}

// sentTo returns the messages sent to chat.
func (p *fakePoster) sentTo(chat DestinationID) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, s := range p.sent {
		if s.Chat == chat {
			out = append(out, s.Msg)
		}
	}
	return out
}

func cloneMessage(m Message) Message {
	if m.Embed != nil {
		e := *m.Embed
		e.Fields = append([]Field(nil), m.Embed.Fields...)
		m.Embed = &e
	}
	return m
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	err   error
}

func newMemStore() *memStore { return &memStore{blobs: map[string][]byte{}} }

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (s *memStore) Put(_ context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.blobs[key] = append([]byte(nil), blob...)
	return nil
}
