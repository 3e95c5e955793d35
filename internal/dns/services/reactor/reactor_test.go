package reactor

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanodns/nanodns/internal/dns/common/clock"
	"github.com/nanodns/nanodns/internal/dns/common/log"
	"github.com/nanodns/nanodns/internal/dns/common/rrdata"
	"github.com/nanodns/nanodns/internal/dns/domain"
	"github.com/nanodns/nanodns/internal/dns/gateways/netio"
	"github.com/nanodns/nanodns/internal/dns/gateways/wire"
	"github.com/nanodns/nanodns/internal/dns/repos/dnscache"
	"github.com/nanodns/nanodns/internal/dns/repos/store"
	"github.com/nanodns/nanodns/internal/dns/services/resolver"
	"github.com/nanodns/nanodns/internal/dns/services/update"
)

var (
	testEpoch  = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clientAddr = &net.UDPAddr{IP: net.ParseIP("198.51.100.9"), Port: 53000}
)

type chanSender struct {
	out chan []byte
}

func (c *chanSender) Send(data []byte, addr net.Addr) error {
	c.out <- append([]byte(nil), data...)
	return nil
}

type recordingJournal struct {
	deleted chan string
}

func (j *recordingJournal) Put(store.Entry) error { return nil }
func (j *recordingJournal) Delete(name string, rrtype domain.RRType, class domain.RRClass) error {
	j.deleted <- domain.GenerateCacheKey(name, rrtype, class)
	return nil
}

type fixture struct {
	reactor    *Reactor
	store      *store.Store
	codec      wire.Codec
	clientCh   chan netio.Datagram
	upstreamCh chan netio.Datagram
	replies    *chanSender
	journal    *recordingJournal
	clock      *clock.MockClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.New()
	cache, err := dnscache.New(32)
	require.NoError(t, err)
	codec := wire.NewUDPCodec()
	replies := &chanSender{out: make(chan []byte, 16)}
	clk := &clock.MockClock{CurrentTime: testEpoch}

	res, err := resolver.NewResolver(resolver.Options{
		Store:          st,
		Cache:          cache,
		Codec:          codec,
		ClientSender:   replies,
		UpstreamSender: replies,
		Servers:        nil,
		Logger:         log.NewNoopLogger(),
	})
	require.NoError(t, err)

	journal := &recordingJournal{deleted: make(chan string, 16)}
	upd, err := update.NewService(update.Options{
		Keys:    map[string]string{"default": "s3cret"},
		Window:  10 * time.Minute,
		Store:   st,
		Journal: journal,
		Clock:   clk,
		Logger:  log.NewNoopLogger(),
	})
	require.NoError(t, err)

	clientCh := make(chan netio.Datagram, 16)
	upstreamCh := make(chan netio.Datagram, 16)

	r, err := New(Options{
		Store:    st,
		Resolver: res,
		Updater:  upd,
		Journal:  journal,
		Client:   clientCh,
		Upstream: upstreamCh,
		Sender:   replies,
		Clock:    clk,
		Logger:   log.NewNoopLogger(),
	})
	require.NoError(t, err)

	return &fixture{
		reactor:    r,
		store:      st,
		codec:      codec,
		clientCh:   clientCh,
		upstreamCh: upstreamCh,
		replies:    replies,
		journal:    journal,
		clock:      clk,
	}
}

func (f *fixture) staticA(t *testing.T, name, ip string) {
	t.Helper()
	data, err := rrdata.Encode(domain.RRTypeA, ip)
	require.NoError(t, err)
	rr, err := domain.NewStaticResourceRecord(name, domain.RRTypeA, domain.RRClassIN, 300, data, ip)
	require.NoError(t, err)
	f.store.ReplaceStatic([]domain.ResourceRecord{rr})
}

func (f *fixture) awaitReply(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-f.replies.out:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from reactor")
		return nil
	}
}

func TestReactor_ServesQueryDatagram(t *testing.T) {
	f := newFixture(t)
	f.staticA(t, "www.example.com", "192.0.2.1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.reactor.Run(ctx) }()

	q, err := domain.NewQuestion("www.example.com", domain.RRTypeA, domain.RRClassIN)
	require.NoError(t, err)
	data, err := f.codec.Encode(domain.NewQueryMessage(0x7777, q), testEpoch)
	require.NoError(t, err)

	f.clientCh <- netio.Datagram{Data: data, Addr: clientAddr}

	reply := f.awaitReply(t)
	msg, err := f.codec.Decode(reply, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x7777), msg.ID)
	require.Len(t, msg.Answers, 1)
	assert.Equal(t, "192.0.2.1", msg.Answers[0].Text)
}

func TestReactor_DispatchesUpdateDatagram(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.reactor.Run(ctx) }()

	wireReq := update.EncodeRequest("s3cret", domain.UpdateRequest{
		KeyID: "default", Op: domain.UpdateOpSet, Timestamp: testEpoch.Unix(),
		Host: "dyn.example.com", Type: domain.RRTypeA, Value: "192.0.2.50", TTL: 300,
	})
	f.clientCh <- netio.Datagram{Data: wireReq, Addr: clientAddr}

	reply := f.awaitReply(t)
	assert.Equal(t, "ok dyn.example.com 192.0.2.50", string(reply))

	// the registered record answers subsequent queries
	q, err := domain.NewQuestion("dyn.example.com", domain.RRTypeA, domain.RRClassIN)
	require.NoError(t, err)
	data, err := f.codec.Encode(domain.NewQueryMessage(1, q), testEpoch)
	require.NoError(t, err)
	f.clientCh <- netio.Datagram{Data: data, Addr: clientAddr}

	msg, err := f.codec.Decode(f.awaitReply(t), testEpoch)
	require.NoError(t, err)
	require.Len(t, msg.Answers, 1)
	assert.Equal(t, "192.0.2.50", msg.Answers[0].Text)
}

func TestReactor_MagicDispatchOnly(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.reactor.Run(ctx) }()

	// a DNS query whose qname begins with "ndns1" must not be mistaken for
	// an update datagram
	q, err := domain.NewQuestion("ndns1.example.com", domain.RRTypeA, domain.RRClassIN)
	require.NoError(t, err)
	data, err := f.codec.Encode(domain.NewQueryMessage(2, q), testEpoch)
	require.NoError(t, err)
	f.clientCh <- netio.Datagram{Data: data, Addr: clientAddr}

	reply := f.awaitReply(t)
	msg, err := f.codec.Decode(reply, testEpoch)
	require.NoError(t, err, "reply must be a DNS message, not an update response")
	assert.Equal(t, domain.NXDOMAIN, msg.Flags.RCode)
}

func TestReactor_SweepsExpiredLeases(t *testing.T) {
	f := newFixture(t)

	// a lease that is already past due when the loop starts
	rr, err := domain.NewExpiringResourceRecord("stale.example.com", domain.RRTypeA, domain.RRClassIN, 1, nil, "192.0.2.9", testEpoch.Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertDynamic(rr, "owner"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.reactor.Run(ctx) }()

	select {
	case key := <-f.journal.deleted:
		assert.True(t, strings.HasPrefix(key, "stale.example.com|"))
	case <-time.After(2 * time.Second):
		t.Fatal("expired lease was not swept")
	}
	// swept from the store as well, not only the journal
	assert.Eventually(t, func() bool {
		done := make(chan int, 1)
		f.reactor.Do(func() { done <- f.store.DynamicCount() })
		return <-done == 0
	}, 2*time.Second, 50*time.Millisecond)
}

func TestReactor_ControlClosureRunsOnLoop(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.reactor.Run(ctx) }()

	done := make(chan struct{})
	f.reactor.Do(func() {
		f.staticA(t, "reloaded.example.com", "192.0.2.123")
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("control closure did not run")
	}

	q, err := domain.NewQuestion("reloaded.example.com", domain.RRTypeA, domain.RRClassIN)
	require.NoError(t, err)
	data, err := f.codec.Encode(domain.NewQueryMessage(3, q), testEpoch)
	require.NoError(t, err)
	f.clientCh <- netio.Datagram{Data: data, Addr: clientAddr}

	msg, err := f.codec.Decode(f.awaitReply(t), testEpoch)
	require.NoError(t, err)
	require.Len(t, msg.Answers, 1)
	assert.Equal(t, "192.0.2.123", msg.Answers[0].Text)
}

func TestReactor_ShutdownOnContextCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.reactor.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not stop on cancel")
	}
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := New(Options{Resolver: f.reactor.resolver, Client: f.clientCh, Sender: f.replies})
	assert.Error(t, err, "missing store")

	_, err = New(Options{Store: f.store, Client: f.clientCh, Sender: f.replies})
	assert.Error(t, err, "missing resolver")

	_, err = New(Options{Store: f.store, Resolver: f.reactor.resolver, Sender: f.replies})
	assert.Error(t, err, "missing client channel")

	_, err = New(Options{Store: f.store, Resolver: f.reactor.resolver, Client: f.clientCh})
	assert.Error(t, err, "missing sender")
}
