// Package resolver answers DNS queries from local records and forwards
// everything else upstream. Answers are tried in order: dynamic and static
// records, the upstream answer cache, then a forwarded query tracked in the
// pending table. All methods are called from the event loop goroutine.
package resolver

import (
	"errors"
	"net"
	"time"

	"github.com/nanodns/nanodns/internal/dns/common/log"
	"github.com/nanodns/nanodns/internal/dns/common/utils"
	"github.com/nanodns/nanodns/internal/dns/domain"
	"github.com/nanodns/nanodns/internal/dns/gateways/wire"
)

const defaultAliasDepth = 8

type Resolver struct {
	store         RecordSource
	cache         Cache
	codec         wire.Codec
	client        PacketSender
	upstream      PacketSender
	servers       []net.Addr
	timeout       time.Duration
	retries       int // re-sends after the first attempt
	maxCacheTTL   uint32
	maxAliasDepth int
	pending       *pendingTable
	logger        log.Logger
}

type Options struct {
	Store           RecordSource
	Cache           Cache // may be nil when forwarding is disabled
	Codec           wire.Codec
	ClientSender    PacketSender
	UpstreamSender  PacketSender // required when Servers is non-empty
	Servers         []net.Addr
	Timeout         time.Duration
	Retries         int
	MaxCacheTTL     uint32
	MaxAliasDepth   int
	PendingCapacity int
	Logger          log.Logger
}

func NewResolver(opts Options) (*Resolver, error) {
	if opts.Store == nil {
		return nil, errors.New("resolver requires a record source")
	}
	if opts.Codec == nil {
		return nil, errors.New("resolver requires a codec")
	}
	if opts.ClientSender == nil {
		return nil, errors.New("resolver requires a client sender")
	}
	if len(opts.Servers) > 0 && opts.UpstreamSender == nil {
		return nil, errors.New("resolver requires an upstream sender when servers are configured")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAliasDepth <= 0 {
		opts.MaxAliasDepth = defaultAliasDepth
	}
	if opts.PendingCapacity <= 0 {
		opts.PendingCapacity = 4096
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Resolver{
		store:         opts.Store,
		cache:         opts.Cache,
		codec:         opts.Codec,
		client:        opts.ClientSender,
		upstream:      opts.UpstreamSender,
		servers:       opts.Servers,
		timeout:       opts.Timeout,
		retries:       opts.Retries,
		maxCacheTTL:   opts.MaxCacheTTL,
		maxAliasDepth: opts.MaxAliasDepth,
		pending:       newPendingTable(opts.PendingCapacity),
		logger:        opts.Logger,
	}, nil
}

// HandleQuery processes one client datagram.
func (r *Resolver) HandleQuery(data []byte, clientAddr net.Addr, now time.Time) {
	msg, err := r.codec.Decode(data, now)
	if err != nil {
		r.logger.Debug(map[string]any{"client": clientAddr.String(), "error": err.Error()}, "query_decode_failed")
		r.replyFormatError(data, clientAddr, now)
		return
	}
	if msg.Flags.Response {
		r.logger.Debug(map[string]any{"client": clientAddr.String()}, "drop_response_on_query_socket")
		return
	}
	if len(msg.Questions) == 0 {
		r.reply(domain.NewResponseMessage(msg, domain.FORMERR, nil), clientAddr, now)
		return
	}

	q := msg.Questions[0]
	r.logger.Debug(map[string]any{
		"client": clientAddr.String(),
		"qname":  q.Name,
		"qtype":  q.Type.String(),
	}, "query")

	if answers := r.lookupLocal(q, now); len(answers) > 0 {
		r.reply(domain.NewResponseMessage(msg, domain.NOERROR, answers), clientAddr, now)
		return
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(q.CacheKey(), now); ok {
			resp := domain.NewResponseMessage(msg, domain.NOERROR, cached)
			resp.Flags.Authoritative = false
			r.reply(resp, clientAddr, now)
			return
		}
	}

	if len(r.servers) == 0 {
		r.reply(domain.NewResponseMessage(msg, domain.NXDOMAIN, nil), clientAddr, now)
		return
	}

	r.forwardQuery(msg, q, clientAddr, now)
}

// lookupLocal answers from the store, following local CNAME chains up to
// maxAliasDepth hops. A chain that leaves local data is returned as far as
// it goes; clients resolve the tail themselves.
func (r *Resolver) lookupLocal(q domain.Question, now time.Time) []domain.ResourceRecord {
	if records, ok := r.store.Lookup(q, now); ok {
		return records
	}
	if q.Type == domain.RRTypeCNAME || q.Type == domain.RRTypeANY {
		return nil
	}

	var chain []domain.ResourceRecord
	name := q.Name
	visited := map[string]bool{utils.CanonicalDNSName(name): true}

	for depth := 0; depth < r.maxAliasDepth; depth++ {
		cq, err := domain.NewQuestion(name, domain.RRTypeCNAME, q.Class)
		if err != nil {
			break
		}
		cnames, ok := r.store.Lookup(cq, now)
		if !ok || len(cnames) == 0 {
			break
		}
		cn := cnames[0]
		chain = append(chain, cn)

		target := utils.CanonicalDNSName(cn.Text)
		if target == "" || visited[target] {
			r.logger.Warn(map[string]any{"qname": q.Name, "target": target}, "alias_loop")
			break
		}
		visited[target] = true

		tq, err := domain.NewQuestion(target, q.Type, q.Class)
		if err != nil {
			break
		}
		if records, ok := r.store.Lookup(tq, now); ok {
			return append(chain, records...)
		}
		name = target
	}
	return chain
}

// forwardQuery registers a pending entry and sends the question upstream
// under a locally generated transaction id.
func (r *Resolver) forwardQuery(msg domain.Message, q domain.Question, clientAddr net.Addr, now time.Time) {
	p := &pendingQuery{
		clientAddr: clientAddr,
		clientID:   msg.ID,
		question:   q,
		request:    msg,
	}
	if !r.pending.allocate(p) {
		r.logger.Warn(map[string]any{"pending": r.pending.len()}, "pending_table_full")
		r.reply(domain.NewResponseMessage(msg, domain.REFUSED, nil), clientAddr, now)
		return
	}
	r.sendUpstream(p, now)
}

// sendUpstream transmits (or re-transmits) the pending query to its current
// server and arms its deadline.
func (r *Resolver) sendUpstream(p *pendingQuery, now time.Time) {
	query := domain.NewQueryMessage(p.upstreamID, p.question)
	data, err := r.codec.Encode(query, now)
	if err != nil {
		r.logger.Error(map[string]any{"qname": p.question.Name, "error": err.Error()}, "upstream_encode_failed")
		r.pending.remove(p.upstreamID)
		r.reply(domain.NewResponseMessage(p.request, domain.SERVFAIL, nil), p.clientAddr, now)
		return
	}

	server := r.servers[p.serverIdx]
	p.attempt++
	p.deadline = now.Add(r.timeout)
	if err := r.upstream.Send(data, server); err != nil {
		r.logger.Warn(map[string]any{"server": server.String(), "error": err.Error()}, "upstream_send_failed")
	}
	r.logger.Debug(map[string]any{
		"qname":   p.question.Name,
		"server":  server.String(),
		"id":      p.upstreamID,
		"attempt": p.attempt,
	}, "forwarded")
}

// HandleUpstreamAnswer processes one datagram from the upstream socket.
// Answers with no matching pending query, or arriving from an address the
// query was not sent to, are dropped without a reply.
func (r *Resolver) HandleUpstreamAnswer(data []byte, from net.Addr, now time.Time) {
	msg, err := r.codec.Decode(data, now)
	if err != nil {
		r.logger.Debug(map[string]any{"from": from.String(), "error": err.Error()}, "upstream_decode_failed")
		return
	}
	if !msg.Flags.Response {
		r.logger.Debug(map[string]any{"from": from.String()}, "drop_query_on_upstream_socket")
		return
	}

	p, ok := r.pending.match(msg.ID, from, r.servers)
	if !ok {
		r.logger.Debug(map[string]any{"from": from.String(), "id": msg.ID}, "drop_unmatched_answer")
		return
	}
	r.pending.remove(p.upstreamID)

	if r.cache != nil && msg.Flags.RCode == domain.NOERROR && len(msg.Answers) > 0 {
		r.cacheAnswers(msg.Answers, now)
	}

	resp := msg
	resp.ID = p.clientID
	resp.Flags.Authoritative = false
	resp.Flags.RecursionAvailable = true
	if len(p.request.Questions) > 0 {
		// echo the client's original question spelling
		resp.Questions = p.request.Questions
	}
	r.reply(resp, p.clientAddr, now)
}

// cacheAnswers stores upstream records grouped by cache key, with TTLs
// capped at the configured maximum.
func (r *Resolver) cacheAnswers(answers []domain.ResourceRecord, now time.Time) {
	groups := make(map[string][]domain.ResourceRecord)
	for _, rr := range answers {
		capped := rr
		if r.maxCacheTTL > 0 && rr.TTL(now) > r.maxCacheTTL {
			rebuilt, err := domain.NewExpiringResourceRecord(
				rr.Name, rr.Type, rr.Class, r.maxCacheTTL, rr.Data, rr.Text, now)
			if err != nil {
				continue
			}
			capped = rebuilt
		}
		groups[capped.CacheKey()] = append(groups[capped.CacheKey()], capped)
	}
	for _, group := range groups {
		if err := r.cache.Set(group); err != nil {
			r.logger.Debug(map[string]any{"error": err.Error()}, "cache_set_failed")
		}
	}
}

// SweepDeadlines handles pending queries whose deadline passed: re-sends to
// the next upstream while attempts remain, otherwise answers the client
// with a server failure.
func (r *Resolver) SweepDeadlines(now time.Time) {
	for _, p := range r.pending.expired(now) {
		if p.attempt < 1+r.retries {
			p.serverIdx = (p.serverIdx + 1) % len(r.servers)
			r.sendUpstream(p, now)
			continue
		}
		r.pending.remove(p.upstreamID)
		r.logger.Info(map[string]any{"qname": p.question.Name, "attempts": p.attempt}, "upstream_timeout")
		r.reply(domain.NewResponseMessage(p.request, domain.SERVFAIL, nil), p.clientAddr, now)
	}
}

// NextDeadline exposes the earliest pending deadline for the loop timer.
func (r *Resolver) NextDeadline() (time.Time, bool) {
	return r.pending.nextDeadline()
}

// PendingCount returns the number of in-flight forwarded queries.
func (r *Resolver) PendingCount() int {
	return r.pending.len()
}

// reply encodes and transmits a response to the client. Encode failures are
// logged and the datagram dropped; the client will retry.
func (r *Resolver) reply(msg domain.Message, addr net.Addr, now time.Time) {
	data, err := r.codec.Encode(msg, now)
	if err != nil {
		r.logger.Error(map[string]any{"client": addr.String(), "error": err.Error()}, "reply_encode_failed")
		return
	}
	if err := r.client.Send(data, addr); err != nil {
		r.logger.Warn(map[string]any{"client": addr.String(), "error": err.Error()}, "reply_send_failed")
	}
}

// replyFormatError answers an undecodable datagram with FORMERR when at
// least the header id is readable, and drops it otherwise.
func (r *Resolver) replyFormatError(data []byte, addr net.Addr, now time.Time) {
	if len(data) < 2 {
		return
	}
	id := uint16(data[0])<<8 | uint16(data[1])
	resp := domain.Message{
		ID:    id,
		Flags: domain.Flags{Response: true, RCode: domain.FORMERR},
	}
	r.reply(resp, addr, now)
}
