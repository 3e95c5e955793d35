package update

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nanodns/nanodns/internal/dns/common/clock"
	"github.com/nanodns/nanodns/internal/dns/common/log"
	"github.com/nanodns/nanodns/internal/dns/common/rrdata"
	"github.com/nanodns/nanodns/internal/dns/common/utils"
	"github.com/nanodns/nanodns/internal/dns/domain"
	"github.com/nanodns/nanodns/internal/dns/repos/store"
)

// sourceSentinel in an A-record value means "register the address the
// request came from", so clients behind NAT need not know their address.
const sourceSentinel = "0.0.0.0"

const defaultReplaySize = 1024

// Service authenticates and applies dynamic update requests.
type Service struct {
	keys       map[string]string // key id -> shared secret
	window     time.Duration
	defaultTTL uint32
	maxTTL     uint32
	store      RecordStore
	journal    LeaseJournal
	clock      clock.Clock
	logger     log.Logger
	replay     *lru.Cache[string, struct{}]
}

// Options configures a Service.
type Options struct {
	Keys       map[string]string
	Window     time.Duration // freshness window, applied both directions
	DefaultTTL uint32        // used when a set request carries ttl 0
	MaxTTL     uint32        // lease cap, 0 means uncapped
	Store      RecordStore
	Journal    LeaseJournal // may be nil
	Clock      clock.Clock
	Logger     log.Logger
	ReplaySize int
}

// NewService validates the options and builds a Service.
func NewService(opts Options) (*Service, error) {
	if len(opts.Keys) == 0 {
		return nil, errors.New("update service requires at least one key")
	}
	for id, secret := range opts.Keys {
		if id == "" || secret == "" {
			return nil, errors.New("update keys must have non-empty id and secret")
		}
	}
	if opts.Store == nil {
		return nil, errors.New("update service requires a record store")
	}
	if opts.Window <= 0 {
		return nil, errors.New("update freshness window must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.ReplaySize <= 0 {
		opts.ReplaySize = defaultReplaySize
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = 300
	}

	replay, err := lru.New[string, struct{}](opts.ReplaySize)
	if err != nil {
		return nil, fmt.Errorf("replay cache: %w", err)
	}
	return &Service{
		keys:       opts.Keys,
		window:     opts.Window,
		defaultTTL: opts.DefaultTTL,
		maxTTL:     opts.MaxTTL,
		store:      opts.Store,
		journal:    opts.Journal,
		clock:      opts.Clock,
		logger:     opts.Logger,
		replay:     replay,
	}, nil
}

// Handle processes one update datagram and returns the response datagram.
// A reply is always produced; failures never abort the caller's loop.
func (s *Service) Handle(data []byte, src net.Addr) []byte {
	req, err := ParseRequest(data, src)
	if err != nil {
		s.logger.Debug(map[string]any{"src": addrString(src), "error": err.Error()}, "update_reject_format")
		return EncodeResponse(domain.UpdateFormatError, "", "", "malformed request")
	}

	secret, known := s.keys[req.KeyID]
	now := s.clock.Now()

	// Freshness and digest failures share one answer so a probing client
	// learns nothing about which check tripped.
	if !known || !s.fresh(req.Timestamp, now) || !s.digestValid(secret, req) {
		s.logger.Info(map[string]any{"src": addrString(src), "keyid": req.KeyID, "host": req.Host}, "update_reject_auth")
		return EncodeResponse(domain.UpdateAuthError, "", "", domain.ErrAuth.Error())
	}

	if _, seen := s.replay.Get(req.Digest); seen {
		s.logger.Info(map[string]any{"src": addrString(src), "host": req.Host}, "update_reject_replay")
		return EncodeResponse(domain.UpdateRefused, "", "", "duplicate request")
	}

	owner := OwnerKey(secret, req.KeyID)
	host := utils.CanonicalDNSName(req.Host)
	if !utils.IsValidHostname(host) {
		return EncodeResponse(domain.UpdateFormatError, "", "", "invalid hostname")
	}

	var resp []byte
	switch req.Op {
	case domain.UpdateOpSet:
		resp = s.applySet(req, host, owner, now)
	case domain.UpdateOpDel:
		resp = s.applyDel(req, host, owner)
	default:
		resp = EncodeResponse(domain.UpdateFormatError, "", "", "unknown op")
	}
	return resp
}

func (s *Service) applySet(req domain.UpdateRequest, host, owner string, now time.Time) []byte {
	value := req.Value
	if req.Type == domain.RRTypeA && value == sourceSentinel {
		ip := sourceIP(req.ClientAddr)
		if ip == nil {
			return EncodeResponse(domain.UpdateFormatError, "", "", "source address unavailable")
		}
		value = ip.String()
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if s.maxTTL > 0 && ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	data, err := rrdata.Encode(req.Type, value)
	if err != nil {
		return EncodeResponse(domain.UpdateFormatError, "", "", "bad record value")
	}
	rr, err := domain.NewExpiringResourceRecord(host, req.Type, domain.RRClassIN, ttl, data, value, now)
	if err != nil {
		return EncodeResponse(domain.UpdateFormatError, "", "", "bad record")
	}

	if err := s.store.UpsertDynamic(rr, owner); err != nil {
		return s.storeError(err, host)
	}
	s.replay.Add(req.Digest, struct{}{})

	if s.journal != nil {
		exp, _ := rr.ExpiresAt()
		if err := s.journal.Put(store.Entry{Record: rr, Owner: owner, ExpiresAt: exp}); err != nil {
			s.logger.Error(map[string]any{"host": host, "error": err.Error()}, "lease_persist_failed")
		}
	}

	s.logger.Info(map[string]any{"host": host, "type": req.Type.String(), "value": value, "ttl": ttl}, "update_set")
	return EncodeResponse(domain.UpdateOK, host, value, "")
}

func (s *Service) applyDel(req domain.UpdateRequest, host, owner string) []byte {
	if err := s.store.DeleteDynamic(host, req.Type, domain.RRClassIN, owner); err != nil {
		return s.storeError(err, host)
	}
	s.replay.Add(req.Digest, struct{}{})

	if s.journal != nil {
		if err := s.journal.Delete(host, req.Type, domain.RRClassIN); err != nil {
			s.logger.Error(map[string]any{"host": host, "error": err.Error()}, "lease_persist_failed")
		}
	}

	s.logger.Info(map[string]any{"host": host, "type": req.Type.String()}, "update_del")
	return EncodeResponse(domain.UpdateOK, host, "-", "")
}

// storeError maps store failures onto response codes.
func (s *Service) storeError(err error, host string) []byte {
	switch {
	case errors.Is(err, domain.ErrStaticConflict):
		return EncodeResponse(domain.UpdateStaticConflict, "", "", "name is statically configured")
	case errors.Is(err, domain.ErrOwnership):
		return EncodeResponse(domain.UpdateOwnershipError, "", "", "owned by another key")
	case errors.Is(err, domain.ErrNotFound):
		return EncodeResponse(domain.UpdateNotFound, "", "", "no such entry")
	default:
		s.logger.Error(map[string]any{"host": host, "error": err.Error()}, "update_store_error")
		return EncodeResponse(domain.UpdateRefused, "", "", "internal error")
	}
}

func (s *Service) fresh(timestamp int64, now time.Time) bool {
	delta := now.Unix() - timestamp
	if delta < 0 {
		delta = -delta
	}
	return delta <= int64(s.window.Seconds())
}

func (s *Service) digestValid(secret string, req domain.UpdateRequest) bool {
	expected := ComputeDigest(secret, req)
	return hmac.Equal([]byte(expected), []byte(req.Digest))
}

// sourceIP extracts the IP of a client address.
func sourceIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		return nil
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
