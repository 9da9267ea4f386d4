package affiliate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"dropmarket/core/events"
	"dropmarket/core/types"
	"dropmarket/native/catalog"
)

const (
	EventTypeRequestPublished   = "affiliate.request.published"
	EventTypeRequestCancelled   = "affiliate.request.cancelled"
	EventTypeRequestApproved    = "affiliate.request.approved"
	EventTypeRequestDisapproved = "affiliate.request.disapproved"
)

var (
	ErrAlreadyRequested  = errors.New("affiliate: already requested")
	ErrRequestNotFound   = errors.New("affiliate: request not found")
	ErrAccessDenied      = errors.New("affiliate: access denied")
	ErrRequestIsAccepted = errors.New("affiliate: request is accepted")
	ErrNotPublishable    = errors.New("affiliate: listing is not publishable")
	ErrSelfRequest       = errors.New("affiliate: publisher and producer must differ")
	errNilState          = errors.New("affiliate: state not configured")
)

var (
	sequenceKey    = []byte("affiliate/request-seq")
	requestPrefix  = []byte("affiliate/request/")
	triplePrefix   = []byte("affiliate/triple/")
	incomingPrefix = []byte("affiliate/incoming/")
	outgoingPrefix = []byte("affiliate/outgoing/")
	acceptedPrefix = []byte("affiliate/accepted/")
)

// Request authorises a publisher to resell a producer's listing.
type Request struct {
	ID        uint64         `json:"id"`
	Publisher common.Address `json:"publisher"`
	Producer  common.Address `json:"producer"`
	TokenID   uint64         `json:"tokenId"`
	Accepted  bool           `json:"accepted"`
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	SetAdd(key, member []byte) (bool, error)
	SetRemove(key, member []byte) (bool, error)
	SetHas(key, member []byte) (bool, error)
	SetMembers(key []byte) ([][]byte, error)
	NextSequence(key []byte) (uint64, error)
}

type listingSource interface {
	Metadata(tokenID uint64, owner common.Address) (*catalog.Listing, bool, error)
}

// Ledger tracks affiliate requests and the per-principal index sets.
type Ledger struct {
	state    engineState
	listings listingSource
	emitter  events.Emitter
}

// NewLedger constructs an affiliate ledger.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state engineState) { l.state = state }

// SetListings configures the catalog consulted when publishing requests.
func (l *Ledger) SetListings(src listingSource) { l.listings = src }

// SetEmitter configures the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt *types.Event) {
	if l.emitter != nil {
		l.emitter.Emit(evt)
	}
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return nil
}

func idBytes(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func prefixed(prefix []byte, parts ...[]byte) []byte {
	out := append([]byte{}, prefix...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func requestKey(id uint64) []byte { return prefixed(requestPrefix, idBytes(id)) }

func tripleKey(producer, publisher common.Address, tokenID uint64) []byte {
	return prefixed(triplePrefix, producer.Bytes(), publisher.Bytes(), idBytes(tokenID))
}

func incomingKey(producer common.Address) []byte { return prefixed(incomingPrefix, producer.Bytes()) }

func outgoingKey(publisher common.Address) []byte { return prefixed(outgoingPrefix, publisher.Bytes()) }

func acceptedKey(publisher common.Address, tokenID uint64) []byte {
	return prefixed(acceptedPrefix, publisher.Bytes(), idBytes(tokenID))
}

// Request returns the request stored under id.
func (l *Ledger) Request(id uint64) (*Request, bool, error) {
	if err := l.ready(); err != nil {
		return nil, false, err
	}
	req := new(Request)
	ok, err := l.state.KVGet(requestKey(id), req)
	if err != nil || !ok {
		return nil, false, err
	}
	return req, true, nil
}

// PublishRequest records a request by publisher to resell the producer's
// listing of tokenID.
func (l *Ledger) PublishRequest(publisher, producer common.Address, tokenID uint64) (uint64, error) {
	if err := l.ready(); err != nil {
		return 0, err
	}
	if publisher == producer {
		return 0, ErrSelfRequest
	}
	if l.listings != nil {
		listing, ok, err := l.listings.Metadata(tokenID, producer)
		if err != nil {
			return 0, err
		}
		if !ok || !listing.Publishable {
			return 0, fmt.Errorf("%w: token %d by %s", ErrNotPublishable, tokenID, producer.Hex())
		}
	}
	triple := tripleKey(producer, publisher, tokenID)
	exists, err := l.state.KVGet(triple, nil)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrAlreadyRequested
	}
	id, err := l.state.NextSequence(sequenceKey)
	if err != nil {
		return 0, err
	}
	req := &Request{ID: id, Publisher: publisher, Producer: producer, TokenID: tokenID}
	if err := l.state.KVPut(requestKey(id), req); err != nil {
		return 0, err
	}
	if err := l.state.KVPut(triple, id); err != nil {
		return 0, err
	}
	if _, err := l.state.SetAdd(incomingKey(producer), idBytes(id)); err != nil {
		return 0, err
	}
	if _, err := l.state.SetAdd(outgoingKey(publisher), idBytes(id)); err != nil {
		return 0, err
	}
	l.emit(requestEvent(EventTypeRequestPublished, req))
	return id, nil
}

// CancelRequest withdraws a request that has not been accepted. Only its
// publisher may cancel it.
func (l *Ledger) CancelRequest(caller common.Address, id uint64) error {
	req, ok, err := l.Request(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRequestNotFound
	}
	if req.Publisher != caller {
		return ErrAccessDenied
	}
	if req.Accepted {
		return ErrRequestIsAccepted
	}
	if err := l.state.KVDelete(requestKey(id)); err != nil {
		return err
	}
	if err := l.state.KVDelete(tripleKey(req.Producer, req.Publisher, req.TokenID)); err != nil {
		return err
	}
	if _, err := l.state.SetRemove(incomingKey(req.Producer), idBytes(id)); err != nil {
		return err
	}
	if _, err := l.state.SetRemove(outgoingKey(req.Publisher), idBytes(id)); err != nil {
		return err
	}
	l.emit(requestEvent(EventTypeRequestCancelled, req))
	return nil
}

// ApproveRequest marks the request accepted. A caller other than the
// producer is answered with ErrRequestNotFound.
func (l *Ledger) ApproveRequest(caller common.Address, id uint64) error {
	req, ok, err := l.Request(id)
	if err != nil {
		return err
	}
	if !ok || req.Producer != caller {
		return ErrRequestNotFound
	}
	req.Accepted = true
	if err := l.state.KVPut(requestKey(id), req); err != nil {
		return err
	}
	if _, err := l.state.SetAdd(acceptedKey(req.Publisher, req.TokenID), idBytes(id)); err != nil {
		return err
	}
	l.emit(requestEvent(EventTypeRequestApproved, req))
	return nil
}

// Disapprove clears the accepted flag. Only the producer may call it.
func (l *Ledger) Disapprove(caller common.Address, id uint64) error {
	req, ok, err := l.Request(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRequestNotFound
	}
	if req.Producer != caller {
		return ErrAccessDenied
	}
	req.Accepted = false
	if err := l.state.KVPut(requestKey(id), req); err != nil {
		return err
	}
	if _, err := l.state.SetRemove(acceptedKey(req.Publisher, req.TokenID), idBytes(id)); err != nil {
		return err
	}
	l.emit(requestEvent(EventTypeRequestDisapproved, req))
	return nil
}

func (l *Ledger) ids(key []byte) ([]uint64, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	raw, err := l.state.SetMembers(key)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(raw))
	for _, b := range raw {
		if len(b) != 8 {
			return nil, fmt.Errorf("affiliate: malformed index entry")
		}
		out = append(out, binary.BigEndian.Uint64(b))
	}
	return out, nil
}

func (l *Ledger) member(key []byte, id uint64) (bool, error) {
	if err := l.ready(); err != nil {
		return false, err
	}
	return l.state.SetHas(key, idBytes(id))
}

// IncomingRequests lists the request ids addressed to producer.
func (l *Ledger) IncomingRequests(producer common.Address) ([]uint64, error) {
	return l.ids(incomingKey(producer))
}

// OutgoingRequests lists the request ids published by publisher.
func (l *Ledger) OutgoingRequests(publisher common.Address) ([]uint64, error) {
	return l.ids(outgoingKey(publisher))
}

// IsProducerRequested reports whether id is in the producer's incoming set.
func (l *Ledger) IsProducerRequested(producer common.Address, id uint64) (bool, error) {
	return l.member(incomingKey(producer), id)
}

// IsPublisherRequested reports whether id is in the publisher's outgoing set.
func (l *Ledger) IsPublisherRequested(publisher common.Address, id uint64) (bool, error) {
	return l.member(outgoingKey(publisher), id)
}

// AcceptedRequests returns the accepted requests published by publisher for
// tokenID. Only the accepted index of that pair is read.
func (l *Ledger) AcceptedRequests(publisher common.Address, tokenID uint64) ([]*Request, error) {
	ids, err := l.ids(acceptedKey(publisher, tokenID))
	if err != nil {
		return nil, err
	}
	out := make([]*Request, 0, len(ids))
	for _, id := range ids {
		req, ok, err := l.Request(id)
		if err != nil {
			return nil, err
		}
		if !ok || !req.Accepted {
			return nil, fmt.Errorf("affiliate: accepted index references request %d", id)
		}
		out = append(out, req)
	}
	return out, nil
}

func requestEvent(eventType string, req *Request) *types.Event {
	return types.NewEvent(eventType,
		"id", strconv.FormatUint(req.ID, 10),
		"publisher", req.Publisher.Hex(),
		"producer", req.Producer.Hex(),
		"tokenId", strconv.FormatUint(req.TokenID, 10),
		"accepted", strconv.FormatBool(req.Accepted),
	)
}
