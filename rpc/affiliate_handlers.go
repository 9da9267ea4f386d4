package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"dropmarket/native/affiliate"
	"dropmarket/native/coupon"
)

func (s *Server) handleAddCoupon(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body couponBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.operator.AddCoupon(caller, body.SecretHash, body.IsPercentage, body.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeCoupon(w, r, body.SecretHash, http.StatusCreated)
}

func (s *Server) handleCoupon(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r, "hash")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeCoupon(w, r, hash, http.StatusOK)
}

func (s *Server) writeCoupon(w http.ResponseWriter, r *http.Request, hash common.Hash, status int) {
	record, ok, err := s.operator.Coupon(hash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, coupon.ErrCouponNotFound)
		return
	}
	writeJSON(w, status, record)
}

func (s *Server) handleRemoveCoupon(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	hash, err := hashParam(r, "hash")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.operator.RemoveCoupon(caller, hash); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublishRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body requestBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.operator.PublishRequest(caller, body.Producer, body.TokenID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResult{ID: id})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	request, ok, err := s.operator.Request(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, affiliate.ErrRequestNotFound)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// requestAction runs fn against the request id in the path.
func (s *Server) requestAction(w http.ResponseWriter, r *http.Request, fn func(caller common.Address, id uint64) error) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := fn(caller, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	s.requestAction(w, r, s.operator.CancelRequest)
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	s.requestAction(w, r, s.operator.ApproveRequest)
}

func (s *Server) handleDisapprove(w http.ResponseWriter, r *http.Request) {
	s.requestAction(w, r, s.operator.Disapprove)
}

func (s *Server) handleIncomingRequests(w http.ResponseWriter, r *http.Request) {
	s.writeRequestIDs(w, r, s.operator.IncomingRequests)
}

func (s *Server) handleOutgoingRequests(w http.ResponseWriter, r *http.Request) {
	s.writeRequestIDs(w, r, s.operator.OutgoingRequests)
}

func (s *Server) writeRequestIDs(w http.ResponseWriter, r *http.Request, list func(common.Address) ([]uint64, error)) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := list(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, idsResult{IDs: ids})
}

func (s *Server) handleIsProducerRequested(w http.ResponseWriter, r *http.Request) {
	s.writeMembership(w, r, s.operator.IsProducerRequested)
}

func (s *Server) handleIsPublisherRequested(w http.ResponseWriter, r *http.Request) {
	s.writeMembership(w, r, s.operator.IsPublisherRequested)
}

func (s *Server) writeMembership(w http.ResponseWriter, r *http.Request, check func(common.Address, uint64) (bool, error)) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	requested, err := check(addr, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResult{Requested: requested})
}
