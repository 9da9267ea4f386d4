package rpc

import (
	"net/http"
)

func (s *Server) decodePurchase(w http.ResponseWriter, r *http.Request) (*purchaseBody, bool) {
	var body purchaseBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return &body, true
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	buyer, ok := s.caller(w, r)
	if !ok {
		return
	}
	body, ok := s.decodePurchase(w, r)
	if !ok {
		return
	}
	plan, err := s.operator.Quote(r.Context(), body.request(buyer))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	buyer, ok := s.caller(w, r)
	if !ok {
		return
	}
	body, ok := s.decodePurchase(w, r)
	if !ok {
		return
	}
	receipt, err := s.operator.Purchase(r.Context(), body.request(buyer))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	receipt, err := s.operator.Receipt(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
