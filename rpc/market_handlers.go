package rpc

import (
	"fmt"
	"net/http"

	marketerrors "dropmarket/core/errors"
	"dropmarket/native/assets"
)

func (s *Server) handleAdmin(w http.ResponseWriter, _ *http.Request) {
	admin := s.operator.Admin()
	writeJSON(w, http.StatusOK, adminResult{
		Owner:            admin.Owner,
		Treasury:         admin.Treasury,
		FeeBps:           admin.FeeBps,
		HeartbeatSeconds: uint64(admin.Heartbeat.Seconds()),
	})
}

func (s *Server) handleStateRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResult{Root: s.operator.StateRoot()})
}

// adminUpdate decodes body, applies fn and answers with the new admin state.
func (s *Server) adminUpdate(w http.ResponseWriter, r *http.Request, body any, fn func() error) {
	if err := decodeBody(r, body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := fn(); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleAdmin(w, r)
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body feeBody
	s.adminUpdate(w, r, &body, func() error { return s.operator.SetFee(caller, body.FeeBps) })
}

func (s *Server) handleSetHeartbeat(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body heartbeatBody
	s.adminUpdate(w, r, &body, func() error { return s.operator.SetHeartBeat(caller, body.Seconds) })
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body treasuryBody
	s.adminUpdate(w, r, &body, func() error { return s.operator.SetTreasury(caller, body.Treasury) })
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body ownerBody
	s.adminUpdate(w, r, &body, func() error { return s.operator.TransferOwnership(caller, body.Owner) })
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body fundBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.operator.Fund(caller, body.Asset, body.Holder, body.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.operator.Balance(body.Asset, body.Holder)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResult{Holder: body.Holder, Asset: body.Asset, Balance: balance})
}

func (s *Server) handlePublishRound(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body roundBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Answer == nil || body.Answer.Sign() <= 0 {
		s.fail(w, r, fmt.Errorf("%w: answer", marketerrors.ErrInvalidAmount))
		return
	}
	id, err := s.operator.PublishRound(caller, body.Answer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResult{ID: id})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := addressParam(r, "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := assetParam(r, "asset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.operator.Balance(asset, holder)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResult{Holder: holder, Asset: asset, Balance: balance})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	list, err := s.operator.Assets()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*assets.Asset{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body assetBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := s.operator.AddERC20Contract(r.Context(), caller, body.Address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	token, err := addressParam(r, "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.operator.RemoveERC20Contract(caller, token); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
