package rpc

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"dropmarket/native/catalog"
)

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body mintBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	kind, err := catalog.ParseProductKind(body.Kind)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", catalog.ErrInvalidKind, err))
		return
	}
	tokenID, err := s.operator.Mint(caller, catalog.MintParams{
		URI:           body.URI,
		Price:         body.Price,
		CommissionBps: body.CommissionBps,
		Quantity:      body.Quantity,
		Owner:         caller,
		Kind:          kind,
		Issuer:        body.Issuer,
		Beneficiaries: body.Beneficiaries,
		Publishable:   body.Publishable,
		RoyaltyBps:    body.RoyaltyBps,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenIDResult{TokenID: tokenID})
}

func (s *Server) handleTokenID(w http.ResponseWriter, r *http.Request) {
	uri := strings.TrimSpace(r.URL.Query().Get("uri"))
	if uri == "" {
		s.fail(w, r, fmt.Errorf("%w: uri query parameter required", errBadRequest))
		return
	}
	tokenID, ok, err := s.operator.TokenID(uri)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, catalog.ErrProductNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tokenIDResult{TokenID: tokenID})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	tokenID, err := uintParam(r, "tokenId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	product, ok, err := s.operator.Product(tokenID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, catalog.ErrProductNotFound)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleIssuer(w http.ResponseWriter, r *http.Request) {
	tokenID, err := uintParam(r, "tokenId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	issuer, err := s.operator.Issuer(tokenID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issuerResult{Issuer: issuer})
}

func (s *Server) handleSetMetadataAfterPurchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	tokenID, err := uintParam(r, "tokenId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body listingBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.operator.SetMetadataAfterPurchase(caller, tokenID, body.Price, body.CommissionBps, body.Beneficiaries); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeListing(w, r, tokenID, caller.Hex())
}

func (s *Server) handleRemoveMetadata(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	tokenID, err := uintParam(r, "tokenId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.operator.RemoveMetadata(caller, tokenID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	tokenID, err := uintParam(r, "tokenId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeListing(w, r, tokenID, chi.URLParam(r, "owner"))
}

func (s *Server) writeListing(w http.ResponseWriter, r *http.Request, tokenID uint64, ownerHex string) {
	owner, err := parseAddress("owner", ownerHex)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	listing, ok, err := s.operator.Metadata(tokenID, owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, catalog.ErrListingNotFound)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleBeneficiaries(w http.ResponseWriter, r *http.Request) {
	tokenID, err := uintParam(r, "tokenId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	owner, err := addressParam(r, "owner")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.operator.Beneficiaries(tokenID, owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []catalog.Beneficiary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleBeneficiary(w http.ResponseWriter, r *http.Request) {
	tokenID, err := uintParam(r, "tokenId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	owner, err := addressParam(r, "owner")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		s.fail(w, r, fmt.Errorf("%w: index must be a non-negative integer", errBadRequest))
		return
	}
	beneficiary, err := s.operator.Beneficiary(tokenID, owner, index)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, beneficiary)
}

func (s *Server) handleUnitBalance(w http.ResponseWriter, r *http.Request) {
	tokenID, err := uintParam(r, "tokenId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	owner, err := addressParam(r, "owner")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	units, err := s.operator.UnitBalance(owner, tokenID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unitBalanceResult{Owner: owner, TokenID: tokenID, Units: units})
}

func (s *Server) handleTransferUnits(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	tokenID, err := uintParam(r, "tokenId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body transferBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.operator.TransferUnits(caller, body.To, tokenID, body.Quantity); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
