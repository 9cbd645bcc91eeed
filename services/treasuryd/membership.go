package treasuryd

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"revledger/native/fixedpoint"
	"revledger/native/splitter"
	"revledger/native/treasury"
)

// Membership routes carry the ownership notifications that change who accrues
// inside a manager: token mints and transfers, share tables, stake transfers,
// pool owners and creator rotation.

type mintRequest struct {
	Caller  string `json:"caller"`
	TokenID string `json:"tokenId"`
	To      string `json:"to"`
	Weight  string `json:"weight"`
}

type tokenTransferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type sharesRequest struct {
	Caller     string           `json:"caller"`
	Recipients []allocationView `json:"recipients"`
}

type stakeTransferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type poolRequest struct {
	Caller string `json:"caller"`
	Pool   string `json:"pool"`
	Owner  string `json:"owner"`
}

type creatorRequest struct {
	Caller  string `json:"caller"`
	Creator string `json:"creator"`
}

func (s *Server) ownerManager(w http.ResponseWriter, r *http.Request) (*treasury.OwnerManager, bool) {
	manager, ok := s.manager(w, r)
	if !ok {
		return nil, false
	}
	owner, ok := manager.(*treasury.OwnerManager)
	if !ok {
		writeError(w, badRequest(fmt.Errorf("manager %s is not an owner manager", manager.ID())))
	}
	return owner, ok
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	m, ok := s.ownerManager(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if !decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	tokenID, err := parseTokenID(req.TokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	var weight *uint256.Int
	if req.Weight != "" {
		if weight, err = parseAmount(req.Weight); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := m.Mint(caller, tokenID, to, weight); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"tokenId": tokenID.Dec(), "owner": to.Hex()})
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request) {
	m, ok := s.ownerManager(w, r)
	if !ok {
		return
	}
	tokenID, err := parseTokenID(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req tokenTransferRequest
	if !decode(w, r, &req) {
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := m.OnTransfer(tokenID, from, to); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tokenId": tokenID.Dec(), "owner": to.Hex()})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	m, ok := s.ownerManager(w, r)
	if !ok {
		return
	}
	tokenID, err := parseTokenID(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req callerRequest
	if !decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	paid, err := m.Burn(r.Context(), caller, tokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimView{Amount: paid.Dec()})
}

func (s *Server) handleUpdateShares(w http.ResponseWriter, r *http.Request) {
	manager, ok := s.manager(w, r)
	if !ok {
		return
	}
	m, ok := manager.(*treasury.RevenueManager)
	if !ok {
		writeError(w, badRequest(fmt.Errorf("manager %s is not a revenue manager", manager.ID())))
		return
	}
	var req sharesRequest
	if !decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	rows := make([]splitter.Allocation, 0, len(req.Recipients))
	for _, row := range req.Recipients {
		recipient, err := parseAddress(row.Recipient)
		if err != nil {
			writeError(w, err)
			return
		}
		rows = append(rows, splitter.Allocation{Recipient: recipient, Percent: row.Percent})
	}
	if err := m.UpdateShares(caller, rows); err != nil {
		writeError(w, err)
		return
	}
	out := make([]allocationView, 0, len(rows))
	for _, row := range m.Recipients() {
		out = append(out, allocationView{Recipient: row.Recipient.Hex(), Percent: row.Percent})
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipients": out})
}

func (s *Server) handleStakeTransfer(w http.ResponseWriter, r *http.Request) {
	manager, ok := s.manager(w, r)
	if !ok {
		return
	}
	m, ok := manager.(*treasury.StakingManager)
	if !ok {
		writeError(w, badRequest(fmt.Errorf("manager %s is not a staking manager", manager.ID())))
		return
	}
	var req stakeTransferRequest
	if !decode(w, r, &req) {
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := m.TransferStake(from, to); err != nil {
		writeError(w, err)
		return
	}
	stake, err := m.StakeOf(to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"staker": to.Hex(), "stake": stake.Dec()})
}

func (s *Server) handleSetCreator(w http.ResponseWriter, r *http.Request) {
	manager, ok := s.manager(w, r)
	if !ok {
		return
	}
	m, ok := manager.(*treasury.StakingManager)
	if !ok {
		writeError(w, badRequest(fmt.Errorf("manager %s is not a staking manager", manager.ID())))
		return
	}
	var req creatorRequest
	if !decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	creator, err := parseAddress(req.Creator)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := m.SetCreator(caller, creator); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"creator": m.Creator().Hex()})
}

func (s *Server) positionManager(w http.ResponseWriter, r *http.Request) (*treasury.PositionManager, bool) {
	manager, ok := s.manager(w, r)
	if !ok {
		return nil, false
	}
	m, ok := manager.(*treasury.PositionManager)
	if !ok {
		writeError(w, badRequest(fmt.Errorf("manager %s is not a position manager", manager.ID())))
	}
	return m, ok
}

func (s *Server) handleRegisterPool(w http.ResponseWriter, r *http.Request) {
	m, ok := s.positionManager(w, r)
	if !ok {
		return
	}
	var req poolRequest
	if !decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	pool := parsePoolID(req.Pool)
	if err := m.RegisterPool(r.Context(), caller, pool, owner); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"pool": pool.Hex(), "owner": owner.Hex()})
}

func (s *Server) handleReassignPool(w http.ResponseWriter, r *http.Request) {
	m, ok := s.positionManager(w, r)
	if !ok {
		return
	}
	var req poolRequest
	if !decode(w, r, &req) {
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	pool := parsePoolID(chi.URLParam(r, "pool"))
	if err := m.ReassignPool(r.Context(), caller, pool, owner); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pool": pool.Hex(), "owner": owner.Hex()})
}

func parseTokenID(raw string) (*uint256.Int, error) {
	id, err := fixedpoint.ParseAmount(raw)
	if err != nil {
		return nil, badRequest(fmt.Errorf("token id %q: %w", raw, err))
	}
	return id, nil
}
