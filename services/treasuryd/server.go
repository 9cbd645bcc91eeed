package treasuryd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"revledger/gateway/middleware"
	"revledger/integrations/exports"
	"revledger/native/distribution"
	"revledger/native/escrow"
	"revledger/native/fixedpoint"
	"revledger/native/splitter"
	"revledger/native/treasury"
	"revledger/services/payoutd"
)

const (
	scopeWrite = "treasury:write"
	scopeAdmin = "treasury:admin"
)

// Config captures the collaborators of the HTTP API.
type Config struct {
	Factory   *treasury.Factory
	Escrow    *escrow.MemEscrow
	Processor *payoutd.Processor
	Auth      *middleware.Authenticator
	Limiter   *middleware.RateLimiter
	Observe   *middleware.Observability
	Logger    *slog.Logger
}

// Server exposes managers over HTTP.
type Server struct {
	factory   *treasury.Factory
	escrow    *escrow.MemEscrow
	processor *payoutd.Processor
	auth      *middleware.Authenticator
	limiter   *middleware.RateLimiter
	observe   *middleware.Observability
	logger    *slog.Logger
	router    http.Handler
}

// New constructs the server and its router.
func New(cfg Config) *Server {
	srv := &Server{
		factory:   cfg.Factory,
		escrow:    cfg.Escrow,
		processor: cfg.Processor,
		auth:      cfg.Auth,
		limiter:   cfg.Limiter,
		observe:   cfg.Observe,
		logger:    cfg.Logger,
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.auth == nil {
		srv.auth = middleware.NewAuthenticator(middleware.AuthConfig{}, srv.logger)
	}
	if srv.limiter == nil {
		srv.limiter = middleware.NewRateLimiter(nil, srv.logger)
	}
	if srv.observe == nil {
		srv.observe = middleware.NewObservability("treasuryd", false, srv.logger)
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.With(s.observe.Middleware("healthz")).Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware("api"))
		api.With(s.observe.Middleware("managers.list")).Get("/managers", s.handleListManagers)
		api.With(s.observe.Middleware("managers.get")).Get("/managers/{id}", s.handleGetManager)
		api.With(s.observe.Middleware("holders.get")).Get("/managers/{id}/holders/{holder}", s.handleGetHolder)

		api.Group(func(write chi.Router) {
			write.Use(s.auth.Middleware(scopeWrite))
			write.With(s.observe.Middleware("managers.inflows")).Post("/managers/{id}/inflows", s.handleInflow)
			write.With(s.observe.Middleware("managers.sync")).Post("/managers/{id}/sync", s.handleSync)
			write.With(s.observe.Middleware("managers.claims")).Post("/managers/{id}/claims", s.handleClaim)
			write.With(s.observe.Middleware("managers.stakes")).Post("/managers/{id}/stakes", s.handleStake)
			write.With(s.observe.Middleware("managers.unstakes")).Post("/managers/{id}/unstakes", s.handleUnstake)
			write.With(s.observe.Middleware("managers.transfers")).Post("/managers/{id}/transfers", s.handleStakeTransfer)
			write.With(s.observe.Middleware("managers.creator")).Post("/managers/{id}/creator", s.handleSetCreator)
			write.With(s.observe.Middleware("managers.shares")).Post("/managers/{id}/shares", s.handleUpdateShares)
			write.With(s.observe.Middleware("managers.tokens.mint")).Post("/managers/{id}/tokens", s.handleMint)
			write.With(s.observe.Middleware("managers.tokens.transfer")).Post("/managers/{id}/tokens/{token}/transfer", s.handleTokenTransfer)
			write.With(s.observe.Middleware("managers.tokens.burn")).Post("/managers/{id}/tokens/{token}/burn", s.handleBurn)
			write.With(s.observe.Middleware("managers.pools")).Post("/managers/{id}/pools", s.handleRegisterPool)
			write.With(s.observe.Middleware("managers.pools.owner")).Post("/managers/{id}/pools/{pool}/owner", s.handleReassignPool)
			write.With(s.observe.Middleware("escrow.allocations")).Post("/escrow/pools/{pool}/allocations", s.handleAllocate)
		})

		if s.processor != nil {
			api.Group(func(admin chi.Router) {
				admin.Use(s.auth.Middleware(scopeAdmin))
				admin.With(s.observe.Middleware("payouts.export")).Get("/payouts/export", s.handleExport)
				admin.Mount("/payouts", payoutd.AdminHandler(s.processor))
			})
		}
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "managers": len(s.factory.List())})
}

func (s *Server) handleListManagers(w http.ResponseWriter, _ *http.Request) {
	managers := s.factory.List()
	out := make([]treasury.Summary, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

type managerView struct {
	treasury.Summary
	Recipients []allocationView   `json:"recipients,omitempty"`
	Creator    string             `json:"creator,omitempty"`
	Pools      map[string]string  `json:"pools,omitempty"`
	Withdrawn  string             `json:"withdrawn,omitempty"`
	Fixed      []fixedAccountView `json:"fixed,omitempty"`
}

type allocationView struct {
	Recipient string `json:"recipient"`
	Percent   uint64 `json:"percent"`
}

type fixedAccountView struct {
	Recipient string `json:"recipient"`
	Owed      string `json:"owed"`
	Claimed   string `json:"claimed"`
}

func (s *Server) handleGetManager(w http.ResponseWriter, r *http.Request) {
	manager, ok := s.manager(w, r)
	if !ok {
		return
	}
	view := managerView{Summary: manager.Summary()}
	switch m := manager.(type) {
	case *treasury.RevenueManager:
		for _, row := range m.Recipients() {
			view.Recipients = append(view.Recipients, allocationView{Recipient: row.Recipient.Hex(), Percent: row.Percent})
		}
	case *treasury.StakingManager:
		view.Creator = m.Creator().Hex()
	case *treasury.PositionManager:
		view.Pools = make(map[string]string)
		for pool, owner := range m.Pools() {
			view.Pools[pool.Hex()] = owner.Hex()
		}
		view.Withdrawn = m.Withdrawn().Dec()
	}
	if source := manager.Source(); source != nil {
		for _, account := range source.Snapshot().Fixed {
			view.Fixed = append(view.Fixed, fixedAccountView{
				Recipient: account.Recipient.Hex(),
				Owed:      account.Owed.Dec(),
				Claimed:   account.Claimed.Dec(),
			})
		}
	}
	writeJSON(w, http.StatusOK, view)
}

type holderView struct {
	Holder      string `json:"holder"`
	Weight      string `json:"weight"`
	Carried     string `json:"carried"`
	Claimable   string `json:"claimable"`
	Claimed     string `json:"claimed"`
	LockedUntil int64  `json:"lockedUntil,omitempty"`
}

func (s *Server) handleGetHolder(w http.ResponseWriter, r *http.Request) {
	manager, ok := s.manager(w, r)
	if !ok {
		return
	}
	source := manager.Source()
	if source == nil {
		writeError(w, distribution.ErrNotInitialized)
		return
	}
	id, err := distribution.ParseHolderID(chi.URLParam(r, "holder"))
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	holder, found := source.Holder(id)
	if !found {
		writeError(w, fmt.Errorf("%w: %s", distribution.ErrUnknownHolder, id))
		return
	}
	claimable, err := source.Claimable(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holderView{
		Holder:      string(holder.ID),
		Weight:      holder.Weight.Dec(),
		Carried:     holder.Carried.Dec(),
		Claimable:   claimable.Dec(),
		Claimed:     holder.Claimed.Dec(),
		LockedUntil: holder.LockedUntil,
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type cutView struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type breakdownView struct {
	Gross string    `json:"gross"`
	Cuts  []cutView `json:"cuts"`
	Pool  string    `json:"pool"`
}

func (s *Server) handleInflow(w http.ResponseWriter, r *http.Request) {
	manager, ok := s.manager(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	breakdown, err := manager.Receive(r.Context(), amount)
	if err != nil {
		writeError(w, err)
		return
	}
	view := breakdownView{Gross: breakdown.Gross.Dec(), Cuts: []cutView{}, Pool: breakdown.Pool.Dec()}
	for _, cut := range breakdown.Cuts {
		view.Cuts = append(view.Cuts, cutView{
			Kind:      cut.Share.Kind.String(),
			Recipient: cut.Share.Recipient.Hex(),
			Amount:    fixedpoint.Format(cut.Amount),
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	manager, ok := s.manager(w, r)
	if !ok {
		return
	}
	amount, err := manager.Sync(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.Dec()})
}

// claimRequest selects what to claim. Fixed claims a fixed-cut balance; All
// claims every recipient of a revenue manager; TokenIDs claims owner-manager
// tokens on behalf of Caller; otherwise Holder claims its own balance.
type claimRequest struct {
	Holder   string   `json:"holder"`
	Caller   string   `json:"caller"`
	Fixed    string   `json:"fixed"`
	All      bool     `json:"all"`
	TokenIDs []string `json:"tokenIds"`
}

type legView struct {
	Holder    string `json:"holder"`
	Amount    string `json:"amount"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

type claimView struct {
	Amount string    `json:"amount"`
	Legs   []legView `json:"legs,omitempty"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	manager, ok := s.manager(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if strings.TrimSpace(req.Fixed) != "" {
		recipient, err := parseAddress(req.Fixed)
		if err != nil {
			writeError(w, err)
			return
		}
		amount, err := manager.ClaimFixed(ctx, recipient)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, claimView{Amount: amount.Dec()})
		return
	}

	var (
		amount *uint256.Int
		legs   []distribution.LegResult
		err    error
	)
	switch m := manager.(type) {
	case *treasury.RevenueManager:
		if req.All {
			legs, err = m.ClaimAll(ctx)
			break
		}
		var holder common.Address
		if holder, err = parseAddress(req.Holder); err == nil {
			amount, err = m.Claim(ctx, holder)
		}
	case *treasury.StakingManager:
		var staker common.Address
		if staker, err = parseAddress(req.Holder); err == nil {
			amount, err = m.Claim(ctx, staker)
		}
	case *treasury.OwnerManager:
		var caller common.Address
		if caller, err = parseAddress(req.Caller); err != nil {
			break
		}
		ids := make([]*uint256.Int, 0, len(req.TokenIDs))
		for _, raw := range req.TokenIDs {
			var id *uint256.Int
			if id, err = parseTokenID(raw); err != nil {
				break
			}
			ids = append(ids, id)
		}
		if err == nil {
			legs, err = m.ClaimTokens(ctx, caller, ids)
		}
	case *treasury.PositionManager:
		var owner common.Address
		if owner, err = parseAddress(req.Holder); err == nil {
			amount, err = m.ClaimPosition(ctx, owner)
		}
	default:
		err = badRequest(fmt.Errorf("claims not supported by %s managers", manager.Kind()))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if legs != nil {
		view := claimView{Amount: distribution.Total(legs).Dec()}
		for _, leg := range legs {
			lv := legView{Holder: string(leg.Holder), Duplicate: leg.Duplicate, Amount: "0"}
			if leg.Amount != nil {
				lv.Amount = leg.Amount.Dec()
			}
			if leg.Err != nil {
				lv.Error = leg.Err.Error()
			}
			view.Legs = append(view.Legs, lv)
		}
		writeJSON(w, http.StatusOK, view)
		return
	}
	writeJSON(w, http.StatusOK, claimView{Amount: amount.Dec()})
}

type stakeRequest struct {
	Staker string `json:"staker"`
	Amount string `json:"amount"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.stakeChange(w, r, func(m *treasury.StakingManager, staker common.Address, amount *uint256.Int) error {
		return m.Stake(staker, amount)
	})
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	s.stakeChange(w, r, func(m *treasury.StakingManager, staker common.Address, amount *uint256.Int) error {
		return m.Unstake(staker, amount)
	})
}

func (s *Server) stakeChange(w http.ResponseWriter, r *http.Request, apply func(*treasury.StakingManager, common.Address, *uint256.Int) error) {
	manager, ok := s.manager(w, r)
	if !ok {
		return
	}
	staking, ok := manager.(*treasury.StakingManager)
	if !ok {
		writeError(w, badRequest(fmt.Errorf("manager %s is not a staking manager", manager.ID())))
		return
	}
	var req stakeRequest
	if !decode(w, r, &req) {
		return
	}
	staker, err := parseAddress(req.Staker)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := apply(staking, staker, amount); err != nil {
		writeError(w, err)
		return
	}
	stake, err := staking.StakeOf(staker)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"staker": staker.Hex(), "stake": stake.Dec()})
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	if s.escrow == nil {
		writeError(w, treasury.ErrEscrowNotConfigured)
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	pool := parsePoolID(chi.URLParam(r, "pool"))
	if err := s.escrow.Allocate(pool, amount); err != nil {
		writeError(w, err)
		return
	}
	total, err := s.escrow.TotalFeesAllocated(r.Context(), pool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pool": pool.Hex(), "total": total.Dec()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.processor.Receipts()
	if err != nil {
		writeError(w, err)
		return
	}
	var (
		data        []byte
		checksum    string
		contentType string
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "csv":
		data, checksum, err = exports.ReceiptsCSV(receipts)
		contentType = "text/csv"
	case "jsonl":
		data, checksum, err = exports.ReceiptsJSONL(receipts)
		contentType = "application/x-ndjson"
	default:
		writeError(w, badRequest(fmt.Errorf("unsupported export format %q", format)))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Checksum-SHA256", checksum)
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) manager(w http.ResponseWriter, r *http.Request) (treasury.Manager, bool) {
	manager, err := s.factory.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return manager, true
}

type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return requestError{err: err} }

func decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, badRequest(fmt.Errorf("invalid payload: %w", err)))
		return false
	}
	return true
}

func parseAmount(raw string) (*uint256.Int, error) {
	amount, err := fixedpoint.ParseAmount(raw)
	if err != nil {
		return nil, badRequest(fmt.Errorf("invalid amount %q: %w", raw, err))
	}
	return amount, nil
}

func parseAddress(raw string) (common.Address, error) {
	addr, err := treasury.ParseAddress(raw)
	if err != nil {
		return common.Address{}, badRequest(err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, badRequest(distribution.ErrInvalidRecipient)
	}
	return addr, nil
}

func parsePoolID(raw string) common.Hash {
	return common.HexToHash(strings.TrimSpace(raw))
}

func statusFor(err error) int {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, treasury.ErrManagerNotFound),
		errors.Is(err, distribution.ErrUnknownHolder),
		errors.Is(err, treasury.ErrUnknownToken),
		errors.Is(err, treasury.ErrUnknownPool),
		errors.Is(err, escrow.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, distribution.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, distribution.ErrClaimInProgress),
		errors.Is(err, distribution.ErrHolderExists),
		errors.Is(err, distribution.ErrStakeLocked),
		errors.Is(err, distribution.ErrNotInitialized),
		errors.Is(err, payoutd.ErrProcessorPaused):
		return http.StatusConflict
	case errors.Is(err, distribution.ErrUnableToSendRevenue),
		errors.Is(err, treasury.ErrEscrowNotConfigured):
		return http.StatusBadGateway
	case errors.Is(err, distribution.ErrInsufficientBalance),
		errors.Is(err, distribution.ErrInvalidRecipient),
		errors.Is(err, distribution.ErrInvalidAmount),
		errors.Is(err, splitter.ErrInvalidShareTotal),
		errors.Is(err, splitter.ErrInvalidProtocolFee):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
