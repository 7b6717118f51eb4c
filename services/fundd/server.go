package fundd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"invfund/native/accounting"
	"invfund/native/fees"
	"invfund/native/orders"
	"invfund/native/pcf"
	"invfund/native/rebalance"
	"invfund/observability"
)

// Server exposes the fund engines over HTTP.
type Server struct {
	node *Node
	auth *Authenticator
	log  *slog.Logger

	router http.Handler
}

// NewServer constructs a configured HTTP router over the node.
func NewServer(node *Node, auth *Authenticator, limit RateLimitConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{node: node, auth: auth, log: log}
	srv.router = srv.buildRouter(limit)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(limit RateLimitConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(throttle(rate.NewLimiter(rate.Limit(limit.PerSecond), limit.Burst)))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/accounting/current", s.handleCurrentAccounting)
		api.Get("/accounting/{day}", s.handleAccountingForDay)
		api.Get("/accounting/{day}/snapshots", s.handleSnapshotsForDay)
		api.Get("/nav", s.handleNAV)
		api.Get("/quotes/create", s.handleCreateQuote)
		api.Get("/quotes/redeem", s.handleRedeemQuote)
		api.Get("/orders/{user}", s.handleListOrders)
		api.Get("/delayed/{user}", s.handleDelayedBalance)

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Post("/orders/create", s.handleCreateOrder)
			protected.Post("/orders/redeem", s.handleRedeemOrder)
			protected.Post("/orders/settle", s.handleSettleDelayed)
			protected.Post("/rebalance/daily", s.handleDailyRebalance)
			protected.Post("/rebalance/threshold", s.handleThresholdRebalance)
			protected.Post("/admin/whitelist", s.handleWhitelist)
			protected.Post("/admin/pool/deposit", s.handlePoolDeposit)
			protected.Post("/admin/fees", s.handleFeeSchedule)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type snapshotResponse struct {
	Day             uint32 `json:"day"`
	Price           string `json:"price"`
	CashPerToken    string `json:"cash_per_token"`
	BalancePerToken string `json:"balance_per_token"`
	LendingFee      string `json:"lending_fee"`
}

func toSnapshotResponse(snapshot *accounting.Snapshot) snapshotResponse {
	return snapshotResponse{
		Day:             snapshot.Day,
		Price:           snapshot.Price.String(),
		CashPerToken:    snapshot.CashPerToken.String(),
		BalancePerToken: snapshot.BalancePerToken.String(),
		LendingFee:      snapshot.LendingFee.String(),
	}
}

func (s *Server) handleCurrentAccounting(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.node.ledger.CurrentAccounting()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSnapshotResponse(snapshot))
}

func parseDay(r *http.Request) (uint32, error) {
	raw := chi.URLParam(r, "day")
	day, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed day %q", raw)
	}
	return uint32(day), nil
}

func (s *Server) handleAccountingForDay(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snapshot, err := s.node.ledger.AccountingFor(day)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSnapshotResponse(snapshot))
}

func (s *Server) handleSnapshotsForDay(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snapshots, err := s.node.ledger.SnapshotsFor(day)
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := make([]snapshotResponse, 0, len(snapshots))
	for _, snapshot := range snapshots {
		out = append(out, toSnapshotResponse(snapshot))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleNAV(w http.ResponseWriter, r *http.Request) {
	nav, err := s.node.calculator.CurrentNAV()
	if err != nil {
		s.respondError(w, err)
		return
	}
	supply, err := s.node.token.TotalSupply()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"nav":          nav.String(),
		"total_supply": supply.String(),
	})
}

func (s *Server) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	cash, err := queryAmount(r, "cash")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	price, err := queryAmount(r, "price")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	gasFee, err := queryAmount(r, "gas_fee")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tokens, err := s.node.calculator.CurrentTokenAmountCreatedByCash(cash, price, gasFee)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"tokens": tokens.String()})
}

func (s *Server) handleRedeemQuote(w http.ResponseWriter, r *http.Request) {
	tokens, err := queryAmount(r, "tokens")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	price, err := queryAmount(r, "price")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	gasFee, err := queryAmount(r, "gas_fee")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cash, err := s.node.calculator.CurrentCashAmountCreatedByToken(tokens, price, gasFee)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"cash": cash.String()})
}

type orderRequest struct {
	Success        bool   `json:"success"`
	User           string `json:"user"`
	TokensGiven    string `json:"tokens_given"`
	TokensReceived string `json:"tokens_received"`
	AvgBlendedFee  string `json:"avg_blended_fee"`
	ExecutionPrice string `json:"execution_price"`
	Stablecoin     string `json:"stablecoin"`
	GasFee         string `json:"gas_fee"`
}

type orderResponse struct {
	Index          uint64 `json:"index"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	User           string `json:"user"`
	TokensGiven    string `json:"tokens_given"`
	TokensReceived string `json:"tokens_received"`
	AvgBlendedFee  string `json:"avg_blended_fee"`
	Stablecoin     string `json:"stablecoin"`
	CreatedAt      int64  `json:"created_at"`
}

func toOrderResponse(order *orders.Order) orderResponse {
	return orderResponse{
		Index:          order.Index,
		Type:           order.Type.String(),
		Status:         order.Status.String(),
		User:           "0x" + hex.EncodeToString(order.User[:]),
		TokensGiven:    order.TokensGiven.String(),
		TokensReceived: order.TokensReceived.String(),
		AvgBlendedFee:  order.AvgBlendedFee.String(),
		Stablecoin:     order.Stablecoin,
		CreatedAt:      order.CreatedAt,
	}
}

func (s *Server) decodeOrderRequest(w http.ResponseWriter, r *http.Request) (req orderRequest, user [20]byte, amounts map[string]*big.Int, ok bool) {
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return req, user, nil, false
	}
	user, err := parseAddr(req.User)
	if err != nil {
		http.Error(w, "invalid user address", http.StatusBadRequest)
		return req, user, nil, false
	}
	amounts = make(map[string]*big.Int, 4)
	for field, raw := range map[string]string{
		"tokens_given":    req.TokensGiven,
		"tokens_received": req.TokensReceived,
		"avg_blended_fee": req.AvgBlendedFee,
		"execution_price": req.ExecutionPrice,
		"gas_fee":         req.GasFee,
	} {
		amount, err := parseAmount(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s", field), http.StatusBadRequest)
			return req, user, nil, false
		}
		amounts[field] = amount
	}
	return req, user, amounts, true
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	req, user, amounts, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	s.node.mu.Lock()
	order, err := s.node.processor.CreateOrder(req.Success,
		amounts["tokens_given"], amounts["tokens_received"], amounts["avg_blended_fee"],
		amounts["execution_price"], user, req.Stablecoin, amounts["gas_fee"])
	s.node.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (s *Server) handleRedeemOrder(w http.ResponseWriter, r *http.Request) {
	req, user, amounts, ok := s.decodeOrderRequest(w, r)
	if !ok {
		return
	}
	s.node.mu.Lock()
	order, err := s.node.processor.RedeemOrder(req.Success,
		amounts["tokens_given"], amounts["tokens_received"], amounts["avg_blended_fee"],
		amounts["execution_price"], user, req.Stablecoin, amounts["gas_fee"])
	s.node.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderResponse(order))
}

type settleRequest struct {
	User       string `json:"user"`
	Amount     string `json:"amount"`
	Stablecoin string `json:"stablecoin"`
}

func (s *Server) handleSettleDelayed(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	user, err := parseAddr(req.User)
	if err != nil {
		http.Error(w, "invalid user address", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	s.node.mu.Lock()
	err = s.node.processor.SettleDelayedFunds(amount, user, req.Stablecoin)
	s.node.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}
	remaining, err := s.node.processor.DelayedBalance(user)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"remaining": remaining.String()})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddr(chi.URLParam(r, "user"))
	if err != nil {
		http.Error(w, "invalid user address", http.StatusBadRequest)
		return
	}
	list, err := s.node.processor.Orders(user)
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(list))
	for _, order := range list {
		out = append(out, toOrderResponse(order))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelayedBalance(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddr(chi.URLParam(r, "user"))
	if err != nil {
		http.Error(w, "invalid user address", http.StatusBadRequest)
		return
	}
	balance, err := s.node.processor.DelayedBalance(user)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

type rebalanceRequest struct {
	Price           string `json:"price"`
	LendingFeeRate  string `json:"lending_fee_rate"`
	EndCashPosition string `json:"end_cash_position"`
	EndBalance      string `json:"end_balance"`
	TotalSupply     string `json:"total_supply"`
	TotalFeeRate    string `json:"total_fee_rate"`
}

func (s *Server) decodeRebalanceRequest(w http.ResponseWriter, r *http.Request) (price, lendingFeeRate *big.Int, observed *rebalance.Observation, ok bool) {
	var req rebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return nil, nil, nil, false
	}
	amounts := make([]*big.Int, 0, 6)
	for _, raw := range []string{req.Price, req.LendingFeeRate, req.EndCashPosition, req.EndBalance, req.TotalSupply, req.TotalFeeRate} {
		amount, err := parseAmount(raw)
		if err != nil {
			http.Error(w, "invalid amount", http.StatusBadRequest)
			return nil, nil, nil, false
		}
		amounts = append(amounts, amount)
	}
	observed = &rebalance.Observation{
		EndCashPosition: amounts[2],
		EndBalance:      amounts[3],
		TotalSupply:     amounts[4],
		TotalFeeRate:    amounts[5],
	}
	return amounts[0], amounts[1], observed, true
}

type rebalanceResponse struct {
	EndNAV          string `json:"end_nav"`
	EndBalance      string `json:"end_balance"`
	EndCashPosition string `json:"end_cash_position"`
	FeeInFiat       string `json:"fee_in_fiat"`
	Days            uint64 `json:"days"`
}

func (s *Server) commitRebalance(w http.ResponseWriter, kind string, run func() (*pcf.DailyResult, error)) {
	s.node.mu.Lock()
	result, err := run()
	s.node.mu.Unlock()
	if err != nil {
		if errors.Is(err, rebalance.ErrStateMismatch) {
			observability.RebalanceMetrics().RecordMismatch()
		}
		s.respondError(w, err)
		return
	}
	observability.RebalanceMetrics().SetComposition(
		wholeUnits(result.Result.EndNAV), wholeUnits(result.TotalFeeRate))
	s.log.Info("rebalance committed", "kind", kind, "days", result.Days)
	respondJSON(w, http.StatusOK, rebalanceResponse{
		EndNAV:          result.Result.EndNAV.String(),
		EndBalance:      result.Result.EndBalance.String(),
		EndCashPosition: result.Result.EndCashPosition.String(),
		FeeInFiat:       result.Result.FeeInFiat.String(),
		Days:            result.Days,
	})
}

func (s *Server) handleDailyRebalance(w http.ResponseWriter, r *http.Request) {
	price, lendingFeeRate, observed, ok := s.decodeRebalanceRequest(w, r)
	if !ok {
		return
	}
	s.commitRebalance(w, "daily", func() (*pcf.DailyResult, error) {
		return s.node.rebalancer.DailyRebalance(s.node.orchestrator, price, lendingFeeRate, observed)
	})
}

func (s *Server) handleThresholdRebalance(w http.ResponseWriter, r *http.Request) {
	price, lendingFeeRate, observed, ok := s.decodeRebalanceRequest(w, r)
	if !ok {
		return
	}
	s.commitRebalance(w, "threshold", func() (*pcf.DailyResult, error) {
		return s.node.rebalancer.ThresholdRebalance(s.node.orchestrator, price, lendingFeeRate, observed)
	})
}

type whitelistRequest struct {
	Address string `json:"address"`
	Allowed bool   `json:"allowed"`
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	addr, err := parseAddr(req.Address)
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	s.node.mu.Lock()
	if req.Allowed {
		err = s.node.whitelist.Add(addr)
	} else {
		err = s.node.whitelist.Remove(addr)
	}
	s.node.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type depositRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handlePoolDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	s.node.mu.Lock()
	err = s.node.pool.Deposit(req.Asset, amount)
	s.node.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}
	balance, err := s.node.pool.Balance(req.Asset)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

type feeScheduleRequest struct {
	Action    string `json:"action"` // add, change, delete, delete_last, set_default
	Index     int    `json:"index"`
	Threshold string `json:"threshold"`
	Rate      string `json:"rate"`
}

func (s *Server) handleFeeSchedule(w http.ResponseWriter, r *http.Request) {
	var req feeScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	threshold, err := parseAmount(req.Threshold)
	if err != nil {
		http.Error(w, "invalid threshold", http.StatusBadRequest)
		return
	}
	rate, err := parseAmount(req.Rate)
	if err != nil {
		http.Error(w, "invalid rate", http.StatusBadRequest)
		return
	}

	s.node.mu.Lock()
	err = s.node.ledger.UpdateSchedule(s.node.orchestrator, func(cfg *accounting.Config) error {
		switch strings.ToLower(strings.TrimSpace(req.Action)) {
		case "add":
			return cfg.Schedule.AddBracket(threshold, rate)
		case "change":
			return cfg.Schedule.ChangeBracket(req.Index, threshold, rate)
		case "delete":
			return cfg.Schedule.DeleteBracket(req.Index)
		case "delete_last":
			return cfg.Schedule.DeleteLastBracket()
		case "set_default":
			return cfg.Schedule.SetDefaultRate(rate)
		default:
			return fmt.Errorf("unknown action %q", req.Action)
		}
	})
	s.node.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err.Error())
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrUnauthorized), errors.Is(err, accounting.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, accounting.ErrNoAccounting), errors.Is(err, accounting.ErrNotInitialised),
		errors.Is(err, fees.ErrBracketNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrPriceMismatch), errors.Is(err, rebalance.ErrStateMismatch),
		errors.Is(err, orders.ErrInsufficientLiquidity), errors.Is(err, orders.ErrExceedsDelayedBalance),
		errors.Is(err, accounting.ErrDayRegression):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInvalidAmount), errors.Is(err, orders.ErrUnsupportedDecimals),
		errors.Is(err, pcf.ErrBelowMinimumTrade), errors.Is(err, pcf.ErrZeroPrice),
		errors.Is(err, pcf.ErrInsufficientSupply), errors.Is(err, rebalance.ErrInvalidObservation),
		errors.Is(err, ErrUnknownAsset), errors.Is(err, fees.ErrInvalidBracketOrder),
		errors.Is(err, fees.ErrInvalidRate), errors.Is(err, fees.ErrInvalidThreshold):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseAddr(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, err
	}
	if len(raw) != 20 {
		return out, fmt.Errorf("expected 20 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", value)
	}
	if out.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", value)
	}
	return out, nil
}

func queryAmount(r *http.Request, key string) (*big.Int, error) {
	return parseAmount(r.URL.Query().Get(key))
}

func wholeUnits(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), big.NewFloat(1e18)).Float64()
	return value
}
