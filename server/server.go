package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"airlend/native/market"
	"airlend/native/oracle"
	"airlend/native/token"
	"airlend/observability"
)

// Server exposes the read/ops surface of a running protocol instance: market
// and position views, health, prometheus metrics, and a manual price override
// for incident response.
type Server struct {
	engine *market.Engine
	feeds  map[common.Address]*oracle.ManualFeed
	log    *slog.Logger
}

// New constructs a server over engine. feeds maps assets to their manual
// override feeds; assets without one reject price overrides.
func New(engine *market.Engine, feeds map[common.Address]*oracle.ManualFeed, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if feeds == nil {
		feeds = make(map[common.Address]*oracle.ManualFeed)
	}
	return &Server{engine: engine, feeds: feeds, log: log.With(slog.String("component", "server"))}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/markets", s.listMarkets)
	r.Get("/positions/{user}/{asset}", s.getPosition)
	r.Post("/tx/deposit", s.txHandler("deposit", s.deposit))
	r.Post("/tx/borrow", s.txHandler("borrow", s.borrow))
	r.Post("/tx/repay", s.txHandler("repay", s.repay))
	r.Post("/tx/withdraw", s.txHandler("withdraw", s.withdraw))
	r.Post("/admin/oracle/price", s.setPrice)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rateBody struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

type marketBody struct {
	Asset                string   `json:"asset"`
	Status               string   `json:"status"`
	CreditLimitRate      rateBody `json:"creditLimitRate"`
	LiquidationLimitRate rateBody `json:"liquidationLimitRate"`
	InterestApr          rateBody `json:"interestApr"`
	OrgFeeRate           rateBody `json:"orgFeeRate"`
	LiquidationPenalty   rateBody `json:"liquidationPenalty"`
	TotalBorrow          string   `json:"totalBorrow"`
	TotalBorrowCap       string   `json:"totalBorrowCap,omitempty"`
}

func (s *Server) listMarkets(w http.ResponseWriter, _ *http.Request) {
	assets := s.engine.AllCollateralTokens()
	out := make([]marketBody, 0, len(assets))
	for _, asset := range assets {
		setting, err := s.engine.CollateralSettingOf(asset)
		if err != nil {
			continue
		}
		body := marketBody{
			Asset:                asset.Hex(),
			Status:               setting.Status.String(),
			CreditLimitRate:      rateBody(setting.CreditLimitRate),
			LiquidationLimitRate: rateBody(setting.LiquidationLimitRate),
			InterestApr:          rateBody(setting.InterestApr),
			OrgFeeRate:           rateBody(setting.OrgFeeRate),
			LiquidationPenalty:   rateBody(setting.LiquidationPenalty),
			TotalBorrow:          setting.TotalBorrow.String(),
		}
		if setting.TotalBorrowCap != nil && setting.TotalBorrowCap.Sign() > 0 {
			body.TotalBorrowCap = setting.TotalBorrowCap.String()
		}
		out = append(out, body)
	}
	writeJSON(w, http.StatusOK, out)
}

type positionBody struct {
	User                string `json:"user"`
	Asset               string `json:"asset"`
	Amount              string `json:"amount"`
	AmountUSD           string `json:"amountUSD"`
	CreditLimitUSD      string `json:"creditLimitUSD"`
	LiquidationLimitUSD string `json:"liquidationLimitUSD"`
	DebtPrincipal       string `json:"debtPrincipal"`
	DebtInterest        string `json:"debtInterest"`
	Liquidatable        bool   `json:"liquidatable"`
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(chi.URLParam(r, "user"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	view, err := s.engine.Position(user, asset)
	if err != nil {
		if errors.Is(err, market.ErrInvalidToken) {
			writeJSONError(w, http.StatusNotFound, err)
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionBody{
		User:                user.Hex(),
		Asset:               asset.Hex(),
		Amount:              view.Amount.String(),
		AmountUSD:           view.AmountUSD.String(),
		CreditLimitUSD:      view.CreditLimitUSD.String(),
		LiquidationLimitUSD: view.LiquidationLimitUSD.String(),
		DebtPrincipal:       view.DebtPrincipal.String(),
		DebtInterest:        view.DebtInterest.String(),
		Liquidatable:        view.Liquidatable,
	})
}

type txRequest struct {
	Caller     string `json:"caller"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

type parsedTx struct {
	caller     common.Address
	asset      common.Address
	amount     *big.Int
	onBehalfOf common.Address
}

func (r txRequest) parse() (parsedTx, error) {
	var tx parsedTx
	var err error
	if tx.caller, err = parseAddress(r.Caller); err != nil {
		return tx, err
	}
	if tx.asset, err = parseAddress(r.Asset); err != nil {
		return tx, err
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(r.Amount), 10)
	if !ok {
		return tx, fmt.Errorf("invalid amount %q", r.Amount)
	}
	tx.amount = amount
	if strings.TrimSpace(r.OnBehalfOf) != "" {
		if tx.onBehalfOf, err = parseAddress(r.OnBehalfOf); err != nil {
			return tx, err
		}
	}
	return tx, nil
}

// txHandler wraps one market operation: decode, execute, record the outcome.
func (s *Server) txHandler(operation string, exec func(parsedTx) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req txRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, fmt.Errorf("decode request: %w", err))
			return
		}
		tx, err := req.parse()
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		err = exec(tx)
		observability.LendingMetrics().Observe(operation, tx.asset.Hex(), err)
		if err != nil {
			s.log.Warn("transaction rejected",
				slog.String("operation", operation),
				slog.String("asset", tx.asset.Hex()),
				slog.String("error", err.Error()))
			writeJSONError(w, txStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"operation": operation,
			"asset":     tx.asset.Hex(),
			"amount":    tx.amount.String(),
		})
	}
}

func (s *Server) deposit(tx parsedTx) error {
	return s.engine.Deposit(tx.caller, tx.asset, tx.amount, tx.onBehalfOf)
}

func (s *Server) borrow(tx parsedTx) error {
	return s.engine.Borrow(tx.caller, tx.asset, tx.amount)
}

func (s *Server) repay(tx parsedTx) error {
	return s.engine.Repay(tx.caller, tx.asset, tx.amount)
}

func (s *Server) withdraw(tx parsedTx) error {
	return s.engine.Withdraw(tx.caller, tx.asset, tx.amount)
}

func txStatus(err error) int {
	switch {
	case errors.Is(err, market.ErrInvalidToken):
		return http.StatusNotFound
	case errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, market.ErrNotEnabled),
		errors.Is(err, market.ErrInsufficientCollateral),
		errors.Is(err, market.ErrBorrowCapReached),
		errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type setPriceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, fmt.Errorf("decode request: %w", err))
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(req.Price), 10)
	if !ok || price.Sign() <= 0 {
		writeBadRequest(w, fmt.Errorf("invalid price %q", req.Price))
		return
	}
	feed, ok := s.feeds[asset]
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("no manual feed for %s", asset.Hex()))
		return
	}
	feed.Set(price, time.Now())
	s.log.Info("manual price override", slog.String("asset", asset.Hex()), slog.String("price", price.String()))
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.Hex(), "price": price.String()})
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
