// Package httpapi expone el engine, el oráculo gestionado y las métricas por
// HTTP para el daemon local.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
)

// CallerHeader identifica al llamante en las rutas con rol (keeper, publisher).
// Sin VerifySignatures cualquiera puede fijarla: el daemon sólo debe escuchar
// en loopback.
const CallerHeader = "X-Caller"

const requestLimit = 1 << 16

// Engine es el subconjunto del engine que sirve la API.
type Engine interface {
	Deposit(ctx context.Context, account common.Address, amount *uint256.Int) (domain.Event, error)
	Mint(ctx context.Context, account common.Address, amount *uint256.Int) (domain.Event, error)
	Withdraw(ctx context.Context, account common.Address, amount *uint256.Int) (domain.Event, error)
	RepayAndClose(ctx context.Context, account common.Address) (domain.Event, error)
	Rebalance(ctx context.Context, caller common.Address, req domain.RebalanceRequest) (domain.Event, error)
	GetPosition(ctx context.Context, account common.Address) (domain.Position, error)
	CollateralRatio(ctx context.Context, account common.Address) (*uint256.Int, bool, error)
}

// EventLister lee el journal de eventos de una cuenta.
type EventLister interface {
	Events(ctx context.Context, account common.Address) ([]domain.Event, error)
}

// PricePublisher es el oráculo push. Nil cuando el feed es on-chain.
type PricePublisher interface {
	Publish(ctx context.Context, caller common.Address, price *uint256.Int) (domain.PriceRound, error)
}

// Config fija los decimales con los que se parsean y formatean los importes.
type Config struct {
	CollateralDecimals uint8
	PeggedDecimals     uint8
	PriceDecimals      uint8
	// Route por defecto para /rebalance cuando el body no trae una.
	Route   []common.Address
	Timeout time.Duration
	// VerifySignatures exige peticiones firmadas (ver SignRequest) en todas
	// las rutas POST; las rutas de cuenta sólo las puede firmar su dueño.
	VerifySignatures bool
	SignatureSkew    time.Duration
	Now              func() time.Time
}

// Deps agrupa las dependencias del servidor. Events, Oracle y Metrics son
// opcionales: sin ellos la ruta correspondiente no se monta.
type Deps struct {
	Engine  Engine
	Events  EventLister
	Oracle  PricePublisher
	Metrics http.Handler
}

// Server sirve la API HTTP.
type Server struct {
	cfg      Config
	deps     Deps
	verifier *verifier
	router   http.Handler
}

// New construye el router. Falla si no hay engine.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("httpapi.New: nil engine")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, deps: deps}
	if cfg.VerifySignatures {
		s.verifier = newVerifier(cfg.SignatureSkew, cfg.Now)
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler expone el router configurado.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(chimw.Timeout(s.cfg.Timeout))
	if s.verifier != nil {
		r.Use(s.authenticate)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	if s.deps.Oracle != nil {
		r.Post("/oracle/price", s.publishPrice)
	}

	r.Route("/positions/{account}", func(pr chi.Router) {
		pr.Get("/", s.getPosition)
		pr.Get("/ratio", s.getRatio)
		if s.deps.Events != nil {
			pr.Get("/events", s.listEvents)
		}
		pr.Post("/deposit", s.amountOp(s.deps.Engine.Deposit, s.cfg.CollateralDecimals))
		pr.Post("/mint", s.amountOp(s.deps.Engine.Mint, s.cfg.PeggedDecimals))
		pr.Post("/withdraw", s.amountOp(s.deps.Engine.Withdraw, s.cfg.CollateralDecimals))
		pr.Post("/close", s.closePosition)
		pr.Post("/rebalance", s.rebalance)
	})
	return r
}

// --- handlers ---

type amountRequest struct {
	Amount string `json:"amount"`
}

type rebalanceRequest struct {
	MaxCollateralIn string   `json:"max_collateral_in"`
	MinPeggedOut    string   `json:"min_pegged_out"`
	Route           []string `json:"route"`
}

type priceRequest struct {
	Price string `json:"price"`
}

type positionResponse struct {
	Account    string `json:"account"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type ratioResponse struct {
	Account string `json:"account"`
	Defined bool   `json:"defined"`
	Ratio   string `json:"ratio,omitempty"`
	Percent string `json:"percent,omitempty"`
}

type eventResponse struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Account         string    `json:"account"`
	Amount          string    `json:"amount,omitempty"`
	Refund          string    `json:"refund,omitempty"`
	Fee             string    `json:"fee,omitempty"`
	CollateralSpent string    `json:"collateral_spent,omitempty"`
	DebtRepaid      string    `json:"debt_repaid,omitempty"`
	Excess          string    `json:"excess,omitempty"`
	At              time.Time `json:"at"`
}

type roundResponse struct {
	RoundID   uint64    `json:"round_id"`
	Price     string    `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

type opFunc func(ctx context.Context, account common.Address, amount *uint256.Int) (domain.Event, error)

func (s *Server) amountOp(op opFunc, decimals uint8) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := pathAccount(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.checkOwner(r, account); err != nil {
			writeDomainError(w, err)
			return
		}
		var req amountRequest
		if err := decodeRequest(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := domain.ParseUnits(req.Amount, decimals)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		ev, err := op(r.Context(), account, amount)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.event(ev))
	}
}

func (s *Server) closePosition(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.checkOwner(r, account); err != nil {
		writeDomainError(w, err)
		return
	}
	ev, err := s.deps.Engine.RepayAndClose(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.event(ev))
}

func (s *Server) rebalance(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.caller(r)
	if err != nil {
		writeJSONError(w, http.StatusForbidden, err)
		return
	}
	var req rebalanceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	maxIn, err := domain.ParseUnits(req.MaxCollateralIn, s.cfg.CollateralDecimals)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	minOut := new(uint256.Int)
	if strings.TrimSpace(req.MinPeggedOut) != "" {
		if minOut, err = domain.ParseUnits(req.MinPeggedOut, s.cfg.PeggedDecimals); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	route := s.cfg.Route
	if len(req.Route) > 0 {
		route = make([]common.Address, 0, len(req.Route))
		for _, hop := range req.Route {
			if !common.IsHexAddress(hop) {
				writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid route hop %q", hop))
				return
			}
			route = append(route, common.HexToAddress(hop))
		}
	}

	ev, err := s.deps.Engine.Rebalance(r.Context(), caller, domain.RebalanceRequest{
		Account:         account,
		MaxCollateralIn: maxIn,
		MinPeggedOut:    minOut,
		Route:           route,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.event(ev))
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	pos, err := s.deps.Engine.GetPosition(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Account:    account.Hex(),
		Collateral: domain.FormatUnits(pos.Collateral, s.cfg.CollateralDecimals),
		Debt:       domain.FormatUnits(pos.Debt, s.cfg.PeggedDecimals),
	})
}

func (s *Server) getRatio(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ratio, defined, err := s.deps.Engine.CollateralRatio(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := ratioResponse{Account: account.Hex(), Defined: defined}
	if defined {
		resp.Ratio = ratio.Dec()
		resp.Percent = domain.FormatRatio(ratio)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	events, err := s.deps.Events.Events(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, s.event(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) publishPrice(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeJSONError(w, http.StatusForbidden, err)
		return
	}
	var req priceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	price, err := domain.ParseUnits(req.Price, s.cfg.PriceDecimals)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	round, err := s.deps.Oracle.Publish(r.Context(), caller, price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roundResponse{
		RoundID:   round.RoundID,
		Price:     domain.FormatUnits(round.Price, s.cfg.PriceDecimals),
		UpdatedAt: round.UpdatedAt,
	})
}

// event formatea los importes en unidades legibles: colateral con los
// decimales del colateral, deuda y excedente con los del pegged.
func (s *Server) event(ev domain.Event) eventResponse {
	out := eventResponse{
		ID:      ev.ID.String(),
		Kind:    string(ev.Kind),
		Account: ev.Account.Hex(),
		At:      ev.At,
	}
	col := func(x *uint256.Int) string {
		if x == nil {
			return ""
		}
		return domain.FormatUnits(x, s.cfg.CollateralDecimals)
	}
	peg := func(x *uint256.Int) string {
		if x == nil {
			return ""
		}
		return domain.FormatUnits(x, s.cfg.PeggedDecimals)
	}
	if ev.Kind == domain.EventStablecoinMinted {
		out.Amount = peg(ev.Amount)
	} else {
		out.Amount = col(ev.Amount)
	}
	out.Refund = col(ev.Refund)
	out.Fee = col(ev.Fee)
	out.CollateralSpent = col(ev.CollateralSpent)
	out.DebtRepaid = peg(ev.DebtRepaid)
	out.Excess = peg(ev.Excess)
	return out
}

// --- helpers ---

func pathAccount(r *http.Request) (common.Address, error) {
	raw := chi.URLParam(r, "account")
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid account %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func headerCaller(r *http.Request) (common.Address, error) {
	raw := strings.TrimSpace(r.Header.Get(CallerHeader))
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("missing or invalid %s header", CallerHeader)
	}
	return common.HexToAddress(raw), nil
}

func decodeRequest(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// statusFor traduce los errores de negocio a códigos HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOracleUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrOverflow),
		errors.Is(err, domain.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientCollateral), errors.Is(err, domain.ErrUnderwater),
		errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrTransferFailed),
		errors.Is(err, domain.ErrNoDebt), errors.Is(err, domain.ErrSlippageExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("httpapi: encode response", "err", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("httpapi: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
