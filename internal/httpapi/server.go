package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"meridian/internal/backtest"
	"meridian/internal/calendar"
	"meridian/internal/pit"
	"meridian/internal/store"
	"meridian/internal/strategy"
)

// Price history is loaded this many days before the run start so trailing
// momentum and volatility windows have data on the first rebalance date.
const lookbackDays = 400

// Server serves the backtest HTTP API. Each request owns its backtester and
// ledger; the stores are safe for concurrent use, so overlapping requests
// run independent backtests in parallel.
type Server struct {
	registry     *strategy.Registry
	prices       store.PriceStore
	fundamentals store.FundamentalStore
	runs         store.RunStore
	cal          calendar.Calendar
	log          *slog.Logger
}

// NewServer creates a Server backed by the given registry and stores.
func NewServer(registry *strategy.Registry, prices store.PriceStore, fundamentals store.FundamentalStore, runs store.RunStore, cal calendar.Calendar, log *slog.Logger) *Server {
	if cal == nil {
		cal = calendar.WeekdayCalendar{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		registry:     registry,
		prices:       prices,
		fundamentals: fundamentals,
		runs:         runs,
		cal:          cal,
		log:          log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/backtests", s.handleRunBacktest)
	mux.HandleFunc("GET /api/v1/backtests", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/backtests/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/v1/backtests/{id}/summary.csv", s.handleSummaryCSV)
	mux.HandleFunc("GET /api/v1/backtests/{id}/transactions.csv", s.handleTransactionsCSV)
	mux.HandleFunc("GET /api/v1/strategies", s.handleStrategies)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}

	ranker, ok := s.registry.Get(req.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", req.Strategy))
		return
	}

	cfg, err := buildConfig(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	view, err := pit.Load(ctx, s.prices, s.fundamentals, cfg.Universe,
		cfg.StartDate.AddDate(0, 0, -lookbackDays), cfg.EndDate, req.FilingLagDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("loading data: %v", err))
		return
	}

	bt, err := backtest.New(cfg, view, ranker, s.cal, s.log)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := bt.Run(ctx)
	if err != nil {
		s.log.Error("backtest aborted", "strategy", req.Strategy, "reason", err)
		writeJSON(w, http.StatusUnprocessableEntity, AbortedResponse{
			State:  backtest.StateAborted.String(),
			Reason: res.Reason,
		})
		return
	}

	configJSON, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("encoding config: %v", err))
		return
	}
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("encoding metrics: %v", err))
		return
	}

	record := &store.RunRecord{
		RunHeader: store.RunHeader{
			Name:     req.Name,
			Strategy: req.Strategy,
		},
		ConfigJSON:   string(configJSON),
		MetricsJSON:  string(metricsJSON),
		Summary:      res.SummaryRows(),
		Transactions: res.TransactionRows(),
	}
	id, err := s.runs.SaveRun(ctx, record)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("saving run: %v", err))
		return
	}

	saved, err := s.runs.GetRun(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reloading run: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, convertRun(saved))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	headers, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}

	resp := RunListResponse{Runs: []RunHeaderJSON{}}
	for _, h := range headers {
		resp.Runs = append(resp.Runs, RunHeaderJSON{
			ID:        h.ID,
			CreatedAt: h.CreatedAt,
			Name:      h.Name,
			Strategy:  h.Strategy,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) *store.RunRecord {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return nil
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %d not found", id))
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading run failed")
		return nil
	}
	return run
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.getRun(w, r)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, convertRun(run))
}

func (s *Server) handleSummaryCSV(w http.ResponseWriter, r *http.Request) {
	run := s.getRun(w, r)
	if run == nil {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	fmt.Fprintln(w, "date,total_value,cash,return,excluded")
	for _, row := range run.Summary {
		fmt.Fprintf(w, "%s,%.2f,%.2f,%.6f,%d\n",
			row.Date, row.TotalValue, row.Cash, row.Return, row.Excluded)
	}
}

func (s *Server) handleTransactionsCSV(w http.ResponseWriter, r *http.Request) {
	run := s.getRun(w, r)
	if run == nil {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	fmt.Fprintln(w, "date,symbol,side,quantity,fill_price,cost")
	for _, t := range run.Transactions {
		fmt.Fprintf(w, "%s,%s,%s,%.6f,%.4f,%.4f\n",
			t.Date, t.Symbol, t.Side, t.Quantity, t.FillPrice, t.Cost)
	}
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StrategiesResponse{Strategies: s.registry.List()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// buildConfig converts an API request into an engine configuration. Field
// validation beyond shape (dates, rates, caps) is the engine's job.
func buildConfig(req *BacktestRequest) (backtest.Config, error) {
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("parsing startDate %q: %w", req.StartDate, err)
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("parsing endDate %q: %w", req.EndDate, err)
	}

	return backtest.Config{
		StartDate:          start,
		EndDate:            end,
		InitialCapital:     req.InitialCapital,
		Universe:           req.Universe,
		Frequency:          backtest.Frequency(req.Frequency),
		SelectionRule:      backtest.SelectionRule(req.SelectionRule),
		TopN:               req.TopN,
		Threshold:          req.Threshold,
		WeightScheme:       backtest.WeightScheme(req.WeightScheme),
		MinWeight:          req.MinWeight,
		MaxWeight:          req.MaxWeight,
		VolLookback:        req.VolLookback,
		CommissionRate:     req.CommissionRate,
		SlippageRate:       req.SlippageRate,
		MaxSnapshotAgeDays: req.MaxSnapshotAgeDays,
		RiskFreeRate:       req.RiskFreeRate,
	}, nil
}
