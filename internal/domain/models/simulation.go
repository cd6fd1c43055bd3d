package models

import "time"

// Simulation is a paper position opened against a prediction.
// It is created OPEN and transitions exactly once to CLOSED.
type Simulation struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	OpenedAt    time.Time         `json:"opened_at"`
	EntryPrice  float64           `json:"entry_price"`
	Trend       Direction         `json:"trend"`
	Probability Probability       `json:"probability"`
	Confidence  float64           `json:"confidence"`
	Snapshot    IndicatorSnapshot `json:"technical_snapshot"`
	Prediction  Prediction        `json:"prediction"`

	Closed    bool       `json:"closed"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ExitPrice float64    `json:"exit_price,omitempty"`
	ResultPct float64    `json:"result_pct"`
	Success   *bool      `json:"success,omitempty"`

	// LearningFeedback is set once the outcome was consumed by the learning components.
	LearningFeedback *bool `json:"learning_feedback,omitempty"`
}

// Outcome is the result written by the close transition.
type Outcome struct {
	ClosedAt  time.Time `json:"closed_at"`
	ExitPrice float64   `json:"exit_price"`
	ResultPct float64   `json:"result_pct"`
	Success   bool      `json:"success"`
}

// Apply returns a copy of s in CLOSED state carrying the outcome.
func (s Simulation) Apply(o Outcome) Simulation {
	closedAt := o.ClosedAt
	success := o.Success
	s.Closed = true
	s.ClosedAt = &closedAt
	s.ExitPrice = o.ExitPrice
	s.ResultPct = o.ResultPct
	s.Success = &success
	return s
}

// Won reports whether the simulation is closed and successful.
func (s Simulation) Won() bool { return s.Closed && s.Success != nil && *s.Success }

// MovedUp reports whether the exit price is above the entry price.
func (s Simulation) MovedUp() bool { return s.Closed && s.ExitPrice > s.EntryPrice }

// LedgerStats aggregates the simulation ledger.
type LedgerStats struct {
	Total      int     `json:"total_simulations"`
	Open       int     `json:"open_simulations"`
	Closed     int     `json:"closed_simulations"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	WinRate    float64 `json:"win_rate"`
	AvgProfit  float64 `json:"avg_profit"`
	BestTrade  float64 `json:"best_trade"`
	WorstTrade float64 `json:"worst_trade"`
}

// SimulationEvent is published on open and close.
type SimulationEvent struct {
	Type       string     `json:"type"`
	Simulation Simulation `json:"simulation"`
	At         time.Time  `json:"at"`
}

const (
	EventSimulationOpened = "simulation.opened"
	EventSimulationClosed = "simulation.closed"
)

// SummarizeLedger aggregates simulations. WinRate is a percentage of closed simulations.
func SummarizeLedger(sims []Simulation) LedgerStats {
	var st LedgerStats
	sum := 0.0
	for _, s := range sims {
		st.Total++
		if !s.Closed {
			st.Open++
			continue
		}
		if st.Closed == 0 || s.ResultPct > st.BestTrade {
			st.BestTrade = s.ResultPct
		}
		if st.Closed == 0 || s.ResultPct < st.WorstTrade {
			st.WorstTrade = s.ResultPct
		}
		st.Closed++
		sum += s.ResultPct
		if s.Won() {
			st.Wins++
		} else {
			st.Losses++
		}
	}
	if st.Closed > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Closed) * 100
		st.AvgProfit = sum / float64(st.Closed)
	}
	return st
}
