// Package query holds the read-only aggregate queries the dashboard runs
// against a loaded database.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pulse/internal/schema"
	"pulse/internal/storage"
)

// Querier is the read side of storage.Repository.
type Querier interface {
	Dialect() storage.Dialect
	Query(ctx context.Context, query string, args []any, fn func(storage.RowScanner) error) error
}

const (
	DefaultTopStates    = 10
	DefaultTopDistricts = 10
	DefaultEngagement   = 15

	deviceLimit    = 10
	insuranceLimit = 10
)

type Service struct {
	DB Querier
}

type Summary struct {
	TotalAmount       float64 `json:"total_amount"`
	TotalTransactions int64   `json:"total_transactions"`
	States            int64   `json:"total_states"`
	AvgAmount         float64 `json:"avg_transaction_value"`
}

type StateTotal struct {
	State        string  `json:"state"`
	Amount       float64 `json:"total_amount"`
	Transactions int64   `json:"total_transactions"`

	// AmountPerTransaction is Amount/Transactions rounded to paise.
	AmountPerTransaction decimal.Decimal `json:"amount_per_transaction"`
}

type QuarterTotal struct {
	Year         int     `json:"year"`
	Quarter      int     `json:"quarter"`
	Amount       float64 `json:"total_amount"`
	Transactions int64   `json:"total_transactions"`
}

type TypeTotal struct {
	Type         string  `json:"transaction_type"`
	Amount       float64 `json:"total_amount"`
	Transactions int64   `json:"total_transactions"`
}

type DeviceShare struct {
	Brand         string  `json:"device_brand"`
	Users         int64   `json:"total_users"`
	AvgPercentage float64 `json:"avg_percentage"`
}

type InsuranceTotal struct {
	State  string  `json:"state"`
	Amount float64 `json:"insurance_amount"`
	Count  int64   `json:"insurance_count"`
}

type DistrictTotal struct {
	District     string  `json:"district"`
	Amount       float64 `json:"total_amount"`
	Transactions int64   `json:"total_transactions"`
}

type UserEngagement struct {
	State           string  `json:"state"`
	RegisteredUsers int64   `json:"total_users"`
	AppOpens        int64   `json:"total_opens"`
	EngagementRate  float64 `json:"engagement_rate"` // mean of per-row opens/users

	OpensPerUser decimal.Decimal `json:"opens_per_user"` // AppOpens/RegisteredUsers
}

func (s *Service) stmt() *stmt { return &stmt{d: s.DB.Dialect()} }

// sums renders the amount/count aggregates shared by the transaction queries.
func sums(st *stmt, amountAlias, countAlias string) string {
	return fmt.Sprintf("COALESCE(SUM(%s), 0) AS %s, CAST(COALESCE(SUM(%s), 0) AS BIGINT) AS %s",
		st.col("amount"), amountAlias, st.col("count"), countAlias)
}

func lines(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// ratio returns num/den rounded to 2 places, or zero when den is 0.
func ratio(num float64, den int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(num).Div(decimal.NewFromInt(den)).Round(2)
}

// States lists the distinct state values present in aggregated_transaction.
func (s *Service) States(ctx context.Context) ([]string, error) {
	st := s.stmt()
	q := fmt.Sprintf("SELECT DISTINCT %[1]s FROM %[2]s ORDER BY %[1]s", st.col("state"), st.col(schema.AggregatedTransaction))

	var out []string
	err := s.DB.Query(ctx, q, nil, func(r storage.RowScanner) error {
		var v string
		if err := r.Scan(&v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: states: %w", err)
	}
	return out, nil
}

// Summary returns the KPI totals over aggregated_transaction.
func (s *Service) Summary(ctx context.Context, f Filter) (Summary, error) {
	st := s.stmt()
	q := lines(
		fmt.Sprintf("SELECT %s, COUNT(DISTINCT %s) AS total_states, COALESCE(AVG(%s), 0) AS avg_transaction_value",
			sums(st, "total_amount", "total_transactions"), st.col("state"), st.col("amount")),
		"FROM "+st.col(schema.AggregatedTransaction),
		st.where(f, byYear|byQuarter|byState|byType),
	)

	var out Summary
	err := s.DB.Query(ctx, q, st.args, func(r storage.RowScanner) error {
		return r.Scan(&out.TotalAmount, &out.TotalTransactions, &out.States, &out.AvgAmount)
	})
	if err != nil {
		return Summary{}, fmt.Errorf("query: summary: %w", err)
	}
	return out, nil
}

// TopStates ranks states by transaction amount. limit <= 0 means DefaultTopStates.
func (s *Service) TopStates(ctx context.Context, f Filter, limit int) ([]StateTotal, error) {
	st := s.stmt()
	q := lines(
		fmt.Sprintf("SELECT %s, %s", st.col("state"), sums(st, "total_amount", "total_transactions")),
		"FROM "+st.col(schema.AggregatedTransaction),
		st.where(f, byYear|byQuarter|byState|byType),
		"GROUP BY "+st.col("state"),
		"ORDER BY total_amount DESC, "+st.col("state"),
		st.d.Limit(orDefault(limit, DefaultTopStates)),
	)

	var out []StateTotal
	err := s.DB.Query(ctx, q, st.args, func(r storage.RowScanner) error {
		var v StateTotal
		if err := r.Scan(&v.State, &v.Amount, &v.Transactions); err != nil {
			return err
		}
		v.AmountPerTransaction = ratio(v.Amount, v.Transactions)
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: top states: %w", err)
	}
	return out, nil
}

// QuarterlyTrends returns totals per (year, quarter) in time order. The
// quarter filter is not applied.
func (s *Service) QuarterlyTrends(ctx context.Context, f Filter) ([]QuarterTotal, error) {
	st := s.stmt()
	yq := st.col("year") + ", " + st.col("quarter")
	q := lines(
		fmt.Sprintf("SELECT %s, %s", yq, sums(st, "total_amount", "total_transactions")),
		"FROM "+st.col(schema.AggregatedTransaction),
		st.where(f, byYear|byState|byType),
		"GROUP BY "+yq,
		"ORDER BY "+yq,
	)

	var out []QuarterTotal
	err := s.DB.Query(ctx, q, st.args, func(r storage.RowScanner) error {
		var v QuarterTotal
		if err := r.Scan(&v.Year, &v.Quarter, &v.Amount, &v.Transactions); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: quarterly trends: %w", err)
	}
	return out, nil
}

// TransactionTypes breaks totals down by transaction_type. The type filter is
// not applied.
func (s *Service) TransactionTypes(ctx context.Context, f Filter) ([]TypeTotal, error) {
	st := s.stmt()
	q := lines(
		fmt.Sprintf("SELECT %s, %s", st.col("transaction_type"), sums(st, "total_amount", "total_transactions")),
		"FROM "+st.col(schema.AggregatedTransaction),
		st.where(f, byYear|byQuarter|byState),
		"GROUP BY "+st.col("transaction_type"),
		"ORDER BY total_amount DESC, "+st.col("transaction_type"),
	)

	var out []TypeTotal
	err := s.DB.Query(ctx, q, st.args, func(r storage.RowScanner) error {
		var v TypeTotal
		if err := r.Scan(&v.Type, &v.Amount, &v.Transactions); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: transaction types: %w", err)
	}
	return out, nil
}

// DeviceDistribution returns the ten device brands with the most users.
func (s *Service) DeviceDistribution(ctx context.Context, f Filter) ([]DeviceShare, error) {
	st := s.stmt()
	q := lines(
		fmt.Sprintf("SELECT %s, CAST(COALESCE(SUM(%s), 0) AS BIGINT) AS total_users, COALESCE(AVG(%s), 0) AS avg_percentage",
			st.col("device_brand"), st.col("user_count"), st.col("user_percentage")),
		"FROM "+st.col(schema.AggregatedUser),
		st.where(f, byYear|byQuarter|byState),
		"GROUP BY "+st.col("device_brand"),
		"ORDER BY total_users DESC, "+st.col("device_brand"),
		st.d.Limit(deviceLimit),
	)

	var out []DeviceShare
	err := s.DB.Query(ctx, q, st.args, func(r storage.RowScanner) error {
		var v DeviceShare
		if err := r.Scan(&v.Brand, &v.Users, &v.AvgPercentage); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: device distribution: %w", err)
	}
	return out, nil
}

// InsuranceByState returns the ten states with the largest insurance amount.
func (s *Service) InsuranceByState(ctx context.Context, f Filter) ([]InsuranceTotal, error) {
	st := s.stmt()
	q := lines(
		fmt.Sprintf("SELECT %s, %s", st.col("state"), sums(st, "insurance_amount", "insurance_count")),
		"FROM "+st.col(schema.AggregatedInsurance),
		st.where(f, byYear|byQuarter|byState),
		"GROUP BY "+st.col("state"),
		"ORDER BY insurance_amount DESC, "+st.col("state"),
		st.d.Limit(insuranceLimit),
	)

	var out []InsuranceTotal
	err := s.DB.Query(ctx, q, st.args, func(r storage.RowScanner) error {
		var v InsuranceTotal
		if err := r.Scan(&v.State, &v.Amount, &v.Count); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: insurance by state: %w", err)
	}
	return out, nil
}

// TopDistricts ranks map_transaction districts by amount. limit <= 0 means
// DefaultTopDistricts.
func (s *Service) TopDistricts(ctx context.Context, f Filter, limit int) ([]DistrictTotal, error) {
	st := s.stmt()
	q := lines(
		fmt.Sprintf("SELECT %s, %s", st.col("district"), sums(st, "total_amount", "total_transactions")),
		"FROM "+st.col(schema.MapTransaction),
		st.where(f, byYear|byQuarter|byState),
		"GROUP BY "+st.col("district"),
		"ORDER BY total_amount DESC, "+st.col("district"),
		st.d.Limit(orDefault(limit, DefaultTopDistricts)),
	)

	var out []DistrictTotal
	err := s.DB.Query(ctx, q, st.args, func(r storage.RowScanner) error {
		var v DistrictTotal
		if err := r.Scan(&v.District, &v.Amount, &v.Transactions); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: top districts: %w", err)
	}
	return out, nil
}

// RegisteredUsersByState sums map_user per state, ranked by mean app opens
// per registered user. States with no registered users are omitted. limit
// <= 0 means DefaultEngagement.
func (s *Service) RegisteredUsersByState(ctx context.Context, f Filter, limit int) ([]UserEngagement, error) {
	st := s.stmt()
	users, opens := st.col("registered_users"), st.col("app_opens")
	q := lines(
		fmt.Sprintf("SELECT %s, CAST(COALESCE(SUM(%s), 0) AS BIGINT) AS total_users, CAST(COALESCE(SUM(%s), 0) AS BIGINT) AS total_opens,",
			st.col("state"), users, opens),
		fmt.Sprintf("  COALESCE(AVG(CAST(%s AS FLOAT) / NULLIF(%s, 0)), 0) AS engagement_rate", opens, users),
		"FROM "+st.col(schema.MapUser),
		st.where(f, byYear|byQuarter|byState),
		"GROUP BY "+st.col("state"),
		fmt.Sprintf("HAVING SUM(%s) > 0", users),
		"ORDER BY engagement_rate DESC, "+st.col("state"),
		st.d.Limit(orDefault(limit, DefaultEngagement)),
	)

	var out []UserEngagement
	err := s.DB.Query(ctx, q, st.args, func(r storage.RowScanner) error {
		var v UserEngagement
		if err := r.Scan(&v.State, &v.RegisteredUsers, &v.AppOpens, &v.EngagementRate); err != nil {
			return err
		}
		v.OpensPerUser = ratio(float64(v.AppOpens), v.RegisteredUsers)
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: registered users by state: %w", err)
	}
	return out, nil
}
