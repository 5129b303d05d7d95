package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"pulse/internal/query"
)

type queryFlags struct {
	years    []int
	quarters []int
	states   []string
	types    []string
	limit    int
	format   string
}

// result is one query's output: the typed value for json and the rendered
// table for humans.
type result struct {
	value  any
	header []string
	rows   [][]string
}

type queryFunc func(ctx context.Context, s *query.Service, f query.Filter, limit int) (result, error)

var queries = map[string]queryFunc{
	"states":            runStates,
	"summary":           runSummary,
	"top-states":        runTopStates,
	"quarterly-trends":  runQuarterlyTrends,
	"transaction-types": runTransactionTypes,
	"devices":           runDevices,
	"insurance":         runInsurance,
	"top-districts":     runTopDistricts,
	"registered-users":  runRegisteredUsers,
}

var queryNames = []string{
	"states", "summary", "top-states", "quarterly-trends", "transaction-types",
	"devices", "insurance", "top-districts", "registered-users",
}

func (a *app) newQueryCmd() *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:       "query <" + strings.Join(queryNames, "|") + ">",
		Short:     "Run one of the dashboard aggregates against a loaded database",
		ValidArgs: queryNames,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("query takes exactly one name, got %d", len(args))
			}
			if _, ok := queries[args[0]]; !ok {
				return usagef("unknown query %q (want %s)", args[0], strings.Join(queryNames, "|"))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(args[0], qf)
		},
	}
	f := cmd.Flags()
	f.SortFlags = false
	f.IntSliceVar(&qf.years, "year", nil, "year filter (repeatable)")
	f.IntSliceVar(&qf.quarters, "quarter", nil, "quarter filter 1-4 (repeatable)")
	f.StringArrayVar(&qf.states, "state", nil, "state filter, folder name as stored (repeatable)")
	f.StringArrayVar(&qf.types, "type", nil, "transaction type filter (repeatable)")
	f.IntVar(&qf.limit, "limit", 0, "row limit for ranked queries (0 = query default)")
	f.StringVar(&qf.format, "format", "table", "output format: table|json")
	return cmd
}

func (a *app) runQuery(name string, qf queryFlags) error {
	if qf.format != "table" && qf.format != "json" {
		return usagef("unknown --format %q (want table|json)", qf.format)
	}
	for _, q := range qf.quarters {
		if q < 1 || q > 4 {
			return usagef("--quarter %d out of range 1-4", q)
		}
	}
	if qf.limit < 0 {
		return usagef("--limit must not be negative")
	}

	p, err := a.pipeline(false)
	if err != nil {
		return err
	}
	log, err := a.logger(p, a.stderr, true)
	if err != nil {
		return err
	}
	defer log.Close()

	repo, err := a.deps.newRunner().Open(a.ctx, p, log)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer repo.Close()

	f := query.Filter{Years: qf.years, Quarters: qf.quarters, States: qf.states, TransactionTypes: qf.types}
	res, err := queries[name](a.ctx, &query.Service{DB: repo}, f, qf.limit)
	if err != nil {
		return err
	}

	if qf.format == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.value)
	}
	return writeTable(a.stdout, res.header, res.rows)
}

func writeTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
func num(v int64) string     { return strconv.FormatInt(v, 10) }

func runStates(ctx context.Context, s *query.Service, _ query.Filter, _ int) (result, error) {
	states, err := s.States(ctx)
	if err != nil {
		return result{}, err
	}
	res := result{value: states, header: []string{"STATE", "LABEL"}}
	for _, st := range states {
		res.rows = append(res.rows, []string{st, query.DisplayState(st)})
	}
	return res, nil
}

func runSummary(ctx context.Context, s *query.Service, f query.Filter, _ int) (result, error) {
	v, err := s.Summary(ctx, f)
	if err != nil {
		return result{}, err
	}
	return result{
		value:  v,
		header: []string{"TOTAL_AMOUNT", "TOTAL_TRANSACTIONS", "STATES", "AVG_AMOUNT"},
		rows:   [][]string{{money(v.TotalAmount), num(v.TotalTransactions), num(v.States), money(v.AvgAmount)}},
	}, nil
}

func runTopStates(ctx context.Context, s *query.Service, f query.Filter, limit int) (result, error) {
	vs, err := s.TopStates(ctx, f, limit)
	if err != nil {
		return result{}, err
	}
	res := result{value: vs, header: []string{"STATE", "TOTAL_AMOUNT", "TRANSACTIONS", "PER_TRANSACTION"}}
	for _, v := range vs {
		res.rows = append(res.rows, []string{query.DisplayState(v.State), money(v.Amount), num(v.Transactions), v.AmountPerTransaction.StringFixed(2)})
	}
	return res, nil
}

func runQuarterlyTrends(ctx context.Context, s *query.Service, f query.Filter, _ int) (result, error) {
	vs, err := s.QuarterlyTrends(ctx, f)
	if err != nil {
		return result{}, err
	}
	res := result{value: vs, header: []string{"PERIOD", "TOTAL_AMOUNT", "TRANSACTIONS"}}
	for _, v := range vs {
		res.rows = append(res.rows, []string{fmt.Sprintf("%d-Q%d", v.Year, v.Quarter), money(v.Amount), num(v.Transactions)})
	}
	return res, nil
}

func runTransactionTypes(ctx context.Context, s *query.Service, f query.Filter, _ int) (result, error) {
	vs, err := s.TransactionTypes(ctx, f)
	if err != nil {
		return result{}, err
	}
	res := result{value: vs, header: []string{"TYPE", "TOTAL_AMOUNT", "TRANSACTIONS"}}
	for _, v := range vs {
		res.rows = append(res.rows, []string{v.Type, money(v.Amount), num(v.Transactions)})
	}
	return res, nil
}

func runDevices(ctx context.Context, s *query.Service, f query.Filter, _ int) (result, error) {
	vs, err := s.DeviceDistribution(ctx, f)
	if err != nil {
		return result{}, err
	}
	res := result{value: vs, header: []string{"BRAND", "USERS", "AVG_PERCENTAGE"}}
	for _, v := range vs {
		res.rows = append(res.rows, []string{v.Brand, num(v.Users), strconv.FormatFloat(v.AvgPercentage, 'f', 4, 64)})
	}
	return res, nil
}

func runInsurance(ctx context.Context, s *query.Service, f query.Filter, _ int) (result, error) {
	vs, err := s.InsuranceByState(ctx, f)
	if err != nil {
		return result{}, err
	}
	res := result{value: vs, header: []string{"STATE", "INSURANCE_AMOUNT", "POLICIES"}}
	for _, v := range vs {
		res.rows = append(res.rows, []string{query.DisplayState(v.State), money(v.Amount), num(v.Count)})
	}
	return res, nil
}

func runTopDistricts(ctx context.Context, s *query.Service, f query.Filter, limit int) (result, error) {
	vs, err := s.TopDistricts(ctx, f, limit)
	if err != nil {
		return result{}, err
	}
	res := result{value: vs, header: []string{"DISTRICT", "TOTAL_AMOUNT", "TRANSACTIONS"}}
	for _, v := range vs {
		res.rows = append(res.rows, []string{v.District, money(v.Amount), num(v.Transactions)})
	}
	return res, nil
}

func runRegisteredUsers(ctx context.Context, s *query.Service, f query.Filter, limit int) (result, error) {
	vs, err := s.RegisteredUsersByState(ctx, f, limit)
	if err != nil {
		return result{}, err
	}
	res := result{value: vs, header: []string{"STATE", "REGISTERED_USERS", "APP_OPENS", "ENGAGEMENT", "OPENS_PER_USER"}}
	for _, v := range vs {
		res.rows = append(res.rows, []string{
			query.DisplayState(v.State), num(v.RegisteredUsers), num(v.AppOpens),
			strconv.FormatFloat(v.EngagementRate, 'f', 4, 64), v.OpensPerUser.StringFixed(2),
		})
	}
	return res, nil
}
