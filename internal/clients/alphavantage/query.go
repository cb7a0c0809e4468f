package alphavantage

import (
	"fmt"
	"net/url"

	"github.com/aristath/harvester/internal/domain"
)

// query is the request shape for one task
type query struct {
	params url.Values
	// dataKey is the top-level field whose absence or emptiness means "no data"
	dataKey string
}

func (c *Client) buildQuery(task domain.Task, cred domain.Credential) (query, error) {
	params := url.Values{}
	params.Set("apikey", string(cred))

	if task.Kind.HasPeriod() && task.Period == nil {
		return query{}, fmt.Errorf("task %s has no period", task)
	}

	switch task.Kind {
	case domain.KindOverview:
		params.Set("function", "OVERVIEW")
		params.Set("symbol", task.Entity)
		return query{params: params, dataKey: "Symbol"}, nil

	case domain.KindIncomeStatement:
		params.Set("function", "INCOME_STATEMENT")
		params.Set("symbol", task.Entity)
		return query{params: params, dataKey: "annualReports"}, nil

	case domain.KindBalanceSheet:
		params.Set("function", "BALANCE_SHEET")
		params.Set("symbol", task.Entity)
		return query{params: params, dataKey: "annualReports"}, nil

	case domain.KindCashFlow:
		params.Set("function", "CASH_FLOW")
		params.Set("symbol", task.Entity)
		return query{params: params, dataKey: "annualReports"}, nil

	case domain.KindIntraday:
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("symbol", task.Entity)
		params.Set("interval", c.interval)
		params.Set("month", task.Period.String())
		params.Set("outputsize", "full")
		return query{params: params, dataKey: "Time Series (" + c.interval + ")"}, nil

	case domain.KindNewsSentiment:
		params.Set("function", "NEWS_SENTIMENT")
		params.Set("tickers", task.Entity)
		params.Set("time_from", task.Period.FirstDay().Format("20060102")+"T0000")
		params.Set("time_to", task.Period.LastDay().Format("20060102")+"T2359")
		params.Set("sort", "RELEVANCE")
		params.Set("limit", "1000")
		return query{params: params, dataKey: "feed"}, nil
	}

	return query{}, fmt.Errorf("unsupported resource kind: %s", task.Kind)
}
