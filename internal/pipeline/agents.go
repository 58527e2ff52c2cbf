package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// discountRate is the placeholder cost of capital used by the DCF.
const discountRate = 0.10

func numParam(v task.View, name string, def float64) (float64, error) {
	raw := v.Param(name, "")
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, task.Permanent(fmt.Errorf("param %s: %w", name, err))
	}
	return f, nil
}

func num(d section.Data, path string, def float64) float64 {
	if v, ok := section.Lookup(d, path); ok {
		if n, ok := section.Number(v); ok {
			return n
		}
	}
	return def
}

// round2 keeps the placeholder figures readable.
func round2(f float64) float64 { return math.Round(f*100) / 100 }

func companyProfile(_ context.Context, v task.View) (task.Result, error) {
	company := v.Param("company", "")
	if company == "" {
		return task.Result{}, task.Permanent(errors.New("param company is required"))
	}
	shares, err := numParam(v, "shares", 100)
	if err != nil {
		return task.Result{}, err
	}
	return task.Result{Data: section.Data{
		"name":               company,
		"sector":             v.Param("sector", "general"),
		"shares_outstanding": shares,
	}}, nil
}

func financials(_ context.Context, v task.View) (task.Result, error) {
	revenue, err := numParam(v, "revenue", 1000)
	if err != nil {
		return task.Result{}, err
	}
	netDebt, err := numParam(v, "net_debt", 200)
	if err != nil {
		return task.Result{}, err
	}
	return task.Result{Data: section.Data{
		"revenue":  revenue,
		"ebitda":   round2(revenue * 0.2),
		"net_debt": netDebt,
	}}, nil
}

func marketResearch(_ context.Context, v task.View) (task.Result, error) {
	growth, err := numParam(v, "growth", 0.05)
	if err != nil {
		return task.Result{}, err
	}
	if growth >= discountRate {
		return task.Result{}, task.Permanent(fmt.Errorf("growth %v must stay below the discount rate %v", growth, discountRate))
	}
	return task.Result{Data: section.Data{"growth": growth, "source": "market model"}}, nil
}

func competitors(_ context.Context, v task.View) (task.Result, error) {
	return task.Result{Data: section.Data{
		"peers":     []any{v.Param("company", "") + " peer A", v.Param("company", "") + " peer B"},
		"ev_ebitda": 10.0,
	}}, nil
}

func dcfValuation(_ context.Context, v task.View) (task.Result, error) {
	fin, ok := v.Section(Financials)
	if !ok {
		return task.Result{}, task.Permanent(errors.New("financials section missing"))
	}
	market, _ := v.Section(MarketResearch)
	ebitda := num(fin, "ebitda", 0)
	growth := num(market, "growth", 0.02)
	ev := round2(ebitda * (1 + growth) / (discountRate - growth))
	return task.Result{Data: section.Data{
		"enterprise_value": ev,
		"growth":           growth,
		"discount_rate":    discountRate,
	}}, nil
}

func comparables(_ context.Context, v task.View) (task.Result, error) {
	fin, ok := v.Section(Financials)
	if !ok {
		return task.Result{}, task.Permanent(errors.New("financials section missing"))
	}
	comps, _ := v.Section(Competitors)
	multiple := num(comps, "ev_ebitda", 8)
	return task.Result{Data: section.Data{
		"enterprise_value": round2(num(fin, "ebitda", 0) * multiple),
		"multiple":         multiple,
	}}, nil
}

func riskAssessment(_ context.Context, v task.View) (task.Result, error) {
	score := 0.3
	if v.Param("sector", "") == "biotech" {
		score = 0.7
	}
	return task.Result{Data: section.Data{
		"score":   score,
		"factors": []any{"market", "execution"},
	}}, nil
}

// synthesize consolidates every available section into the single source of
// truth. The output depends only on section contents, never on the order
// tasks finished in.
func synthesize(_ context.Context, v task.View) (task.Result, error) {
	dcf, ok := v.Section(DCFValuation)
	if !ok {
		return task.Result{}, task.Permanent(errors.New("dcf_valuation section missing"))
	}
	profile, _ := v.Section(CompanyProfile)
	fin, _ := v.Section(Financials)

	ev := num(dcf, "enterprise_value", 0)
	bear, bull := round2(ev*0.8), round2(ev*1.2)
	if comps, ok := v.Section(Comparables); ok && !v.UsedFallback(Comparables) {
		c := num(comps, "enterprise_value", ev)
		bear = round2(math.Min(bear, c))
		bull = round2(math.Max(bull, c))
	}
	netDebt := num(fin, "net_debt", 0)
	equity := round2(ev - netDebt)
	shares := num(profile, "shares_outstanding", 0)

	out := section.Data{
		"company":          profile["name"],
		"enterprise_value": ev,
		"net_debt":         netDebt,
		"equity_value":     equity,
		"scenarios":        map[string]any{"bear": bear, "base": ev, "bull": bull},
		"recommendation":   recommend(v, equity, shares),
	}
	if shares > 0 {
		out["shares_outstanding"] = shares
		out["share_price"] = round2(equity / shares)
	}

	var sources []string
	for _, name := range v.Names() {
		if !v.UsedFallback(name) {
			sources = append(sources, name)
		}
	}
	slices.Sort(sources)
	list := make([]any, len(sources))
	for i, s := range sources {
		list[i] = s
	}
	out["sources"] = list
	return task.Result{Data: out}, nil
}

// recommend compares the implied share price with the market price param.
func recommend(v task.View, equity, shares float64) string {
	price, err := numParam(v, "price", 0)
	if err != nil || price <= 0 || shares <= 0 {
		return "hold"
	}
	implied := equity / shares
	switch {
	case price < implied*0.9:
		return "buy"
	case price > implied*1.1:
		return "sell"
	default:
		return "hold"
	}
}
