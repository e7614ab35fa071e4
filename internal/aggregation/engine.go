// Package aggregation rolls per-pick results into per-user and per-group statistics
// over every timeframe window.
package aggregation

import (
	"sort"
	"strconv"
	"time"

	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// Eligibility decides whether a pick counts towards statistics
type Eligibility interface {
	IsQualified(pick *models.TokenPick) bool
}

// Result holds the statistics of one cycle
type Result struct {
	GeneratedAt time.Time
	Users       map[string]*models.SubjectStats
	Groups      map[int64]*models.SubjectStats
	// Eligible are the qualified picks sorted by id, shared with the leaderboard builder
	Eligible []*models.TokenPick
}

// UserIDs returns the user ids in ascending order
func (r *Result) UserIDs() []string {
	ids := make([]string, 0, len(r.Users))
	for id := range r.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GroupIDs returns the group ids in ascending order
func (r *Result) GroupIDs() []int64 {
	ids := make([]int64, 0, len(r.Groups))
	for id := range r.Groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Engine computes window statistics
type Engine struct {
	eligibility Eligibility
	timeframes  []types.Timeframe
}

// NewEngine creates an aggregation engine over all timeframes
func NewEngine(eligibility Eligibility) *Engine {
	return &Engine{eligibility: eligibility, timeframes: types.AllTimeframes}
}

// Aggregate computes statistics for every user and group that owns at least one pick.
// Subjects whose picks are all ineligible, or fall outside a window, get zero stats for
// that window.
func (e *Engine) Aggregate(picks []*models.TokenPick, now time.Time) *Result {
	res := &Result{
		GeneratedAt: now,
		Users:       make(map[string]*models.SubjectStats),
		Groups:      make(map[int64]*models.SubjectStats),
	}

	byUser := make(map[string][]*models.TokenPick)
	byGroup := make(map[int64][]*models.TokenPick)
	for _, p := range picks {
		if _, ok := byUser[p.UserID]; !ok {
			byUser[p.UserID] = nil
		}
		if p.GroupID > 0 {
			if _, ok := byGroup[p.GroupID]; !ok {
				byGroup[p.GroupID] = nil
			}
		}
		if e.eligibility != nil && !e.eligibility.IsQualified(p) {
			continue
		}
		res.Eligible = append(res.Eligible, p)
		byUser[p.UserID] = append(byUser[p.UserID], p)
		if p.GroupID > 0 {
			byGroup[p.GroupID] = append(byGroup[p.GroupID], p)
		}
	}
	sort.Slice(res.Eligible, func(i, j int) bool { return res.Eligible[i].ID < res.Eligible[j].ID })

	for user, ps := range byUser {
		res.Users[user] = e.subjectStats(user, ps, now)
	}
	for group, ps := range byGroup {
		res.Groups[group] = e.subjectStats(strconv.FormatInt(group, 10), ps, now)
	}

	return res
}

func (e *Engine) subjectStats(subject string, picks []*models.TokenPick, now time.Time) *models.SubjectStats {
	stats := &models.SubjectStats{
		SubjectID: subject,
		Windows:   make(map[types.Timeframe]*models.WindowStats, len(e.timeframes)),
	}
	for _, tf := range e.timeframes {
		stats.Windows[tf] = ComputeWindow(tf, picks, now)
	}
	return stats
}

// ComputeWindow rolls up the picks called inside tf ending at now. Hit rate is a
// percentage; hit rate and average multiplier are rounded to two decimals. A pick
// without a multiplier yet contributes zero to the average.
func ComputeWindow(tf types.Timeframe, picks []*models.TokenPick, now time.Time) *models.WindowStats {
	w := &models.WindowStats{
		Timeframe:         tf,
		HitRate:           decimal.Zero,
		AverageMultiplier: decimal.Zero,
	}

	sum := decimal.Zero
	var best *models.TokenPick
	for _, p := range picks {
		if !tf.Contains(p.CallDate, now) {
			continue
		}
		w.TotalPicks++
		if p.IsHit() {
			w.Hits++
		}
		m := MultiplierOf(p)
		sum = sum.Add(m)
		if best == nil || betterPick(p, best) {
			best = p
		}
	}

	if w.TotalPicks == 0 {
		return w
	}

	total := decimal.NewFromInt(int64(w.TotalPicks))
	w.Misses = w.TotalPicks - w.Hits
	w.HitRate = decimal.NewFromInt(int64(w.Hits * 100)).Div(total).Round(2)
	w.AverageMultiplier = sum.Div(total).Round(2)
	w.BestPick = toBestPick(best)
	return w
}

// MultiplierOf returns the pick's highest multiplier, zero when undefined
func MultiplierOf(p *models.TokenPick) decimal.Decimal {
	if p.HighestMultiplier.Valid {
		return p.HighestMultiplier.Decimal
	}
	return decimal.Zero
}

// betterPick orders by multiplier desc, then earlier call, then lower id
func betterPick(a, b *models.TokenPick) bool {
	ma, mb := MultiplierOf(a), MultiplierOf(b)
	if !ma.Equal(mb) {
		return ma.GreaterThan(mb)
	}
	if !a.CallDate.Equal(b.CallDate) {
		return a.CallDate.Before(b.CallDate)
	}
	return a.ID < b.ID
}

func toBestPick(p *models.TokenPick) *models.BestPick {
	bp := &models.BestPick{
		PickID:       p.ID,
		TokenAddress: p.TokenAddress,
		Chain:        p.Chain,
		Multiplier:   MultiplierOf(p).Round(2),
		CallDate:     p.CallDate,
	}
	if p.Token != nil {
		bp.TokenSymbol = p.Token.Symbol
	}
	return bp
}

// SortByMultiplier orders picks best first using the same rule as best pick selection
func SortByMultiplier(picks []*models.TokenPick) {
	sort.SliceStable(picks, func(i, j int) bool { return betterPick(picks[i], picks[j]) })
}
