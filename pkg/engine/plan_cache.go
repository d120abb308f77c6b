package engine

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dd0wney/cluso-query/pkg/exec"
	"github.com/dd0wney/cluso-query/pkg/metrics"
)

// StatementStats aggregates the executions of one statement text.
type StatementStats struct {
	Statement  string
	Executions int
	Failures   int
	Total      time.Duration
	Average    time.Duration
	LastCached bool
}

// PlanCache keeps plan templates keyed by statement text. A template is
// never pulled; callers receive copies.
type PlanCache struct {
	plans   *lru.Cache[string, *exec.Plan]
	metrics *metrics.Registry

	mu    sync.Mutex
	stats map[string]*StatementStats
}

// NewPlanCache creates a cache holding at most size plans. reg may be nil.
func NewPlanCache(size int, reg *metrics.Registry) (*PlanCache, error) {
	plans, err := lru.New[string, *exec.Plan](size)
	if err != nil {
		return nil, err
	}
	return &PlanCache{
		plans:   plans,
		metrics: reg,
		stats:   make(map[string]*StatementStats),
	}, nil
}

// Get returns a fresh copy of the plan cached for statement.
func (c *PlanCache) Get(statement string) (*exec.Plan, bool) {
	p, ok := c.plans.Get(statement)
	if c.metrics != nil {
		if ok {
			c.metrics.PlanCacheHits.Inc()
		} else {
			c.metrics.PlanCacheMisses.Inc()
		}
	}
	if !ok {
		return nil, false
	}
	return p.Copy(), true
}

// Put stores p as the template of statement. Plans that cannot be cached
// are ignored.
func (c *PlanCache) Put(statement string, p *exec.Plan) bool {
	if !p.CanBeCached() {
		return false
	}
	c.plans.Add(statement, p)
	c.updateGauge()
	return true
}

// Invalidate drops every cached plan. Statistics are kept.
func (c *PlanCache) Invalidate() {
	c.plans.Purge()
	c.updateGauge()
}

func (c *PlanCache) Len() int { return c.plans.Len() }

func (c *PlanCache) updateGauge() {
	if c.metrics != nil {
		c.metrics.PlanCacheEntries.Set(float64(c.plans.Len()))
	}
}

// RecordExecution adds one execution of statement to its statistics.
func (c *PlanCache) RecordExecution(statement string, d time.Duration, cached bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[statement]
	if !ok {
		s = &StatementStats{Statement: statement}
		c.stats[statement] = s
	}
	s.Executions++
	if err != nil {
		s.Failures++
	}
	s.Total += d
	s.Average = s.Total / time.Duration(s.Executions)
	s.LastCached = cached
}

// TopStatements returns up to limit statements, most executed first.
func (c *PlanCache) TopStatements(limit int) []StatementStats {
	c.mu.Lock()
	out := make([]StatementStats, 0, len(c.stats))
	for _, s := range c.stats {
		out = append(out, *s)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Executions != out[j].Executions {
			return out[i].Executions > out[j].Executions
		}
		return out[i].Statement < out[j].Statement
	})
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
