package audit

import (
	"sort"
	"sync"

	"github.com/isseis/go-gitup-guard/internal/guardtypes"
)

// CategoryCount represents a risk category and its occurrence count
type CategoryCount struct {
	Category guardtypes.RiskCategory
	Count    int
}

// RiskStatistics tracks findings by severity and category
type RiskStatistics struct {
	mu             sync.RWMutex
	totalFindings  int
	severityCounts map[guardtypes.Severity]int
	categoryCounts map[guardtypes.RiskCategory]int
	pathsBySev     map[guardtypes.Severity]map[string]bool
}

// NewRiskStatistics creates a new risk statistics tracker
func NewRiskStatistics() *RiskStatistics {
	return &RiskStatistics{
		severityCounts: make(map[guardtypes.Severity]int),
		categoryCounts: make(map[guardtypes.RiskCategory]int),
		pathsBySev:     make(map[guardtypes.Severity]map[string]bool),
	}
}

// StatisticsFor aggregates the open findings of a result.
func StatisticsFor(result *guardtypes.AssessmentResult) *RiskStatistics {
	s := NewRiskStatistics()
	if result != nil {
		for _, f := range result.Findings {
			s.RecordFinding(f)
		}
	}
	return s
}

// RecordFinding records one finding with its related categories.
func (s *RiskStatistics) RecordFinding(f guardtypes.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalFindings++
	s.severityCounts[f.Severity]++
	s.categoryCounts[f.Category]++
	for _, c := range f.RelatedCategories {
		if c != "" {
			s.categoryCounts[c]++
		}
	}

	if s.pathsBySev[f.Severity] == nil {
		s.pathsBySev[f.Severity] = make(map[string]bool)
	}
	s.pathsBySev[f.Severity][f.Path] = true
}

// TotalFindings returns the number of findings recorded
func (s *RiskStatistics) TotalFindings() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalFindings
}

// GetSeverityCounts returns the count of findings by severity
func (s *RiskStatistics) GetSeverityCounts() map[guardtypes.Severity]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[guardtypes.Severity]int, len(s.severityCounts))
	for sev, count := range s.severityCounts {
		counts[sev] = count
	}
	return counts
}

// GetTopCategories returns the most common categories up to the specified limit
func (s *RiskStatistics) GetTopCategories(limit int) []CategoryCount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CategoryCount, 0, len(s.categoryCounts))
	for c, count := range s.categoryCounts {
		out = append(out, CategoryCount{Category: c, Count: count})
	}

	// Sort by count (descending), then by name (ascending) for deterministic order
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})

	if limit > 0 && limit < len(out) {
		return out[:limit]
	}
	return out
}

// GetPathsBySeverity returns unique paths for a given severity
func (s *RiskStatistics) GetPathsBySeverity(sev guardtypes.Severity) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0)
	if m, ok := s.pathsBySev[sev]; ok {
		for p := range m {
			paths = append(paths, p)
		}
		sort.Strings(paths)
	}
	return paths
}
