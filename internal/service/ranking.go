package service

import (
	"sort"
	"strings"
	"time"

	"github.com/roadcall/backend/internal/models"
)

// Scoring weights. The output is advisory notification order only; any
// eligible worker may still win the claim race.
const (
	keywordMatchPoints    = 15
	brandSpecialistPoints = 30
	brandTierPoints       = 5
	countryMatchPoints    = 25
	cityMatchPoints       = 35
	loadBonusBase         = 15
	loadBonusPerSession   = 5
	fairnessCap           = 10
	fairnessCapImmediate  = 5
)

// Rank filters and orders the worker snapshot against the request
// requirements. Hard filters drop ineligible workers; the remainder are
// scored and stable-sorted descending, ties broken by lower load, then by
// earlier last assignment, then by worker id so equal inputs always produce
// equal output.
func Rank(req models.Requirements, workers []models.WorkerProfile, now time.Time) []models.Candidate {
	keywords := ExtractKeywords(req.Concern)

	candidates := make([]models.Candidate, 0, len(workers))
	lastAssigned := make(map[string]*time.Time, len(workers))

	for i := range workers {
		w := &workers[i]
		if !eligible(req, w) {
			continue
		}

		score := 0
		var reasons []string

		if matched := keywordOverlap(keywords, w.ServiceKeywords); len(matched) > 0 {
			score += len(matched) * keywordMatchPoints
			reasons = append(reasons, "Expert in: "+strings.Join(matched, ", "))
		}

		isSpecialist := false
		if req.RequestedBrand != "" && hasBrand(w.BrandSpecialties, req.RequestedBrand) {
			isSpecialist = true
			score += brandSpecialistPoints + brandTierPoints*w.SpecialistTier
			reasons = append(reasons, req.RequestedBrand+" specialist")
		}

		isLocal := false
		if req.CustomerCountry != "" && strings.EqualFold(w.Country, req.CustomerCountry) {
			score += countryMatchPoints
			reasons = append(reasons, "Located in "+w.Country)
			if req.CustomerCity != "" && strings.EqualFold(w.City, req.CustomerCity) {
				isLocal = true
				score += cityMatchPoints
				reasons = append(reasons, "Local to "+w.City)
			}
		}

		if bonus := loadBonus(w.ActiveSessionCount); bonus > 0 {
			score += bonus
			if w.ActiveSessionCount == 0 {
				reasons = append(reasons, "No active sessions")
			}
		}

		if bonus := fairnessBonus(w.LastAssignedAt, req.Urgency, now); bonus > 0 {
			score += bonus
			if w.LastAssignedAt == nil {
				reasons = append(reasons, "Never assigned")
			}
		}

		lastAssigned[w.ID] = w.LastAssignedAt
		candidates = append(candidates, models.Candidate{
			WorkerID:     w.ID,
			Name:         w.Name,
			Score:        score,
			MatchReasons: reasons,
			IsSpecialist: isSpecialist,
			IsLocalMatch: isLocal,
			ActiveLoad:   w.ActiveSessionCount,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ActiveLoad != b.ActiveLoad {
			return a.ActiveLoad < b.ActiveLoad
		}
		la, lb := lastAssigned[a.WorkerID], lastAssigned[b.WorkerID]
		if !equalTimePtr(la, lb) {
			return beforeTimePtr(la, lb)
		}
		return a.WorkerID < b.WorkerID
	})
	return candidates
}

// eligible applies the hard filters: availability, certification when the
// request demands it, restricted-brand intersection for brand-scoped
// requests, and the per-worker concurrent session cap.
func eligible(req models.Requirements, w *models.WorkerProfile) bool {
	if !w.Available {
		return false
	}
	if req.RequiresCertification && !w.Certified {
		return false
	}
	if len(req.RestrictedBrands) > 0 && !brandsIntersect(w.BrandSpecialties, req.RestrictedBrands) {
		return false
	}
	if w.SessionCap > 0 && w.ActiveSessionCount >= w.SessionCap {
		return false
	}
	return true
}

// keywordOverlap counts requirement keywords the worker covers; substring
// containment either way counts as coverage.
func keywordOverlap(wanted, offered []string) []string {
	var matched []string
	for _, kw := range wanted {
		lk := strings.ToLower(kw)
		for _, off := range offered {
			lo := strings.ToLower(off)
			if strings.Contains(lo, lk) || strings.Contains(lk, lo) {
				matched = append(matched, kw)
				break
			}
		}
	}
	return matched
}

func hasBrand(specialties []string, brand string) bool {
	for _, s := range specialties {
		if strings.EqualFold(s, brand) {
			return true
		}
	}
	return false
}

func brandsIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// loadBonus rewards idle workers: 15 points at zero load, shrinking by 5
// per active session, floored at zero.
func loadBonus(active int) int {
	bonus := loadBonusBase - loadBonusPerSession*active
	if bonus < 0 {
		return 0
	}
	return bonus
}

// fairnessBonus rotates assignments toward workers who waited longest: one
// point per hour since last assignment, capped. Immediate requests cap lower
// so speed-relevant signals dominate. Never-assigned workers get the full
// cap.
func fairnessBonus(lastAssignedAt *time.Time, urgency models.Urgency, now time.Time) int {
	limit := fairnessCap
	if urgency == models.UrgencyImmediate {
		limit = fairnessCapImmediate
	}
	if lastAssignedAt == nil {
		return limit
	}
	hours := int(now.Sub(*lastAssignedAt).Hours())
	if hours < 0 {
		hours = 0
	}
	if hours > limit {
		return limit
	}
	return hours
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func beforeTimePtr(a, b *time.Time) bool {
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

// RequirementsFromRequest derives ranking input from a stored request.
// Certification is demanded for diagnostic work.
func RequirementsFromRequest(r *models.Request, country, city string) models.Requirements {
	return models.Requirements{
		ServiceType:           r.ServiceType,
		RequestedBrand:        r.RequestedBrand,
		RestrictedBrands:      r.RestrictedBrands,
		Concern:               r.Concern,
		Urgency:               r.Urgency,
		CustomerCountry:       country,
		CustomerCity:          city,
		RequiresCertification: r.ServiceType == models.ServiceDiagnostic,
	}
}
