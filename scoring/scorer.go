// Package scoring ranks harvested items by engagement over age.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/brettboylen/reddit-harvester/models"
	"github.com/brettboylen/reddit-harvester/resolve"
)

// ApprovalPolicy selects where the approval ratio for the bonus comes from
type ApprovalPolicy string

const (
	// PolicyObserved applies the bonus only with a ratio read from the page
	PolicyObserved ApprovalPolicy = "observed"
	// PolicyEstimated falls back to score/(score+replies) when the page has no ratio
	PolicyEstimated ApprovalPolicy = "estimated"
	// PolicyOff never applies the bonus
	PolicyOff ApprovalPolicy = "off"
)

// ParsePolicy validates a policy name; empty selects PolicyObserved
func ParsePolicy(s string) (ApprovalPolicy, error) {
	switch p := ApprovalPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyObserved, nil
	case PolicyObserved, PolicyEstimated, PolicyOff:
		return p, nil
	default:
		return "", fmt.Errorf("unknown approval policy %q (want observed, estimated or off)", s)
	}
}

// Scorer computes engagement scores
type Scorer struct {
	CommentWeight     float64
	ApprovalBonus     float64
	ApprovalThreshold float64
	Policy            ApprovalPolicy
	// MinScore drops ranked items scoring below it; 0 keeps everything
	MinScore float64
}

// NewScorer returns a scorer with the standard weights
func NewScorer() *Scorer {
	return &Scorer{
		CommentWeight:     2,
		ApprovalBonus:     1.5,
		ApprovalThreshold: 0.8,
		Policy:            PolicyObserved,
	}
}

// AgeHours is the item's age in hours, never less than 1
func AgeHours(publishedAt, now time.Time) float64 {
	return math.Max(1, now.Sub(publishedAt).Hours())
}

// Score is (score + replies × weight) / ageHours, times the approval bonus when the
// ratio exceeds the threshold, rounded to one decimal
func (s *Scorer) Score(item models.EnrichedItem, now time.Time) float64 {
	raw := (float64(item.Score) + float64(item.ReplyCount)*s.CommentWeight) / AgeHours(item.PublishedAt, now)
	if ratio, ok := s.approval(item); ok && ratio > s.ApprovalThreshold {
		raw *= s.ApprovalBonus
	}
	return math.Round(raw*10) / 10
}

func (s *Scorer) approval(item models.EnrichedItem) (float64, bool) {
	switch s.Policy {
	case PolicyOff:
		return 0, false
	case PolicyEstimated:
		if item.ApprovalRatio != nil {
			return *item.ApprovalRatio, true
		}
		total := item.Score + item.ReplyCount
		if item.Score <= 0 || total <= 0 {
			return 0, false
		}
		return float64(item.Score) / float64(total), true
	default:
		if item.ApprovalRatio == nil {
			return 0, false
		}
		return *item.ApprovalRatio, true
	}
}

// Rank resolves publish times, scores every item and sorts descending by score. Ties
// keep discovery order. Items whose timestamp cannot be read are aged from fallback.
func (s *Scorer) Rank(items []models.EnrichedItem, now, fallback time.Time) []models.EnrichedItem {
	ranked := make([]models.EnrichedItem, 0, len(items))
	for _, item := range items {
		published, ok := resolve.ParseTimestamp(item.TimestampRaw, now)
		if !ok {
			published = fallback
		}
		item.PublishedAt = published
		item.AgeHours = AgeHours(published, now)
		item.EngagementScore = s.Score(item, now)
		if s.MinScore > 0 && item.EngagementScore < s.MinScore {
			continue
		}
		ranked = append(ranked, item)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].EngagementScore != ranked[j].EngagementScore {
			return ranked[i].EngagementScore > ranked[j].EngagementScore
		}
		return ranked[i].DiscoveryIndex < ranked[j].DiscoveryIndex
	})
	return ranked
}
