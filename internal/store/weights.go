package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SiteWeights is the persisted per-site adaptive classifier weighting (§9).
type SiteWeights struct {
	SiteID   string
	LLM      float64
	Semantic float64
	Rules    float64
}

// GetWeights returns the stored weights for a site, or sql.ErrNoRows if the
// site has never had weights adapted away from the global defaults.
func (s *Store) GetWeights(siteID string) (SiteWeights, error) {
	var w SiteWeights
	w.SiteID = siteID
	row := s.db.QueryRow(`
		SELECT llm_weight, semantic_weight, rules_weight FROM classifier_weights WHERE site_id = ?`, siteID)
	if err := row.Scan(&w.LLM, &w.Semantic, &w.Rules); err != nil {
		if err == sql.ErrNoRows {
			return SiteWeights{}, sql.ErrNoRows
		}
		return SiteWeights{}, fmt.Errorf("get weights for site %s: %w", siteID, err)
	}
	return w, nil
}

// SetWeights upserts a site's adapted classifier weights.
func (s *Store) SetWeights(w SiteWeights) error {
	_, err := s.db.Exec(`
		INSERT INTO classifier_weights (site_id, llm_weight, semantic_weight, rules_weight, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			llm_weight = excluded.llm_weight,
			semantic_weight = excluded.semantic_weight,
			rules_weight = excluded.rules_weight,
			updated_at = excluded.updated_at`,
		w.SiteID, w.LLM, w.Semantic, w.Rules, time.Now())
	if err != nil {
		return fmt.Errorf("set weights for site %s: %w", w.SiteID, err)
	}
	return nil
}
