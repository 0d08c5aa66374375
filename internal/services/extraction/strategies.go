package extraction

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// Strategy is one structural approach to pulling relationship records out of
// a rendered list page. Strategies are tried in priority order; a structural
// mismatch falls through to the next, and only when every strategy misses
// does the iteration fail.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, tenantID string) []*models.Record
}

// Extractor runs the prioritized strategy list over a page.
type Extractor struct {
	strategies []Strategy
	logger     arbor.ILogger
}

// NewExtractor creates an extractor with the default strategy order: the
// current card markup first, the older list-item markup second, and a
// last-resort anchor heuristic for partially rendered pages.
func NewExtractor(logger arbor.ILogger) *Extractor {
	return &Extractor{
		strategies: []Strategy{
			&cardStrategy{},
			&listItemStrategy{},
			&anchorHeuristicStrategy{},
		},
		logger: logger,
	}
}

// Extract parses the page and returns records from the first strategy whose
// structure matches, plus that strategy's name for diagnostics.
func (e *Extractor) Extract(html, tenantID string) ([]*models.Record, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse page: %w", err)
	}

	for _, strategy := range e.strategies {
		records := strategy.Extract(doc, tenantID)
		if records != nil {
			e.logger.Debug().
				Str("strategy", strategy.Name()).
				Int("records", len(records)).
				Msg("Extraction strategy matched")
			return records, strategy.Name(), nil
		}
	}

	return nil, "", models.NewPipelineError(models.ErrorKindExtractionStructural, "extract page",
		fmt.Errorf("all %d extraction strategies missed", len(e.strategies)))
}

// newRecord builds a record from extracted fields, deriving the dedup key
// from the canonical profile reference. Entries without a profile reference
// are dropped: a display name alone is not a safe identity.
func newRecord(tenantID, name, headline, organization, relDate, profileRef string) *models.Record {
	profileRef = strings.TrimSpace(profileRef)
	if profileRef == "" {
		return nil
	}
	return &models.Record{
		DedupKey:         models.DedupKeyFromProfileRef(profileRef),
		TenantID:         tenantID,
		DisplayName:      strings.TrimSpace(name),
		Headline:         strings.TrimSpace(headline),
		Organization:     strings.TrimSpace(organization),
		RelationshipDate: strings.TrimSpace(relDate),
		ProfileRef:       profileRef,
		ExtractedAt:      time.Now(),
	}
}

// cardStrategy handles the current connection-card markup.
type cardStrategy struct{}

func (s *cardStrategy) Name() string { return "card" }

func (s *cardStrategy) Extract(doc *goquery.Document, tenantID string) []*models.Record {
	cards := doc.Find("li.connection-card")
	if cards.Length() == 0 {
		return nil
	}

	var records []*models.Record
	cards.Each(func(_ int, card *goquery.Selection) {
		href, _ := card.Find("a.connection-card__link").Attr("href")
		record := newRecord(
			tenantID,
			card.Find("span.connection-card__name").Text(),
			card.Find("span.connection-card__occupation").Text(),
			card.Find("span.connection-card__company").Text(),
			card.Find("time.connection-card__date").Text(),
			href,
		)
		if record != nil {
			records = append(records, record)
		}
	})
	return records
}

// listItemStrategy handles the older entity list markup the platform still
// serves to a fraction of sessions.
type listItemStrategy struct{}

func (s *listItemStrategy) Name() string { return "list_item" }

func (s *listItemStrategy) Extract(doc *goquery.Document, tenantID string) []*models.Record {
	items := doc.Find("li[data-entity-ref]")
	if items.Length() == 0 {
		return nil
	}

	var records []*models.Record
	items.Each(func(_ int, item *goquery.Selection) {
		href, ok := item.Attr("data-entity-ref")
		if !ok {
			href, _ = item.Find("a").First().Attr("href")
		}
		record := newRecord(
			tenantID,
			item.Find(".entity__name").Text(),
			item.Find(".entity__headline").Text(),
			item.Find(".entity__org").Text(),
			item.Find(".entity__since").Text(),
			href,
		)
		if record != nil {
			records = append(records, record)
		}
	})
	return records
}

// anchorHeuristicStrategy is the last resort for partially rendered pages:
// any profile anchor with visible text becomes a minimal record. Fields
// beyond the name are left empty for a later observation to merge in.
type anchorHeuristicStrategy struct{}

func (s *anchorHeuristicStrategy) Name() string { return "anchor_heuristic" }

func (s *anchorHeuristicStrategy) Extract(doc *goquery.Document, tenantID string) []*models.Record {
	anchors := doc.Find("a[href*='/profile/']")
	if anchors.Length() == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var records []*models.Record
	anchors.Each(func(_ int, anchor *goquery.Selection) {
		href, _ := anchor.Attr("href")
		name := strings.TrimSpace(anchor.Text())
		if name == "" || seen[href] {
			return
		}
		seen[href] = true
		if record := newRecord(tenantID, name, "", "", "", href); record != nil {
			records = append(records, record)
		}
	})
	return records
}
