package feasibility

import (
	"github.com/turtacn/TrialScope/internal/domain/protocol"
	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	extractor "github.com/turtacn/TrialScope/internal/intelligence/protocol_extractor"
	"github.com/turtacn/TrialScope/pkg/errors"
)

// PhoneHit is a phone number found on a page.
type PhoneHit struct {
	PageNumber int `json:"page_number"`
	extractor.PhoneMatch
}

// Phones lists the international phone numbers in doc, page by page.  It
// does not touch the dispatch engine or page markers.
func (s *Service) Phones(doc *protocol.Document) ([]PhoneHit, error) {
	if doc == nil {
		return nil, errors.InvalidParam("document must not be nil")
	}
	hits := []PhoneHit{}
	for _, p := range doc.Pages {
		for _, m := range extractor.FindPhoneNumbers(extractor.Tokenize(p.Content)) {
			hits = append(hits, PhoneHit{PageNumber: p.PageNumber, PhoneMatch: m})
		}
	}
	s.logger.Debug("phone scan finished", logging.Int("pages", len(doc.Pages)), logging.Int("numbers", len(hits)))
	return hits, nil
}
