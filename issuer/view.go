package issuer

import (
	"strings"

	"github.com/coolbank/cardflow/internal/cardgen"
	"github.com/coolbank/cardflow/internal/expiry"
	"github.com/coolbank/cardflow/issuer/models"
)

func cardView(c *models.Card) models.CardView {
	return models.CardView{
		ID:                 c.ID,
		CardNumber:         c.CardNumber,
		MaskedNumber:       cardgen.MaskPAN(c.CardNumber),
		CardHolderFullName: c.CardHolderFullName,
		CardHolderID:       c.CardHolderID,
		AccountID:          c.AccountID,
		ExpirationDate:     expiry.FormatDate(c.ExpirationDate),
		CardFace:           formatCardFace(c),
		CVV:                c.CVV,
		Status:             c.Status,
		CreatedAt:          c.CreatedAt,
	}
}

// cardViews never returns nil so empty lists encode as [].
func cardViews(cards []*models.Card) []models.CardView {
	views := make([]models.CardView, 0, len(cards))
	for _, c := range cards {
		views = append(views, cardView(c))
	}
	return views
}

// formatCardFace returns "MM/YY NAME", upper-cased and cut to 26 characters
// like an embossed card.
func formatCardFace(c *models.Card) string {
	face := expiry.CardFace(c.ExpirationDate)
	if name := normalizeCardName(c.CardHolderFullName); name != "" {
		face += " " + name
	}
	return face
}

func normalizeCardName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	up := strings.ToUpper(strings.Join(strings.Fields(trimmed), " "))
	if r := []rune(up); len(r) > 26 {
		return string(r[:26])
	}
	return up
}
