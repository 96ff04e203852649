package extraction

import (
	"fmt"
	"strings"
)

// Placeholder is written by the model for fields absent from the mail
const Placeholder = "N/A"

const promptTemplate = `Analyseer de onderstaande marketingmail van een webwinkel.

Bepaal:
- is_sale_mail: of de mail een echte sale of korting aankondigt.
- is_personal_deal: of de korting alleen voor deze ontvanger geldt (verjaardag, welkomstcode, persoonlijke code).
- title: een titel van maximaal 5 woorden.
- grabber: een korte pakkende zin van maximaal 8 woorden.
- description: een samenvatting van maximaal 3 zinnen.
- main_link: de link die naar de sale leidt.
- highlighted_products: de uitgelichte producten met prijzen, afbeelding en link.
- deal_probability: de kans tussen 0 en 1 dat dit een echte sale is.
- is_new_deal_better: of deze deal nieuw of beter is dan de vorige deals hieronder.

Als een variabele er niet is, gebruik dan '%s'.

%s

E-mail:
%s`

// BuildPrompt renders the extraction prompt for a shrunk body and the
// novelty context of the sending store
func BuildPrompt(body, contextHint string) string {
	contextHint = strings.TrimSpace(contextHint)
	if contextHint == "" {
		contextHint = NoHistoryHint
	}
	return fmt.Sprintf(promptTemplate, Placeholder, contextHint, body)
}

// NoHistoryHint tells the model there is nothing to compare against
const NoHistoryHint = "Er zijn geen eerdere deals van deze winkel bekend. Zet is_new_deal_better op true."
