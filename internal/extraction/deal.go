package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"saledrop-pipeline/internal/llm"
	"saledrop-pipeline/internal/models"
)

// ErrInvalidTitle marks an extraction whose title fails validation
var ErrInvalidTitle = errors.New("extraction: invalid title")

// Deal is the structured data extracted from one email
type Deal struct {
	IsSale          bool             `json:"is_sale_mail"`
	IsPersonal      bool             `json:"is_personal_deal"`
	Title           string           `json:"title"`
	Grabber         string           `json:"grabber"`
	Description     string           `json:"description"`
	MainLink        string           `json:"main_link"`
	Products        []models.Product `json:"highlighted_products"`
	DealProbability float64          `json:"deal_probability"`
	IsNewDealBetter bool             `json:"is_new_deal_better"`
}

// HasLink reports whether the model returned a usable main link
func (d *Deal) HasLink() bool {
	return d.MainLink != "" && d.MainLink != Placeholder &&
		(strings.HasPrefix(d.MainLink, "http://") || strings.HasPrefix(d.MainLink, "https://"))
}

// ParseDeal decodes and structurally validates a model response. A missing
// title is left empty for Validate to reject, other missing strings become
// the placeholder, a missing probability becomes 0 and a
// missing novelty flag becomes true. Type mismatches and missing required
// booleans return an error wrapping llm.ErrMalformed.
func ParseDeal(raw string) (*Deal, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformed, err)
	}

	d := &Deal{}
	var err error
	if d.IsSale, err = requiredBool(doc, "is_sale_mail"); err != nil {
		return nil, err
	}
	if d.IsPersonal, err = requiredBool(doc, "is_personal_deal"); err != nil {
		return nil, err
	}
	if d.IsNewDealBetter, err = optionalBool(doc, "is_new_deal_better", true); err != nil {
		return nil, err
	}

	if d.Title, err = requiredString(doc, "title"); err != nil {
		return nil, err
	}

	for key, dst := range map[string]*string{
		"grabber":     &d.Grabber,
		"description": &d.Description,
		"main_link":   &d.MainLink,
	} {
		if *dst, err = optionalString(doc, key); err != nil {
			return nil, err
		}
	}

	switch v := doc["deal_probability"].(type) {
	case nil:
		d.DealProbability = 0
	case float64:
		d.DealProbability = clamp(v)
	default:
		return nil, fmt.Errorf("%w: deal_probability is %T", llm.ErrMalformed, v)
	}

	if d.Products, err = parseProducts(doc["highlighted_products"]); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks a parsed deal before it is stored
func Validate(d *Deal, maxTitleWords int) error {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTitle)
	}
	if words := len(strings.Fields(title)); words > maxTitleWords {
		return fmt.Errorf("%w: %d words exceeds %d (%q)", ErrInvalidTitle, words, maxTitleWords, title)
	}
	return nil
}

func parseProducts(v any) ([]models.Product, error) {
	if v == nil {
		return []models.Product{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: highlighted_products is %T", llm.ErrMalformed, v)
	}

	products := make([]models.Product, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: highlighted_products[%d] is %T", llm.ErrMalformed, i, item)
		}
		var p models.Product
		var err error
		for key, dst := range map[string]*string{
			"title":             &p.Title,
			"new_price":         &p.NewPrice,
			"old_price":         &p.OldPrice,
			"product_image_url": &p.ImageURL,
			"link":              &p.Link,
		} {
			if *dst, err = optionalString(obj, key); err != nil {
				return nil, err
			}
		}
		products = append(products, p)
	}
	return products, nil
}

func requiredBool(doc map[string]any, key string) (bool, error) {
	v, ok := doc[key].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", llm.ErrMalformed, key)
	}
	return v, nil
}

func optionalBool(doc map[string]any, key string, def bool) (bool, error) {
	switch v := doc[key].(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	default:
		return false, fmt.Errorf("%w: %s is %T", llm.ErrMalformed, key, v)
	}
}

// requiredString returns "" for an absent or blank value
func requiredString(doc map[string]any, key string) (string, error) {
	switch v := doc[key].(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	default:
		return "", fmt.Errorf("%w: %s is %T", llm.ErrMalformed, key, v)
	}
}

func optionalString(doc map[string]any, key string) (string, error) {
	switch v := doc[key].(type) {
	case nil:
		return Placeholder, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return Placeholder, nil
		}
		return strings.TrimSpace(v), nil
	default:
		return "", fmt.Errorf("%w: %s is %T", llm.ErrMalformed, key, v)
	}
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
