package extraction

import "google.golang.org/genai"

// DealSchema is the response contract requested from the model
func DealSchema() *genai.Schema {
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"is_sale_mail":       {Type: genai.TypeBoolean},
			"is_personal_deal":   {Type: genai.TypeBoolean},
			"title":              str(),
			"grabber":            str(),
			"description":        str(),
			"main_link":          str(),
			"deal_probability":   {Type: genai.TypeNumber},
			"is_new_deal_better": {Type: genai.TypeBoolean},
			"highlighted_products": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title":             str(),
						"new_price":         str(),
						"old_price":         str(),
						"product_image_url": str(),
						"link":              str(),
					},
					Required: []string{"title", "new_price", "old_price", "product_image_url", "link"},
				},
			},
		},
		Required: []string{
			"is_sale_mail", "is_personal_deal", "title", "grabber", "description",
			"main_link", "highlighted_products", "deal_probability", "is_new_deal_better",
		},
	}
}
