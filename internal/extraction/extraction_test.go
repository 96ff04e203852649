package extraction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/llm"
)

// scriptedModel returns its responses in order, repeating the last one
type scriptedModel struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (m *scriptedModel) GenerateJSON(_ context.Context, prompt string, _ *genai.Schema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	return m.responses[i], err
}

func testConfig() config.ExtractionConfig {
	return config.ExtractionConfig{MaxRetries: 3, MaxBodyChars: 10000, MaxTitleWords: 8}
}

const validResponse = `{
	"is_sale_mail": true,
	"is_personal_deal": false,
	"title": "Zomersale tot 50%",
	"grabber": "Alles moet weg",
	"description": "Tot 50% korting op de zomercollectie.",
	"main_link": "https://click.brand.nl/track?id=1",
	"highlighted_products": [{"title": "Jurk", "new_price": "19.99", "old_price": "39.99", "product_image_url": "https://img/1.jpg", "link": "https://brand.nl/jurk"}],
	"deal_probability": 0.97,
	"is_new_deal_better": false
}`

func TestExtractRetryCeilingOnEmptyContent(t *testing.T) {
	model := &scriptedModel{responses: []string{""}, errs: []error{llm.ErrEmptyResponse}}
	client := NewClient(model, testConfig())

	out := client.Extract(context.Background(), "<html><body>hi</body></html>", "")

	assert.False(t, out.Success)
	assert.Nil(t, out.Data)
	assert.Equal(t, 3, model.calls)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, llm.CategoryAPIFailure, out.Category)
	assert.NotEmpty(t, out.Error)
}

func TestExtractSuccess(t *testing.T) {
	model := &scriptedModel{responses: []string{validResponse}}
	client := NewClient(model, testConfig())

	out := client.Extract(context.Background(), `<html><head><style>p{}</style></head><body><p class="x">Sale</p></body></html>`, "- Titel: Oude sale | Grabber: Nu 20%")

	require.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "Zomersale tot 50%", out.Data.Title)
	assert.InDelta(t, 0.97, out.Data.DealProbability, 1e-9)
	assert.False(t, out.Data.IsNewDealBetter)
	require.Len(t, out.Data.Products, 1)
	assert.Equal(t, "19.99", out.Data.Products[0].NewPrice)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "Oude sale")
	assert.Contains(t, model.prompts[0], "<p>Sale</p>")
	assert.NotContains(t, model.prompts[0], "class=")
}

func TestExtractRetriesMalformedThenSucceeds(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"is_sale_mail": "yes"}`, "not json", validResponse}}
	client := NewClient(model, testConfig())

	out := client.Extract(context.Background(), "<p>x</p>", "")

	require.True(t, out.Success)
	assert.Equal(t, 3, out.Attempts)
}

func TestExtractDoesNotRetryAuthFailure(t *testing.T) {
	model := &scriptedModel{responses: []string{""}, errs: []error{errors.Join(llm.ErrUnauthorized, errors.New("Error 401"))}}
	client := NewClient(model, testConfig())

	out := client.Extract(context.Background(), "<p>x</p>", "")

	assert.False(t, out.Success)
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, llm.CategoryAuth, out.Category)
}

func TestExtractSizeWarning(t *testing.T) {
	model := &scriptedModel{responses: []string{validResponse}}
	cfg := testConfig()
	cfg.MaxBodyChars = 20
	client := NewClient(model, cfg)

	out := client.Extract(context.Background(), "<p>"+strings.Repeat("a", 100)+"</p>", "")

	assert.True(t, out.Success)
	assert.True(t, out.SizeWarning)
}

func TestParseDealDefaults(t *testing.T) {
	d, err := ParseDeal(`{"is_sale_mail": false, "is_personal_deal": false, "deal_probability": 1.7}`)
	require.NoError(t, err)

	assert.Empty(t, d.Title)
	assert.Equal(t, Placeholder, d.Grabber)
	assert.Equal(t, Placeholder, d.MainLink)
	assert.True(t, d.IsNewDealBetter)
	assert.Equal(t, 1.0, d.DealProbability)
	assert.Empty(t, d.Products)
	assert.False(t, d.HasLink())

	d, err = ParseDeal(`{"is_sale_mail": true, "is_personal_deal": true}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.DealProbability)
}

func TestParseDealRejectsWrongTypes(t *testing.T) {
	for _, raw := range []string{
		`{"is_personal_deal": false}`,
		`{"is_sale_mail": true, "is_personal_deal": false, "title": 5}`,
		`{"is_sale_mail": true, "is_personal_deal": false, "deal_probability": "high"}`,
		`{"is_sale_mail": true, "is_personal_deal": false, "highlighted_products": {}}`,
		`[1,2,3]`,
	} {
		_, err := ParseDeal(raw)
		assert.ErrorIs(t, err, llm.ErrMalformed, raw)
	}
}

func TestMissingTitleIsDiscarded(t *testing.T) {
	d, err := ParseDeal(`{"is_sale_mail": true, "is_personal_deal": false, "deal_probability": 0.99}`)
	require.NoError(t, err)
	assert.ErrorIs(t, Validate(d, 8), ErrInvalidTitle)

	d, err = ParseDeal(`{"is_sale_mail": true, "is_personal_deal": false, "title": "  "}`)
	require.NoError(t, err)
	assert.ErrorIs(t, Validate(d, 8), ErrInvalidTitle)

	d, err = ParseDeal(`{"is_sale_mail": false, "is_personal_deal": false, "title": "N/A"}`)
	require.NoError(t, err)
	assert.NoError(t, Validate(d, 8))
}

func TestValidateTitle(t *testing.T) {
	assert.NoError(t, Validate(&Deal{Title: "Zomersale tot 50%"}, 8))
	assert.NoError(t, Validate(&Deal{Title: "een twee drie vier vijf zes zeven acht"}, 8))
	assert.ErrorIs(t, Validate(&Deal{Title: "een twee drie vier vijf zes zeven acht negen"}, 8), ErrInvalidTitle)
	assert.ErrorIs(t, Validate(&Deal{Title: "   "}, 8), ErrInvalidTitle)
}

func TestShrinkHTML(t *testing.T) {
	got := ShrinkHTML(`<html><head><title>t</title></head><body style="margin:0"><div class="a" id="k"><script>x()</script><!-- c --><b style="color:red">Sale</b></div></body></html>`)
	assert.Equal(t, `<body><div id="k"><b>Sale</b></div></body>`, got)

	assert.Equal(t, "<body>plain text</body>", ShrinkHTML("plain text"))
}

func TestBuildPromptNoHistory(t *testing.T) {
	p := BuildPrompt("<body>x</body>", "")
	assert.Contains(t, p, NoHistoryHint)
	assert.Contains(t, p, "'N/A'")
}
