package services

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"stylistapi/models"
)

func matcherOutfit() *OutfitSuggestion {
	return &OutfitSuggestion{
		Top:       "Navy striped shirt with a relaxed collar",
		Bottom:    "White chino trousers",
		Outerwear: "Light beige linen blazer",
		Footwear:  "White leather sneakers",
		Accessory: "Brown woven belt",
		Reasoning: "Crisp nautical look.",
	}
}

func TestMatchWardrobeByCategoryAndColor(t *testing.T) {
	items := []models.WardrobeItem{
		{Name: "Navy Polo", Category: "shirt", Colors: pq.StringArray{"navy"}},
		{Name: "White Chinos", Category: "trousers", Colors: pq.StringArray{"white"}},
		{Name: "Black Boots", Category: "boots", Colors: pq.StringArray{"black"}},
	}

	matches := MatchWardrobe(matcherOutfit(), items)
	assert.Equal(t, "Navy Polo", matches["top"].Name)
	assert.Equal(t, "White Chinos", matches["bottom"].Name)
	// black boots don't match the white sneakers suggestion
	assert.Nil(t, matches["footwear"])
	assert.Nil(t, matches["outerwear"])
}

func TestMatchWardrobeRequiresKnownColor(t *testing.T) {
	items := []models.WardrobeItem{
		{Name: "Mystery Shirt", Category: "shirt"},
		{Name: "Unknown Shirt", Category: "shirt", Colors: pq.StringArray{"unknown"}},
	}

	matches := MatchWardrobe(matcherOutfit(), items)
	assert.Nil(t, matches["top"])
}

func TestMatchWardrobeRejectsCategoryMismatch(t *testing.T) {
	items := []models.WardrobeItem{
		// navy matches the top text but a belt can't fill the top slot
		{Name: "Navy Belt", Category: "belt", Colors: pq.StringArray{"navy"}},
	}

	matches := MatchWardrobe(matcherOutfit(), items)
	assert.Nil(t, matches["top"])
	assert.Nil(t, matches["accessory"])
}

func TestMatchWardrobeCompoundColors(t *testing.T) {
	items := []models.WardrobeItem{
		{Name: "Navy Blue Oxford", Category: "shirt", Colors: pq.StringArray{"navy blue"}},
	}

	matches := MatchWardrobe(matcherOutfit(), items)
	assert.NotNil(t, matches["top"])
	assert.Equal(t, "Navy Blue Oxford", matches["top"].Name)
}

func TestMatchWardrobeMatchesWholeWordsOnly(t *testing.T) {
	outfit := &OutfitSuggestion{
		Top:      "White tank top",
		Footwear: "Tan suede loafers",
	}
	items := []models.WardrobeItem{
		// "tan" must not be read out of "tank top"
		{Name: "Tan Tee", Category: "shirt", Colors: pq.StringArray{"tan"}},
		{Name: "Tan Loafers", Category: "shoes", Colors: pq.StringArray{"tan"}},
		// nor should "tangerine" count as tan
		{Name: "Tangerine Sneakers", Category: "sneakers", Colors: pq.StringArray{"tangerine"}},
	}

	matches := MatchWardrobe(outfit, items)
	assert.Nil(t, matches["top"])
	assert.NotNil(t, matches["footwear"])
	assert.Equal(t, "Tan Loafers", matches["footwear"].Name)
}

func TestMatchWardrobeExoticColorWholePhrase(t *testing.T) {
	outfit := &OutfitSuggestion{Accessory: "Tangerine silk scarf"}
	items := []models.WardrobeItem{
		{Name: "Orange Scarf", Category: "scarf", Colors: pq.StringArray{"tangerine"}},
	}

	matches := MatchWardrobe(outfit, items)
	assert.NotNil(t, matches["accessory"])
}

func TestMatchWardrobeEmptyInputs(t *testing.T) {
	assert.Empty(t, MatchWardrobe(nil, []models.WardrobeItem{{Name: "x"}}))
	assert.Empty(t, MatchWardrobe(matcherOutfit(), nil))
}
