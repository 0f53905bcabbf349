package services

import (
	"strings"
	"unicode"

	"stylistapi/models"
)

var colorKeywords = map[string]bool{
	"black": true, "white": true, "gray": true, "grey": true, "navy": true,
	"blue": true, "red": true, "green": true, "yellow": true, "orange": true,
	"purple": true, "pink": true, "brown": true, "beige": true, "tan": true,
	"burgundy": true, "maroon": true, "charcoal": true, "olive": true,
	"khaki": true, "cream": true, "ivory": true,
}

// wardrobe categories accepted per outfit slot
var slotCategories = map[string][]string{
	"top":       {"top", "shirt", "t-shirt", "polo", "sweater", "blouse"},
	"bottom":    {"bottom", "trouser", "trousers", "pants", "jeans", "skirt"},
	"outerwear": {"outerwear", "blazer", "jacket", "coat", "cardigan"},
	"footwear":  {"footwear", "shoes", "sneakers", "boots"},
	"accessory": {"accessory", "belt", "scarf", "hat", "bag", "watch"},
}

// MatchWardrobe maps each suggested slot onto an owned item when one
// fits by category and color. Color is the primary requirement: an item
// without a known color never matches. Slots may stay unmatched.
func MatchWardrobe(outfit *OutfitSuggestion, items []models.WardrobeItem) map[string]*models.WardrobeItem {
	matches := make(map[string]*models.WardrobeItem)
	if outfit == nil || len(items) == 0 {
		return matches
	}
	slotTexts := map[string]string{
		"top":       strings.ToLower(outfit.Top),
		"bottom":    strings.ToLower(outfit.Bottom),
		"outerwear": strings.ToLower(outfit.Outerwear),
		"footwear":  strings.ToLower(outfit.Footwear),
		"accessory": strings.ToLower(outfit.Accessory),
	}

	for slot, text := range slotTexts {
		if text == "" {
			continue
		}
		suggestionColors := extractColors(text)
		for i := range items {
			item := &items[i]
			if !categoryFitsSlot(item.Category, slot) {
				continue
			}
			if itemColorMatches(item, text, suggestionColors) {
				matches[slot] = item
				break
			}
		}
	}
	return matches
}

func categoryFitsSlot(category, slot string) bool {
	c := strings.ToLower(strings.TrimSpace(category))
	for _, accepted := range slotCategories[slot] {
		if c == accepted {
			return true
		}
	}
	return false
}

func itemColorMatches(item *models.WardrobeItem, suggestion string, suggestionColors []string) bool {
	for _, itemColor := range item.Colors {
		color := strings.ToLower(strings.TrimSpace(itemColor))
		if color == "" || color == "unknown" {
			continue
		}
		// compound colors like "navy blue" match keyword by keyword
		for _, word := range strings.Fields(color) {
			for _, sc := range suggestionColors {
				if word == sc {
					return true
				}
			}
		}
		// colors outside the keyword list still match as whole words
		if containsWholeWord(suggestion, color) {
			return true
		}
	}
	return false
}

// extractColors pulls known color keywords out of a slot description,
// matching whole words only so "tan" is not read out of "tank top".
func extractColors(text string) []string {
	seen := map[string]bool{}
	var found []string
	for _, word := range splitWords(text) {
		if colorKeywords[word] && !seen[word] {
			seen[word] = true
			found = append(found, word)
		}
	}
	return found
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// containsWholeWord reports whether phrase occurs in text without being
// embedded in a longer word on either side.
func containsWholeWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for idx := strings.Index(text, phrase); idx != -1; {
		before := idx == 0 || !unicode.IsLetter(rune(text[idx-1]))
		end := idx + len(phrase)
		after := end >= len(text) || !unicode.IsLetter(rune(text[end]))
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], phrase)
		if next == -1 {
			break
		}
		idx += 1 + next
	}
	return false
}
