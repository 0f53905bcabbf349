package services

import (
	"fmt"
	"strings"
)

// WardrobePromptItem is one owned garment rendered into the prompt.
type WardrobePromptItem struct {
	Name        string
	Category    string
	Description string
	Colors      []string
}

// PromptSpec carries everything the composer layers into a prompt.
// Precedence, strongest first: hard constraints (wardrobe-only), soft
// preferences (free text replaces the structured filters entirely),
// situational context (occasion / season / location).
type PromptSpec struct {
	Occasion string
	Season   string
	Location string

	// free-form preference text; when non-empty the structured filters
	// below are ignored, never merged
	Preferences string
	Styles      []string
	Colors      []string
	Avoid       []string

	WardrobeItems []WardrobePromptItem
	WardrobeOnly  bool
}

// outfit slots every recommendation must fill
var OutfitSlots = []string{"top", "bottom", "outerwear", "footwear", "accessory"}

// ComposeAnalysisPrompt instructs the vision model to describe the
// uploaded garment precisely enough that a generation model receiving
// only the text can recreate it. Colors get the heaviest emphasis
// because generation models drift on them first.
func ComposeAnalysisPrompt() string {
	var b strings.Builder
	b.WriteString("You are analyzing a user's uploaded clothing image. The description will be used to recreate this EXACT clothing item on a model, by a system that cannot see the image. Be EXTREMELY specific about every visual detail, especially COLORS.\n\n")
	b.WriteString("START YOUR RESPONSE WITH A COLOR SUMMARY:\n")
	b.WriteString("PRIMARY COLOR: exact color name and shade (e.g. \"navy blue\", \"burgundy red\", \"charcoal gray\")\n")
	b.WriteString("SECONDARY COLORS: all other colors with exact shades\n\n")
	b.WriteString("THEN PROVIDE:\n")
	b.WriteString("1. ITEM TYPE: exactly what type of clothing this is\n")
	b.WriteString("2. EXACT COLORS: specific names with exact shade, never generic \"blue\" or \"red\"\n")
	b.WriteString("3. PATTERN DETAILS: solid, stripes, checks, plaid, dots; direction, width, spacing and colors of any pattern\n")
	b.WriteString("4. MATERIAL/TEXTURE: apparent material, surface texture, finish, fabric weight\n")
	b.WriteString("5. STYLE DETAILS: collar, buttons, pockets, cuffs, lapels, other design elements\n")
	b.WriteString("6. FIT AND CUT: apparent fit and cut\n")
	b.WriteString("7. DISTINCTIVE FEATURES: logos, embroidery, visible text quoted exactly\n\n")
	b.WriteString("Describe ONLY what you actually see. Do NOT suggest improvements or alternatives. Do NOT generalize.\n\n")
	b.WriteString("Respond in JSON format:\n")
	b.WriteString(`{
    "item_type": "what the garment is",
    "colors": ["each exact color shade"],
    "pattern": "pattern description or solid",
    "material": "apparent material and texture",
    "style_descriptors": ["collar/buttons/cut details"],
    "fit": "apparent fit"
}`)
	return b.String()
}

// ComposeRecommendationPrompt builds the stylist prompt around the
// analyzed garment.
func ComposeRecommendationPrompt(spec PromptSpec, analysis *GarmentAnalysis) string {
	var b strings.Builder
	b.WriteString("You are a professional fashion stylist. The user uploaded a garment, analyzed as:\n")
	if analysis != nil {
		fmt.Fprintf(&b, "- Item: %s\n- Colors: %s\n- Pattern: %s\n- Material: %s\n",
			analysis.ItemType, strings.Join(analysis.Colors, ", "), analysis.Pattern, analysis.Material)
	}
	b.WriteString("Build a complete outfit around this garment.\n")

	b.WriteString(wardrobeContext(spec))
	b.WriteString(preferenceContext(spec))
	b.WriteString(situationalContext(spec))

	b.WriteString("\nConsider color coordination, occasion appropriateness, style consistency and seasonal appropriateness.\n")
	b.WriteString("\nRespond in JSON format with the following structure:\n")
	b.WriteString(`{
    "top": "detailed description of the top (mention if from user's wardrobe)",
    "bottom": "detailed description of the bottom (mention if from user's wardrobe)",
    "outerwear": "detailed description of the outerwear (mention if from user's wardrobe)",
    "footwear": "detailed description of the footwear (mention if from user's wardrobe)",
    "accessory": "detailed description of the accessory (mention if from user's wardrobe)",
    "reasoning": "brief explanation of why this outfit works well together"
}`)
	b.WriteString("\nEvery field is required and must be a non-empty string.")
	return b.String()
}

// wardrobeContext is the hard-constraint layer. Wardrobe-only flips the
// wording from prioritizing owned items to forbidding anything else.
func wardrobeContext(spec PromptSpec) string {
	if len(spec.WardrobeItems) == 0 {
		return ""
	}
	var b strings.Builder
	if spec.WardrobeOnly {
		b.WriteString("\nCRITICAL CONSTRAINT: The user wants suggestions ONLY from their wardrobe. ")
		b.WriteString("You MUST NOT suggest any item that is not listed below. ")
		b.WriteString("Only recommend combinations using their existing items. ")
		b.WriteString("If they don't have a suitable item in a category, say 'Consider adding a [type] to your wardrobe' for that slot.\n\n")
	} else {
		b.WriteString("\nIMPORTANT: The user has the following items in their wardrobe. ")
		b.WriteString("PRIORITIZE using items from their wardrobe when possible. ")
		b.WriteString("Only suggest items they don't have if necessary for a complete outfit.\n\n")
	}
	b.WriteString("USER'S WARDROBE:\n")
	for _, item := range spec.WardrobeItems {
		desc := []string{}
		if item.Name != "" {
			desc = append(desc, "Name: "+item.Name)
		}
		if len(item.Colors) > 0 {
			desc = append(desc, "Colors: "+strings.Join(item.Colors, ", "))
		}
		if item.Description != "" {
			desc = append(desc, "Description: "+item.Description)
		}
		if len(desc) == 0 {
			desc = append(desc, item.Category+" item")
		}
		fmt.Fprintf(&b, "  - [%s] %s\n", strings.ToUpper(item.Category), strings.Join(desc, " | "))
	}
	if spec.WardrobeOnly {
		b.WriteString("\nWhen making recommendations:\n")
		b.WriteString("1. ONLY use items from the wardrobe list above\n")
		b.WriteString("2. Do NOT invent or suggest any item not listed\n")
		b.WriteString("3. Build the outfit by combining their existing items\n")
		b.WriteString("4. For categories with no suitable item, suggest they add one to their wardrobe\n")
	} else {
		b.WriteString("\nWhen making recommendations:\n")
		b.WriteString("1. FIRST check if the user has suitable items in their wardrobe\n")
		b.WriteString("2. If they have matching items, recommend using those (mention 'you already have...')\n")
		b.WriteString("3. Only suggest new items if their wardrobe doesn't have suitable options\n")
	}
	return b.String()
}

// preferenceContext is the soft layer. Free text wins outright over the
// structured filters.
func preferenceContext(spec PromptSpec) string {
	if strings.TrimSpace(spec.Preferences) != "" {
		return fmt.Sprintf("\nUser preferences: %s\n", strings.TrimSpace(spec.Preferences))
	}
	var parts []string
	if len(spec.Styles) > 0 {
		parts = append(parts, "preferred styles: "+strings.Join(spec.Styles, ", "))
	}
	if len(spec.Colors) > 0 {
		parts = append(parts, "preferred colors: "+strings.Join(spec.Colors, ", "))
	}
	if len(spec.Avoid) > 0 {
		parts = append(parts, "avoid: "+strings.Join(spec.Avoid, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("\nUser preferences: %s\n", strings.Join(parts, "; "))
}

func situationalContext(spec PromptSpec) string {
	var parts []string
	if spec.Occasion != "" {
		parts = append(parts, "occasion: "+spec.Occasion)
	}
	if spec.Season != "" {
		parts = append(parts, "season: "+spec.Season)
	}
	if spec.Location != "" {
		parts = append(parts, "location: "+spec.Location)
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("\nContext: %s\n", strings.Join(parts, "; "))
}

// ComposeGenerationPrompt builds the visualization prompt. The analyzed
// garment is restated verbatim with exact-match color rules because the
// image model never sees the original photo.
func ComposeGenerationPrompt(spec PromptSpec, outfit *OutfitSuggestion, analysis *GarmentAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Professional fashion photo: %s model, full body head to toe, single person, studio background.\n\n", LocationModelDescription(spec.Location))

	if analysis != nil {
		b.WriteString("ABSOLUTE PRIORITY: USER-UPLOADED GARMENT. The model MUST wear this EXACT garment, recreated with 100% accuracy - same colors, same patterns, same materials.\n\n")
		b.WriteString("GARMENT TO RECREATE (MATCH EXACTLY):\n")
		fmt.Fprintf(&b, "- Item: %s\n- Colors: %s\n- Pattern: %s\n- Material: %s\n",
			analysis.ItemType, strings.Join(analysis.Colors, ", "), analysis.Pattern, analysis.Material)
		if len(analysis.StyleDescriptors) > 0 {
			fmt.Fprintf(&b, "- Details: %s\n", strings.Join(analysis.StyleDescriptors, ", "))
		}
		b.WriteString("\nCRITICAL COLOR MATCHING RULES:\n")
		b.WriteString("- Use the EXACT colors listed above, never a similar or \"close enough\" color\n")
		b.WriteString("- Do NOT change the color shade or intensity\n")
		b.WriteString("- Preserve the pattern and material exactly as described\n\n")
	}

	b.WriteString("COMPLETE OUTFIT (ALL ITEMS MANDATORY, ALL VISIBLE):\n")
	fmt.Fprintf(&b, "- Top: %s\n", outfit.Top)
	fmt.Fprintf(&b, "- Bottom: %s\n", outfit.Bottom)
	fmt.Fprintf(&b, "- Outerwear: %s (MUST be worn over the top, clearly visible)\n", outfit.Outerwear)
	fmt.Fprintf(&b, "- Footwear: %s\n", outfit.Footwear)
	fmt.Fprintf(&b, "- Accessory: %s\n", outfit.Accessory)
	b.WriteString("\nFull body shot from head to feet showing the complete outfit on a single model, nobody else in frame. Professional fashion photography, high quality, realistic.")
	return b.String()
}

// StricterFormatPrompt wraps a prompt after a malformed model response.
func StricterFormatPrompt(prev string) string {
	return prev + "\n\nIMPORTANT: Your previous response could not be parsed. Respond with ONLY the JSON object described above. No markdown fences, no commentary, no text before or after the JSON. Every field must be present and non-empty."
}

// LocationModelDescription maps a free-text location onto a model
// appearance line so visualizations feel locally relatable.
func LocationModelDescription(location string) string {
	l := strings.ToLower(location)
	switch {
	case l == "":
		return "diverse, professional"
	case strings.Contains(l, "saudi") || strings.Contains(l, "ksa"):
		return "Saudi Arabian, Middle Eastern, Arab features, olive skin tone, dark hair"
	case strings.Contains(l, "uae") || strings.Contains(l, "united arab emirates") || strings.Contains(l, "dubai") || strings.Contains(l, "abu dhabi"):
		return "Emirati, Middle Eastern, Arab features, olive skin tone, dark hair"
	case strings.Contains(l, "middle east") || strings.Contains(l, "gulf") || strings.Contains(l, "gcc"):
		return "Middle Eastern, Arab features, olive to tan skin tone, dark hair"
	case strings.Contains(l, "usa") || strings.Contains(l, "united states") || strings.Contains(l, "america"):
		return "diverse American"
	case strings.Contains(l, "uk") || strings.Contains(l, "united kingdom") || strings.Contains(l, "britain"):
		return "British"
	case strings.Contains(l, "india") || strings.Contains(l, "pakistan"):
		return "South Asian"
	case strings.Contains(l, "japan"):
		return "Japanese"
	case strings.Contains(l, "korea"):
		return "Korean"
	case strings.Contains(l, "china"):
		return "East Asian"
	case strings.Contains(l, "africa"):
		return "African"
	case strings.Contains(l, "latin") || strings.Contains(l, "mexico") || strings.Contains(l, "brazil"):
		return "Latin American"
	case strings.Contains(l, "europe") || strings.Contains(l, "france") || strings.Contains(l, "germany") || strings.Contains(l, "italy") || strings.Contains(l, "spain"):
		return "European"
	default:
		return "diverse, professional"
	}
}
