package places

import (
	"math"
	"strings"
	"unicode"

	"roamgo/pkg/model"
)

// SentinelScore marks a result that is never tourism, whatever its rating.
const SentinelScore = -1000.0

// Category weights.
const (
	nonTouristPenalty   = -25.0
	highPriorityBonus   = 50.0
	touristBonus        = 25.0
	touristKeywordBonus = 10.0
	nonTouristKeyword   = -15.0
	photoBonus          = 2.0
	maxScoredPhotos     = 5
)

// Filter thresholds.
const (
	minHighPriorityRating = 3.0
	escapeHatchRating     = 4.5
)

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

var highPriorityTypes = set(
	"tourist_attraction", "museum", "art_gallery", "zoo", "aquarium",
	"amusement_park", "historical_landmark", "national_park",
)

var touristTypes = set(
	"park", "church", "place_of_worship", "mosque", "synagogue", "hindu_temple",
	"library", "city_hall", "stadium", "natural_feature", "cemetery",
	"botanical_garden", "historical_place", "monument", "observation_deck",
	"performing_arts_theater", "plaza", "castle", "cultural_landmark",
)

var nonTouristTypes = set(
	"parking", "gas_station", "car_wash", "car_repair", "car_dealer",
	"car_rental", "atm", "bank", "storage", "moving_company", "laundry",
	"convenience_store", "supermarket", "grocery_or_supermarket", "store",
	"hardware_store", "home_goods_store", "furniture_store", "electronics_store",
	"clothing_store", "shoe_store", "department_store", "liquor_store",
	"pharmacy", "drugstore", "doctor", "dentist", "hospital", "physiotherapist",
	"veterinary_care", "insurance_agency", "real_estate_agency", "lawyer",
	"accounting", "post_office", "police", "fire_station",
	"local_government_office", "school", "primary_school", "secondary_school",
	"gym", "hair_care", "beauty_salon", "electrician", "plumber",
	"roofing_contractor", "locksmith", "painter", "funeral_home", "lodging",
	"bus_station", "transit_station", "subway_station", "taxi_stand",
	"light_rail_station", "restaurant", "meal_takeaway", "meal_delivery",
)

var touristKeywords = []string{
	"historic", "heritage", "museum", "gallery", "monument", "memorial",
	"cathedral", "abbey", "basilica", "chapel", "palace", "castle", "tower",
	"bridge", "garden", "gardens", "viewpoint", "statue", "temple", "ruins",
	"fort", "old town", "landmark", "theatre", "opera", "square",
}

var nonTouristKeywords = []string{
	"parking", "car park", "garage", "atm", "petrol", "gas station",
	"car wash", "storage", "office", "clinic", "dental", "pharmacy",
	"supermarket", "laundry", "hostel", "insurance", "estate agent",
}

// strongNonTouristKeywords decide the sentinel together with a non-tourist type.
var strongNonTouristKeywords = []string{
	"parking", "car park", "garage", "atm", "petrol", "gas station",
	"car wash", "storage",
}

var redemptionKeywords = []string{
	"historic", "historical", "heritage", "ancient", "medieval", "listed",
	"museum", "monument", "memorial",
}

var redemptionTypes = set("historical_landmark", "historical_place", "museum", "tourist_attraction")

// nameBonuses match anywhere in the lowercased name, so compounds such as
// "Museumsinsel" or "Parkland Walk" count.
var nameBonuses = []struct {
	word  string
	bonus float64
}{
	{"museum", 15},
	{"castle", 20},
	{"cathedral", 20},
	{"monument", 15},
	{"park", 10},
	{"garden", 10},
}

// normalize lowercases s and reduces every run of non-letters to one
// space, padding both ends so " word " matches whole words only.
func normalize(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func containsWord(text, phrase string) bool {
	return strings.Contains(text, " "+phrase+" ")
}

func countMatches(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if containsWord(text, p) {
			n++
		}
	}
	return n
}

func anyType(p *model.PlaceSummary, types map[string]bool) bool {
	for _, t := range p.Types {
		if types[t] {
			return true
		}
	}
	return false
}

// IsHighPriority reports whether the place carries a high-priority category.
func IsHighPriority(p *model.PlaceSummary) bool {
	return anyType(p, highPriorityTypes)
}

// CalculateTourismScore rates how interesting a place is to a visitor.
// The result depends only on the place's fields.
func CalculateTourismScore(p *model.PlaceSummary) float64 {
	text := normalize(p.Name + " " + p.Vicinity)
	nonTourist := anyType(p, nonTouristTypes)

	if nonTourist && !redeemed(p, text) {
		tags := normalize(strings.ReplaceAll(strings.Join(p.Types, " "), "_", " "))
		if countMatches(text, strongNonTouristKeywords) > 0 || countMatches(tags, strongNonTouristKeywords) > 0 {
			return SentinelScore
		}
	}

	score := 0.0
	if nonTourist {
		score += nonTouristPenalty
	}
	if IsHighPriority(p) {
		score += highPriorityBonus
	}
	if anyType(p, touristTypes) {
		score += touristBonus
	}

	if p.Rating != nil {
		score += (*p.Rating - 3) * 6
	}
	if p.RatingCount != nil && *p.RatingCount > 0 {
		score += math.Log10(float64(*p.RatingCount)+1) * 4
	}

	score += float64(min(len(p.Photos), maxScoredPhotos)) * photoBonus

	score += float64(countMatches(text, touristKeywords)) * touristKeywordBonus
	score += float64(countMatches(text, nonTouristKeywords)) * nonTouristKeyword

	name := strings.ToLower(p.Name)
	for _, nb := range nameBonuses {
		if strings.Contains(name, nb.word) {
			score += nb.bonus
		}
	}

	return math.Round(score*100) / 100
}

func redeemed(p *model.PlaceSummary, text string) bool {
	return anyType(p, redemptionTypes) || countMatches(text, redemptionKeywords) > 0
}

// Keep reports whether a scored place belongs in the results.
func Keep(p *model.PlaceSummary, minScore float64) bool {
	if p.Score <= SentinelScore {
		return false
	}
	if IsHighPriority(p) {
		return p.Rating == nil || *p.Rating >= minHighPriorityRating
	}
	return p.Score >= minScore || p.RatingValue() >= escapeHatchRating
}

// Filter returns the places Keep accepts, in input order.
func Filter(places []model.PlaceSummary, minScore float64) []model.PlaceSummary {
	out := make([]model.PlaceSummary, 0, len(places))
	for i := range places {
		if Keep(&places[i], minScore) {
			out = append(out, places[i])
		}
	}
	return out
}
