package geo

import (
	"context"
	"strings"
	"unicode"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

type place struct {
	name       string
	lat        float64
	lng        float64
	country    string
	population int
}

// gazetteer entries keyed by lowercase name. Several names map to more
// than one city; resolution picks the most populous at reduced
// confidence.
var places = map[string][]place{
	"paris":          {{"Paris", 48.8566, 2.3522, "France", 2161000}},
	"london":         {{"London", 51.5074, -0.1278, "United Kingdom", 8982000}},
	"berlin":         {{"Berlin", 52.5200, 13.4050, "Germany", 3645000}},
	"madrid":         {{"Madrid", 40.4168, -3.7038, "Spain", 3223000}},
	"rome":           {{"Rome", 41.9028, 12.4964, "Italy", 2873000}},
	"athens":         {{"Athens", 37.9838, 23.7275, "Greece", 664000}},
	"brussels":       {{"Brussels", 50.8503, 4.3517, "Belgium", 1209000}},
	"amsterdam":      {{"Amsterdam", 52.3676, 4.9041, "Netherlands", 872000}},
	"vienna":         {{"Vienna", 48.2082, 16.3738, "Austria", 1897000}},
	"warsaw":         {{"Warsaw", 52.2297, 21.0122, "Poland", 1790000}},
	"kyiv":           {{"Kyiv", 50.4501, 30.5234, "Ukraine", 2884000}},
	"istanbul":       {{"Istanbul", 41.0082, 28.9784, "Turkey", 15460000}},
	"cairo":          {{"Cairo", 30.0444, 31.2357, "Egypt", 9540000}},
	"lagos":          {{"Lagos", 6.5244, 3.3792, "Nigeria", 14862000}},
	"nairobi":        {{"Nairobi", -1.2921, 36.8219, "Kenya", 4397000}},
	"johannesburg":   {{"Johannesburg", -26.2041, 28.0473, "South Africa", 5635000}},
	"tunis":          {{"Tunis", 36.8065, 10.1815, "Tunisia", 1056000}},
	"algiers":        {{"Algiers", 36.7538, 3.0588, "Algeria", 2364000}},
	"tripoli":        {{"Tripoli", 32.8872, 13.1913, "Libya", 1126000}, {"Tripoli", 34.4367, 35.8497, "Lebanon", 230000}},
	"beirut":         {{"Beirut", 33.8938, 35.5018, "Lebanon", 2200000}},
	"baghdad":        {{"Baghdad", 33.3152, 44.3661, "Iraq", 7144000}},
	"tehran":         {{"Tehran", 35.6892, 51.3890, "Iran", 8694000}},
	"karachi":        {{"Karachi", 24.8607, 67.0011, "Pakistan", 14910000}},
	"lahore":         {{"Lahore", 31.5204, 74.3587, "Pakistan", 11130000}},
	"delhi":          {{"Delhi", 28.7041, 77.1025, "India", 16788000}},
	"mumbai":         {{"Mumbai", 19.0760, 72.8777, "India", 12442000}},
	"kolkata":        {{"Kolkata", 22.5726, 88.3639, "India", 4497000}},
	"dhaka":          {{"Dhaka", 23.8103, 90.4125, "Bangladesh", 8906000}},
	"colombo":        {{"Colombo", 6.9271, 79.8612, "Sri Lanka", 753000}},
	"yangon":         {{"Yangon", 16.8661, 96.1951, "Myanmar", 5212000}},
	"bangkok":        {{"Bangkok", 13.7563, 100.5018, "Thailand", 8281000}},
	"jakarta":        {{"Jakarta", -6.2088, 106.8456, "Indonesia", 10562000}},
	"manila":         {{"Manila", 14.5995, 120.9842, "Philippines", 1780000}},
	"hong kong":      {{"Hong Kong", 22.3193, 114.1694, "China", 7482000}},
	"tokyo":          {{"Tokyo", 35.6762, 139.6503, "Japan", 13960000}},
	"seoul":          {{"Seoul", 37.5665, 126.9780, "South Korea", 9776000}},
	"beijing":        {{"Beijing", 39.9042, 116.4074, "China", 21540000}},
	"sydney":         {{"Sydney", -33.8688, 151.2093, "Australia", 5312000}},
	"santiago":       {{"Santiago", -33.4489, -70.6693, "Chile", 5614000}},
	"buenos aires":   {{"Buenos Aires", -34.6037, -58.3816, "Argentina", 3075000}},
	"sao paulo":      {{"Sao Paulo", -23.5505, -46.6333, "Brazil", 12330000}},
	"rio de janeiro": {{"Rio de Janeiro", -22.9068, -43.1729, "Brazil", 6748000}},
	"lima":           {{"Lima", -12.0464, -77.0428, "Peru", 9752000}},
	"bogota":         {{"Bogota", 4.7110, -74.0721, "Colombia", 7413000}},
	"caracas":        {{"Caracas", 10.4806, -66.9036, "Venezuela", 1943000}},
	"mexico city":    {{"Mexico City", 19.4326, -99.1332, "Mexico", 9209000}},
	"new york":       {{"New York", 40.7128, -74.0060, "United States", 8336000}},
	"washington":     {{"Washington", 38.9072, -77.0369, "United States", 705000}},
	"los angeles":    {{"Los Angeles", 34.0522, -118.2437, "United States", 3980000}},
	"chicago":        {{"Chicago", 41.8781, -87.6298, "United States", 2706000}},
	"birmingham":     {{"Birmingham", 52.4862, -1.8904, "United Kingdom", 1142000}, {"Birmingham", 33.5186, -86.8104, "United States", 209000}},
	"san jose":       {{"San Jose", 37.3382, -121.8863, "United States", 1030000}, {"San Jose", 9.9281, -84.0907, "Costa Rica", 342000}},
	"port louis":     {{"Port Louis", -20.1609, 57.5012, "Mauritius", 147000}},
	"accra":          {{"Accra", 5.6037, -0.1870, "Ghana", 2291000}},
	"khartoum":       {{"Khartoum", 15.5007, 32.5599, "Sudan", 5274000}},
}

const (
	uniqueConfidence    = 0.9
	ambiguousConfidence = 0.6
)

// Gazetteer is the offline geocoder of last resort. It recognizes a
// fixed set of significant cities, either as the whole input or
// mentioned anywhere inside it.
type Gazetteer struct{}

func NewGazetteer() *Gazetteer {
	return &Gazetteer{}
}

func (g *Gazetteer) Geocode(ctx context.Context, text string) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}

	normalized := normalizeKey(stripPunct(text))
	if normalized == "" {
		return models.Location{}, ErrNotFound
	}

	// Whole input, then the segment before any comma ("Paris, France").
	if loc, ok := lookup(normalized); ok {
		return loc, nil
	}
	if i := strings.Index(text, ","); i > 0 {
		if loc, ok := lookup(normalizeKey(stripPunct(text[:i]))); ok {
			return loc, nil
		}
	}

	// Otherwise scan for a known name mentioned in the text, preferring
	// the most populous mention.
	tokens := strings.Fields(normalized)
	var best models.Location
	bestPop := -1
	tryKey := func(key string) {
		entries, ok := places[key]
		if !ok {
			return
		}
		top, conf := pick(entries)
		if top.population > bestPop {
			bestPop = top.population
			best = top.location(conf)
		}
	}
	for i := range tokens {
		tryKey(tokens[i])
		if i+1 < len(tokens) {
			tryKey(tokens[i] + " " + tokens[i+1])
		}
		if i+2 < len(tokens) {
			tryKey(tokens[i] + " " + tokens[i+1] + " " + tokens[i+2])
		}
	}
	if bestPop >= 0 {
		return best, nil
	}

	return models.Location{}, ErrNotFound
}

func lookup(key string) (models.Location, bool) {
	entries, ok := places[key]
	if !ok {
		return models.Location{}, false
	}
	top, conf := pick(entries)
	return top.location(conf), true
}

// pick chooses among same-named places by population. Duplicates lower
// the confidence since the caller's intent is a guess.
func pick(entries []place) (place, float64) {
	top := entries[0]
	for _, p := range entries[1:] {
		if p.population > top.population {
			top = p
		}
	}
	if len(entries) > 1 {
		return top, ambiguousConfidence
	}
	return top, uniqueConfidence
}

func (p place) location(confidence float64) models.Location {
	return models.Location{
		Latitude:   p.lat,
		Longitude:  p.lng,
		PlaceName:  p.name,
		Confidence: confidence,
	}
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, s)
}
