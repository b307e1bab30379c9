package aggregate

// Category is the classification bucket for a Strava sport type.
type Category int

const (
	CategoryRun Category = iota
	CategoryRide
	CategorySwim
	CategoryExcluded
)

// String returns the dashboard-facing category name.
func (c Category) String() string {
	switch c {
	case CategoryRun:
		return "run"
	case CategoryRide:
		return "ride"
	case CategorySwim:
		return "swim"
	}
	return "excluded"
}

// Sport-type vocabulary comes from the Strava API. Unknown values are
// excluded rather than rejected so new API vocabulary never breaks
// aggregation; extend these tables to admit new variants.
var sportCategories = map[string]Category{
	"Run":        CategoryRun,
	"TrailRun":   CategoryRun,
	"VirtualRun": CategoryRun,

	"Ride":        CategoryRide,
	"VirtualRide": CategoryRide,
	"GravelRide":  CategoryRide,

	"Swim": CategorySwim,
}

const sportEBikeRide = "EBikeRide"

// Classify maps a raw sport-type string to a category. E-bike rides
// count as rides only when includeEbikes is set; everything outside
// the known vocabulary is excluded.
func Classify(sportType string, includeEbikes bool) Category {
	if sportType == sportEBikeRide {
		if includeEbikes {
			return CategoryRide
		}
		return CategoryExcluded
	}
	if cat, ok := sportCategories[sportType]; ok {
		return cat
	}
	return CategoryExcluded
}
