package domain

// DietaryTags are accumulated evidence flags. Once a flag is true it stays
// true; see Merge.
type DietaryTags struct {
	OrientalVegan bool `json:"oriental_vegan"`
	AlcoholFree   bool `json:"alcohol_free"`
	NutFree       bool `json:"nut_free"`
	SoyFree       bool `json:"soy_free"`
	GlutenFree    bool `json:"gluten_free"`
	Halal         bool `json:"halal"`
	Kosher        bool `json:"kosher"`
}

// Merge is a flag-wise OR.
func (d DietaryTags) Merge(o DietaryTags) DietaryTags {
	return DietaryTags{
		OrientalVegan: d.OrientalVegan || o.OrientalVegan,
		AlcoholFree:   d.AlcoholFree || o.AlcoholFree,
		NutFree:       d.NutFree || o.NutFree,
		SoyFree:       d.SoyFree || o.SoyFree,
		GlutenFree:    d.GlutenFree || o.GlutenFree,
		Halal:         d.Halal || o.Halal,
		Kosher:        d.Kosher || o.Kosher,
	}
}

// Contains reports whether every flag set in o is also set in d.
func (d DietaryTags) Contains(o DietaryTags) bool {
	return d.Merge(o) == d
}
