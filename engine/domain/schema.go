package domain

// PropertyType is the declared type of a stored movie property.
type PropertyType string

const (
	PropText     PropertyType = "text"
	PropTextList PropertyType = "text[]"
	PropInt      PropertyType = "int"
	PropFloat    PropertyType = "float"
	PropKeyword  PropertyType = "keyword"
)

// Property is one declared payload property.
type Property struct {
	Name string
	Type PropertyType
}

// Schema describes a vector-store collection. Vectors are always supplied by
// the caller; the store never computes them.
type Schema struct {
	Collection string
	Dimensions int
	Properties []Property
}

// Property names of the movie collection.
const (
	FieldTitle    = "title"
	FieldPlot     = "plot"
	FieldGenres   = "genres"
	FieldYear     = "year"
	FieldReleased = "released"
	FieldRating   = "rating"
	FieldSourceID = "source_id"
)

// DefaultFields are returned by a search when the caller names none.
var DefaultFields = []string{FieldTitle, FieldPlot, FieldGenres, FieldYear, FieldReleased, FieldRating}

// MovieSchema returns the schema of the movie collection.
func MovieSchema(collection string, dims int) Schema {
	return Schema{
		Collection: collection,
		Dimensions: dims,
		Properties: []Property{
			{Name: FieldTitle, Type: PropText},
			{Name: FieldPlot, Type: PropText},
			{Name: FieldGenres, Type: PropTextList},
			{Name: FieldYear, Type: PropInt},
			{Name: FieldReleased, Type: PropKeyword},
			{Name: FieldRating, Type: PropFloat},
			{Name: FieldSourceID, Type: PropKeyword},
		},
	}
}
