package featuremap

import (
	"sort"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-multierror"
)

// placesCollection is the GeoJSON document mapping every referenced place to
// the linguistic features documented for it.
type placesCollection struct {
	Type       string          `json:"type"`
	Properties collectionProps `json:"properties"`
	Features   []placeFeature  `json:"features"`
}

type collectionProps struct {
	Description string `json:"description"`
}

type placeFeature struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	Geometry   geometry   `json:"geometry"`
	Properties placeProps `json:"properties"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type placeProps struct {
	Name               string              `json:"name"`
	DocumentedFeatures []documentedFeature `json:"documented_features"`
}

type documentedFeature struct {
	Name             string         `json:"name"`
	DocumentedValues []featureValue `json:"documented_values"`
}

type featureValue struct {
	Name                  string              `json:"name"`
	Sources               []string            `json:"sources"`
	PersonGroups          []map[string]string `json:"person_groups,omitempty"`
	Varieties             []string            `json:"varieties,omitempty"`
	SourceRepresentations []string            `json:"source_representations,omitempty"`
	Examples              []string            `json:"examples,omitempty"`
	Notes                 []string            `json:"notes,omitempty"`
}

// buildPlaces assembles one Feature per referenced place, enriched with the
// observations of every document that mentions it. Features are ordered by
// place reference so repeated builds produce identical output.
func buildPlaces(docs []*document, geo *geoIndex) (*placesCollection, *multierror.Error) {
	var errs *multierror.Error

	refSet := make(map[string]bool)
	for _, d := range docs {
		for _, ref := range d.placeRefs() {
			refSet[ref] = true
		}
	}
	refs := make([]string, 0, len(refSet))
	for ref := range refSet {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	features := make([]placeFeature, 0, len(refs))
	for _, ref := range refs {
		info, err := geo.lookup(ref)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if info == nil {
			continue
		}
		feature := placeFeature{
			Type:     "Feature",
			ID:       ref,
			Geometry: geometry{Type: "Point", Coordinates: info.coordinates},
			Properties: placeProps{
				Name:               info.name,
				DocumentedFeatures: []documentedFeature{},
			},
		}
		for _, d := range docs {
			if !d.mentionsPlace(ref) {
				continue
			}
			values := observedValues(d, ref)
			if len(values) == 0 {
				continue
			}
			feature.Properties.DocumentedFeatures = append(feature.Properties.DocumentedFeatures, documentedFeature{
				Name:             d.title(),
				DocumentedValues: values,
			})
		}
		features = append(features, feature)
	}

	return &placesCollection{
		Type:       "FeatureCollection",
		Properties: collectionProps{Description: collectionDescription},
		Features:   features,
	}, errs
}

// observedValues extracts a featureValue from every observation of d that
// names the place.
func observedValues(d *document, ref string) []featureValue {
	var values []featureValue
	for _, fvo := range d.observations() {
		if !observationNamesPlace(fvo, ref) {
			continue
		}
		value := featureValue{Sources: []string{}}
		if name := fvo.SelectElement("name"); name != nil {
			value.Name = name.SelectAttrValue("ref", "")
		}
		for _, bibl := range fvo.SelectElements("bibl") {
			value.Sources = append(value.Sources, bibl.SelectAttrValue("corresp", ""))
		}
		for _, pg := range fvo.SelectElements("personGrp") {
			value.PersonGroups = append(value.PersonGroups, map[string]string{
				pg.SelectAttrValue("role", ""): pg.SelectAttrValue("corresp", ""),
			})
		}
		for _, lang := range fvo.SelectElements("lang") {
			value.Varieties = append(value.Varieties, lang.SelectAttrValue("corresp", ""))
		}
		value.SourceRepresentations = quotes(fvo, "sourceRepresentation")
		value.Examples = quotes(fvo, "example")
		value.Notes = quotes(fvo, "note")
		values = append(values, value)
	}
	return values
}

func observationNamesPlace(fvo *etree.Element, ref string) bool {
	for _, pn := range fvo.SelectElements("placeName") {
		if pn.SelectAttrValue("ref", "") == ref {
			return true
		}
	}
	return false
}
