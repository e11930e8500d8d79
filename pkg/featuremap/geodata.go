package featuremap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

var coordinateSplit = regexp.MustCompile(`[\s,]+`)

// placeInfo is what the geographical register knows about one place.
type placeInfo struct {
	// coordinates are GeoJSON ordered: longitude first. Empty when the
	// register has no decimal-degree geo element for the place.
	coordinates []float64
	// name joins every placeName of the register entry with " / ".
	name string
}

// geoIndex answers place lookups against the geographical register file,
// keyed by the place's xml:id.
type geoIndex struct {
	places map[string]*etree.Element
}

func loadGeodata(path string) (*geoIndex, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("parse geodata %s: %w", path, err)
	}
	idx := &geoIndex{places: make(map[string]*etree.Element)}
	for _, place := range doc.FindElements("//place") {
		if id := place.SelectAttrValue("xml:id", ""); id != "" {
			idx.places[id] = place
		}
	}
	return idx, nil
}

// lookup resolves a place reference like "geo:vienna" against the register.
// A place that is unknown or has no location yields (nil, nil): such places
// simply do not appear on the map. Unparseable coordinates return the place
// with empty coordinates alongside the error so the caller can aggregate it.
func (g *geoIndex) lookup(ref string) (*placeInfo, error) {
	parts := strings.Split(ref, ":")
	if len(parts) < 2 {
		return nil, fmt.Errorf("place ref %q: missing prefix", ref)
	}
	place := g.places[parts[1]]
	if place == nil {
		return nil, nil
	}
	location := place.SelectElement("location")
	if location == nil {
		return nil, nil
	}

	info := &placeInfo{coordinates: []float64{}, name: placeName(place)}

	var geo *etree.Element
	for _, el := range location.SelectElements("geo") {
		if el.SelectAttrValue("decls", "") == "#dd" {
			geo = el
			break
		}
	}
	if geo == nil {
		return info, nil
	}

	// the register stores latitude first; GeoJSON wants longitude first
	tokens := coordinateSplit.Split(textContent(geo), -1)
	for i := len(tokens) - 1; i >= 0; i-- {
		if tokens[i] == "" {
			continue
		}
		coord, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			info.coordinates = []float64{}
			return info, fmt.Errorf("place %s: coordinate %q: %w", ref, tokens[i], err)
		}
		info.coordinates = append(info.coordinates, coord)
	}
	return info, nil
}

func placeName(place *etree.Element) string {
	var names []string
	for _, pn := range place.FindElements(".//placeName") {
		if text := pn.Text(); text != "" {
			names = append(names, text)
		}
	}
	return strings.Join(names, " / ")
}
