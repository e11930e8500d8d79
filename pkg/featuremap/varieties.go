package featuremap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-multierror"

	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

// biblEntry is the bibliography data attached to observation sources.
type biblEntry struct {
	shortCit string
	link     string
	// decades maps a data collection decade to the certainty of its dating.
	decades map[string]string
}

func (e biblEntry) toMap() map[string]any {
	return map[string]any{
		"short_cit": e.shortCit,
		"link":      e.link,
		"decade_dc": e.decades,
	}
}

// loadBibliography indexes the Zotero bibliography export by source id.
func loadBibliography(path string, log logging.Logger) (map[string]biblEntry, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("parse bibliography %s: %w", path, err)
	}
	entries := make(map[string]biblEntry)
	for _, source := range doc.FindElements("//biblStruct") {
		id := source.SelectAttrValue("xml:id", "")
		entry := biblEntry{
			shortCit: source.SelectAttrValue("n", ""),
			link:     source.SelectAttrValue("corresp", ""),
			decades:  map[string]string{},
		}
		var decades, certs []string
		for _, note := range source.FindElements(".//note") {
			if note.SelectAttrValue("type", "") != "dataCollection" {
				continue
			}
			for _, date := range note.SelectElements("date") {
				if text := date.Text(); text != "" {
					decades = append(decades, text)
				}
				if cert := date.SelectAttr("cert"); cert != nil {
					certs = append(certs, cert.Value)
				}
			}
		}
		if len(decades) > 1 {
			log.WithField("source", id).Warn("Multiple data collection dates for source")
		}
		if len(decades) == 0 {
			entry.decades["N/A"] = "N/A"
		} else {
			for i := 0; i < len(decades) && i < len(certs); i++ {
				cert := certs[i]
				if cert == "" {
					cert = "N/A"
				}
				entry.decades[decades[i]] = cert
			}
		}
		entries[id] = entry
	}
	return entries, nil
}

type comboKey struct {
	place, variety string
}

func (c comboKey) id() string {
	return c.place + "+" + c.variety
}

// featureCatalog remembers every feature document's title and parent
// category, in first-seen document order.
type featureCatalog struct {
	order      []string
	titles     map[string]string
	categories map[string]string
}

// firstPass walks all documents once to collect the distinct place and
// variety combinations plus the feature catalog. A place whose placeName has
// no following lang sibling anywhere gets the no_variety placeholder.
func firstPass(docs []*document, log logging.Logger) ([]comboKey, *featureCatalog) {
	catalog := &featureCatalog{
		titles:     make(map[string]string),
		categories: make(map[string]string),
	}
	comboSet := make(map[comboKey]bool)
	for _, d := range docs {
		if _, seen := catalog.titles[d.id]; !seen {
			catalog.order = append(catalog.order, d.id)
		}
		catalog.titles[d.id] = d.title()
		category, ok := d.category()
		if !ok {
			log.WithField("feature", d.id).Warn("Wrong prefix or missing parent category")
			category = "Missing"
		}
		catalog.categories[d.id] = category

		for _, ref := range d.placeRefs() {
			varieties := placeVarieties(d, ref)
			if len(varieties) == 0 {
				comboSet[comboKey{place: ref, variety: noVariety}] = true
				continue
			}
			for _, v := range varieties {
				comboSet[comboKey{place: ref, variety: v}] = true
			}
		}
	}
	combos := make([]comboKey, 0, len(comboSet))
	for combo := range comboSet {
		combos = append(combos, combo)
	}
	sort.Slice(combos, func(i, j int) bool { return combos[i].id() < combos[j].id() })
	return combos, catalog
}

// placeVarieties collects the variety ids attached to ref anywhere in d.
// Only lang elements that carry a corresp attribute name a variety.
func placeVarieties(d *document, ref string) []string {
	var ids []string
	for _, pn := range d.placeNames() {
		if pn.SelectAttrValue("ref", "") != ref {
			continue
		}
		for _, lang := range followingLangs(pn) {
			if attr := lang.SelectAttr("corresp"); attr != nil {
				ids = append(ids, varietyID(attr.Value))
			}
		}
	}
	return ids
}

// buildVarieties assembles one Feature per place and variety pair. The
// output is nested maps so marshaling sorts every key, and features are
// ordered by id: repeated builds produce identical bytes.
func buildVarieties(docs []*document, geo *geoIndex, bibl map[string]biblEntry, log logging.Logger) (map[string]any, *multierror.Error) {
	var errs *multierror.Error
	combos, catalog := firstPass(docs, log)

	counts := make(map[string]int)
	features := make([]any, 0, len(combos))
	for _, combo := range combos {
		info, err := geo.lookup(combo.place)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if info == nil {
			continue
		}
		props := map[string]any{
			"name":    info.name,
			"variety": combo.variety,
		}
		for _, d := range docs {
			if !docMatchesCombo(d, combo) {
				continue
			}
			if _, dup := props[d.id]; dup {
				log.WithField("feature", d.id).Warn("Duplicate feature id")
			}
			props[d.id] = observationData(d, combo, bibl, counts, log)
		}
		features = append(features, map[string]any{
			"type":       "Feature",
			"id":         combo.id(),
			"geometry":   map[string]any{"type": "Point", "coordinates": info.coordinates},
			"properties": props,
		})
	}

	return map[string]any{
		"type": "FeatureCollection",
		"properties": map[string]any{
			"description":     collectionDescription,
			"column_headings": columnHeadings(catalog, counts),
		},
		"features": features,
	}, errs
}

func docMatchesCombo(d *document, combo comboKey) bool {
	for _, pn := range d.placeNames() {
		if pn.SelectAttrValue("ref", "") != combo.place {
			continue
		}
		if placeNameMatchesVariety(pn, combo.variety) {
			return true
		}
	}
	return false
}

// placeNameMatchesVariety reports whether the lang siblings following pn
// carry the variety. No lang siblings at all stands for the no_variety
// placeholder.
func placeNameMatchesVariety(pn *etree.Element, variety string) bool {
	langs := followingLangs(pn)
	if variety == noVariety {
		return len(langs) == 0
	}
	for _, lang := range langs {
		if attr := lang.SelectAttr("corresp"); attr != nil && varietyID(attr.Value) == variety {
			return true
		}
	}
	return false
}

// observationData gathers the value data of every observation of d matching
// the place and variety, keyed by the value's label. Each counted
// observation bumps the document's column weight.
func observationData(d *document, combo comboKey, bibl map[string]biblEntry, counts map[string]int, log logging.Logger) map[string]any {
	values := map[string]any{}
	for _, fvo := range d.observations() {
		if !observationMatchesCombo(fvo, combo) {
			continue
		}
		name := valueName(d, fvo)
		entry, ok := values[name].(map[string]any)
		if !ok {
			entry = map[string]any{}
			values[name] = entry
		}
		addSources(entry, fvo, bibl, log)
		addPersonGroups(entry, fvo)
		addQuotes(entry, "source_representations", quotes(fvo, "sourceRepresentation"))
		addQuotes(entry, "examples", quotes(fvo, "example"))
		addQuotes(entry, "notes", quotes(fvo, "note"))
		counts[d.id]++
	}
	return values
}

func observationMatchesCombo(fvo *etree.Element, combo comboKey) bool {
	for _, pn := range fvo.SelectElements("placeName") {
		if pn.SelectAttrValue("ref", "") != combo.place {
			continue
		}
		if placeNameMatchesVariety(pn, combo.variety) {
			return true
		}
	}
	return false
}

// valueName resolves the observation's value reference to its label.
// Unresolvable references read "Missing".
func valueName(d *document, fvo *etree.Element) string {
	name := fvo.SelectElement("name")
	if name == nil {
		return "Missing"
	}
	ref := name.SelectAttrValue("ref", "")
	if ref == "" {
		return "Missing"
	}
	label, ok := d.label(strings.TrimLeft(ref, "#"))
	if !ok {
		return "Missing"
	}
	return label
}

func addSources(entry map[string]any, fvo *etree.Element, bibl map[string]biblEntry, log logging.Logger) {
	sources, ok := entry["sources"].(map[string]any)
	if !ok {
		sources = map[string]any{}
		entry["sources"] = sources
	}
	for _, biblEl := range fvo.SelectElements("bibl") {
		ref := biblEl.SelectAttrValue("corresp", "")
		switch {
		case ref == "":
		case strings.HasPrefix(ref, "zot:"):
			id := strings.ReplaceAll(ref, "zot:", "")
			if id == "" {
				continue
			}
			data, found := bibl[id]
			if !found {
				log.WithField("source", id).Warn("Missing source data")
				continue
			}
			sources[id] = data.toMap()
		case strings.HasPrefix(ref, "src:"):
			// placeholder for sources that never went through the
			// bibliography export
			id := strings.ReplaceAll(ref, "src:", "")
			sources[id] = map[string]any{
				"short_cit": id,
				"link":      "",
				"decade_dc": map[string]string{"2020s": "high"},
			}
		default:
			log.WithField("source", ref).Warn("Unknown source reference format")
		}
	}
}

// addPersonGroups merges the observation's personGrp role and corresp pairs
// into the entry, deduplicated and sorted.
func addPersonGroups(entry map[string]any, fvo *etree.Element) {
	groups := fvo.SelectElements("personGrp")
	if len(groups) == 0 {
		return
	}
	type pair struct{ role, corresp string }
	seen := make(map[pair]bool)
	if existing, ok := entry["person_groups"].([]map[string]string); ok {
		for _, m := range existing {
			for role, corresp := range m {
				seen[pair{role, corresp}] = true
			}
		}
	}
	for _, pg := range groups {
		seen[pair{pg.SelectAttrValue("role", ""), pg.SelectAttrValue("corresp", "")}] = true
	}
	pairs := make([]pair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].role != pairs[j].role {
			return pairs[i].role < pairs[j].role
		}
		return pairs[i].corresp < pairs[j].corresp
	})
	merged := make([]map[string]string, 0, len(pairs))
	for _, p := range pairs {
		merged = append(merged, map[string]string{p.role: p.corresp})
	}
	entry["person_groups"] = merged
}

// addQuotes appends the non-empty texts to the entry's list, dropping
// duplicates while keeping first-seen order.
func addQuotes(entry map[string]any, key string, texts []string) {
	var valid []string
	for _, t := range texts {
		if t != "" {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return
	}
	existing, _ := entry[key].([]string)
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range valid {
		if !seen[t] {
			seen[t] = true
			existing = append(existing, t)
		}
	}
	entry[key] = existing
}

// columnHeadings orders the feature columns by how many observations the
// build collected for them, most documented first.
func columnHeadings(catalog *featureCatalog, counts map[string]int) []any {
	ordered := make([]string, len(catalog.order))
	copy(ordered, catalog.order)
	sort.SliceStable(ordered, func(i, j int) bool {
		return counts[ordered[i]] > counts[ordered[j]]
	})
	headings := []any{
		map[string]any{"name": "Name"},
		map[string]any{"variety": "Variety"},
	}
	for _, id := range ordered {
		headings = append(headings, map[string]any{
			id:         catalog.titles[id],
			"count":    counts[id],
			"category": catalog.categories[id],
		})
	}
	return headings
}
