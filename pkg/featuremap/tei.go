package featuremap

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// document is one parsed feature description file. Queries deliberately
// match element tags regardless of namespace prefix: the corpus mixes
// default-namespace TEI with tei:-prefixed files, and the observation
// elements live in their own wib namespace.
type document struct {
	path string
	base string
	// id is the root element's xml:id, the feature identifier.
	id  string
	doc *etree.Document

	labelIndex map[string]string
	obs        []*etree.Element
}

func parseDocument(path, base string) (*document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("parse %s: %w", base, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("parse %s: no root element", base)
	}
	return &document{
		path: path,
		base: base,
		id:   root.SelectAttrValue("xml:id", ""),
		doc:  doc,
	}, nil
}

// title returns the whitespace-normalized text of the first titleStmt title.
func (d *document) title() string {
	el := d.doc.FindElement("//titleStmt/title")
	if el == nil {
		return ""
	}
	return textContent(el)
}

// category returns the feature's parent category from the catRef target and
// whether it carried the expected dmp: prefix.
func (d *document) category() (string, bool) {
	el := d.doc.FindElement("//profileDesc/textClass/catRef")
	if el == nil {
		return "", false
	}
	target := el.SelectAttrValue("target", "")
	if !strings.HasPrefix(target, "dmp:") {
		return "", false
	}
	return strings.TrimPrefix(target, "dmp:"), true
}

// placeNames returns every placeName element of the document, header
// included, in document order.
func (d *document) placeNames() []*etree.Element {
	return d.doc.FindElements("//placeName")
}

// placeRefs returns the distinct non-empty placeName refs in document order.
func (d *document) placeRefs() []string {
	var refs []string
	seen := make(map[string]bool)
	for _, pn := range d.placeNames() {
		ref := pn.SelectAttrValue("ref", "")
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// mentionsPlace reports whether any placeName of the document carries ref.
func (d *document) mentionsPlace(ref string) bool {
	for _, pn := range d.placeNames() {
		if pn.SelectAttrValue("ref", "") == ref {
			return true
		}
	}
	return false
}

// observations returns the featureValueObservation elements in document
// order, memoized.
func (d *document) observations() []*etree.Element {
	if d.obs == nil {
		d.obs = d.doc.FindElements("//featureValueObservation")
		if d.obs == nil {
			d.obs = []*etree.Element{}
		}
	}
	return d.obs
}

// label resolves a value reference to its human readable label text. The
// second return is false when no item with that xml:id carries a label.
func (d *document) label(id string) (string, bool) {
	if d.labelIndex == nil {
		d.labelIndex = make(map[string]string)
		for _, item := range d.doc.FindElements("//item") {
			itemID := item.SelectAttrValue("xml:id", "")
			if itemID == "" {
				continue
			}
			if label := item.SelectElement("label"); label != nil {
				d.labelIndex[itemID] = label.Text()
			}
		}
	}
	text, ok := d.labelIndex[id]
	return text, ok
}

// followingLangs returns the lang elements that follow pn among its parent's
// children.
func followingLangs(pn *etree.Element) []*etree.Element {
	parent := pn.Parent()
	if parent == nil {
		return nil
	}
	var langs []*etree.Element
	after := false
	for _, sibling := range parent.ChildElements() {
		if sibling == pn {
			after = true
			continue
		}
		if after && sibling.Tag == "lang" {
			langs = append(langs, sibling)
		}
	}
	return langs
}

// varietyID derives the short variety identifier from a lang corresp value
// like `..\profiles\vicav_profile_tunis.xml`.
func varietyID(corresp string) string {
	s := corresp
	if i := strings.LastIndex(s, `\`); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "_"); i >= 0 {
		s = s[i+1:]
	}
	return strings.ReplaceAll(s, ".xml", "")
}

// quotes returns the text of every cit/quote of the given cit type among
// el's children.
func quotes(el *etree.Element, citType string) []string {
	var texts []string
	for _, cit := range el.SelectElements("cit") {
		if cit.SelectAttrValue("type", "") != citType {
			continue
		}
		for _, quote := range cit.SelectElements("quote") {
			texts = append(texts, quote.Text())
		}
	}
	return texts
}

// textContent gathers all descendant text of el and collapses runs of
// whitespace, the way titles and coordinates are read.
func textContent(el *etree.Element) string {
	var b strings.Builder
	gatherText(el, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func gatherText(el *etree.Element, b *strings.Builder) {
	for _, child := range el.Child {
		switch t := child.(type) {
		case *etree.CharData:
			b.WriteString(t.Data)
		case *etree.Element:
			gatherText(t, b)
		}
	}
}
