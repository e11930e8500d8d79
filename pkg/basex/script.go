package basex

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

const rootElement = "commands"

// Kind is the command a directive stands for, named exactly like its element
// in the engine's XML command script syntax.
type Kind string

const (
	KindSet         Kind = "set"
	KindCreateDB    Kind = "create-db"
	KindOpen        Kind = "open"
	KindDelete      Kind = "delete"
	KindClose       Kind = "close"
	KindOptimizeAll Kind = "optimize-all"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSet, KindCreateDB, KindOpen, KindDelete, KindClose, KindOptimizeAll:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown directive <%s>: %w", s, ErrInvalidScript)
}

// Directive is one engine command. Which fields are meaningful depends on
// the Kind: set carries Option and the value in Arg, create-db carries Name
// and an optional source path in Arg, open carries Name, delete carries
// Path. close and optimize-all carry nothing.
type Directive struct {
	Kind   Kind
	Option string
	Name   string
	Path   string
	Arg    string
}

// Script is an ordered list of engine directives. Order survives parsing and
// marshaling exactly: the engine executes scripts strictly top to bottom and
// parser options only affect the directives after them.
type Script struct {
	Directives []Directive
}

// Load reads and parses a command script file.
func Load(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes the engine's XML command script syntax.
func Parse(raw []byte) (*Script, error) {
	s := &Script{}
	if err := xml.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	if start.Name.Local != rootElement {
		return fmt.Errorf("root element <%s>, want <%s>: %w", start.Name.Local, rootElement, ErrInvalidScript)
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			dir, err := decodeDirective(d, t)
			if err != nil {
				return err
			}
			s.Directives = append(s.Directives, dir)
		case xml.CharData:
			if text := bytes.TrimSpace(t); len(text) > 0 {
				return fmt.Errorf("stray text %q: %w", string(text), ErrInvalidScript)
			}
		case xml.EndElement:
			return nil
		}
	}
}

func decodeDirective(d *xml.Decoder, start xml.StartElement) (Directive, error) {
	kind, err := ParseKind(start.Name.Local)
	if err != nil {
		return Directive{}, err
	}
	var raw struct {
		Option string `xml:"option,attr"`
		Name   string `xml:"name,attr"`
		Path   string `xml:"path,attr"`
		Arg    string `xml:",chardata"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return Directive{}, err
	}
	return Directive{
		Kind:   kind,
		Option: raw.Option,
		Name:   raw.Name,
		Path:   raw.Path,
		Arg:    strings.TrimSpace(raw.Arg),
	}, nil
}

func (s Script) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: rootElement}
	start.Attr = nil
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, dir := range s.Directives {
		el := xml.StartElement{Name: xml.Name{Local: string(dir.Kind)}}
		for _, attr := range []struct{ name, value string }{
			{"option", dir.Option},
			{"name", dir.Name},
			{"path", dir.Path},
		} {
			if attr.value != "" {
				el.Attr = append(el.Attr, xml.Attr{Name: xml.Name{Local: attr.name}, Value: attr.value})
			}
		}
		if err := e.EncodeToken(el); err != nil {
			return err
		}
		if dir.Arg != "" {
			if err := e.EncodeToken(xml.CharData(dir.Arg)); err != nil {
				return err
			}
		}
		if err := e.EncodeToken(el.End()); err != nil {
			return err
		}
	}
	return e.EncodeToken(xml.EndElement{Name: start.Name})
}

// Marshal renders the script back to the engine's XML syntax on one line.
func (s *Script) Marshal() ([]byte, error) {
	return xml.Marshal(s)
}

// Validate applies the engine independent sanity rules before a script is
// allowed anywhere near the database server.
func (s *Script) Validate() error {
	if len(s.Directives) == 0 {
		return fmt.Errorf("no directives: %w", ErrInvalidScript)
	}
	opened := false
	jsonParser := false
	for i, dir := range s.Directives {
		switch dir.Kind {
		case KindSet:
			if dir.Option == "" {
				return invalidDirective(i, dir.Kind, "missing option attribute")
			}
			if strings.EqualFold(dir.Option, "parser") {
				jsonParser = strings.EqualFold(dir.Arg, "json")
			}
		case KindCreateDB:
			if dir.Name == "" {
				return invalidDirective(i, dir.Kind, "missing name attribute")
			}
			if strings.HasSuffix(dir.Arg, ".geojson") && !jsonParser {
				return invalidDirective(i, dir.Kind, `geojson source requires a preceding <set option="parser">json</set>`)
			}
			// the engine leaves a freshly created database open
			opened = true
		case KindOpen:
			if dir.Name == "" {
				return invalidDirective(i, dir.Kind, "missing name attribute")
			}
			opened = true
		case KindDelete:
			if dir.Path == "" {
				return invalidDirective(i, dir.Kind, "missing path attribute")
			}
			if !opened {
				return invalidDirective(i, dir.Kind, "no database open")
			}
		case KindClose:
			opened = false
		case KindOptimizeAll:
			if !opened {
				return invalidDirective(i, dir.Kind, "no database open")
			}
		default:
			return invalidDirective(i, dir.Kind, "unknown directive")
		}
	}
	return nil
}

func invalidDirective(i int, kind Kind, msg string) error {
	return fmt.Errorf("directive %d <%s>: %s: %w", i+1, kind, msg, ErrInvalidScript)
}

// RewritePaths replaces the path token in every create-db source and delete
// path with the resolved build directory and reports how many values were
// rewritten. An empty token leaves the script alone.
func (s *Script) RewritePaths(token, buildDir string) int {
	if token == "" {
		return 0
	}
	rewritten := 0
	for i := range s.Directives {
		dir := &s.Directives[i]
		switch dir.Kind {
		case KindCreateDB:
			if strings.Contains(dir.Arg, token) {
				dir.Arg = strings.ReplaceAll(dir.Arg, token, buildDir)
				rewritten++
			}
		case KindDelete:
			if strings.Contains(dir.Path, token) {
				dir.Path = strings.ReplaceAll(dir.Path, token, buildDir)
				rewritten++
			}
		}
	}
	return rewritten
}

// Databases lists the names touched by create-db and open directives, in
// script order without duplicates.
func (s *Script) Databases() []string {
	var names []string
	seen := make(map[string]bool)
	for _, dir := range s.Directives {
		if dir.Kind != KindCreateDB && dir.Kind != KindOpen {
			continue
		}
		if dir.Name == "" || seen[dir.Name] {
			continue
		}
		seen[dir.Name] = true
		names = append(names, dir.Name)
	}
	return names
}
