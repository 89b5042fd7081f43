package resolve

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// FieldSpec declares one selector-based strategy. An empty Selector targets the scope
// itself; an empty Attr reads the normalized text content.
type FieldSpec struct {
	Selector string `yaml:"selector" json:"selector,omitempty"`
	Attr     string `yaml:"attr" json:"attr,omitempty"`
}

func (f FieldSpec) String() string {
	target := f.Selector
	if target == "" {
		target = ":scope"
	}
	if f.Attr != "" {
		return fmt.Sprintf("%s@%s", target, f.Attr)
	}
	return target
}

// Selection builds a strategy that reads one value from the first match of spec
func Selection(spec FieldSpec) Strategy[*goquery.Selection] {
	return Strategy[*goquery.Selection]{
		Name: spec.String(),
		Extract: func(scope *goquery.Selection) string {
			target := scope
			if spec.Selector != "" {
				target = scope.Find(spec.Selector).First()
			}
			if target.Length() == 0 {
				return ""
			}
			if spec.Attr != "" {
				value, _ := target.Attr(spec.Attr)
				return value
			}
			return target.Text()
		},
	}
}

// Selections builds one strategy per spec, preserving order
func Selections(specs []FieldSpec) []Strategy[*goquery.Selection] {
	strategies := make([]Strategy[*goquery.Selection], 0, len(specs))
	for _, spec := range specs {
		strategies = append(strategies, Selection(spec))
	}
	return strategies
}

// SelectionList builds a strategy that reads a value from every match of spec
func SelectionList(spec FieldSpec) ListStrategy[*goquery.Selection] {
	return ListStrategy[*goquery.Selection]{
		Name: spec.String(),
		Extract: func(scope *goquery.Selection) []string {
			target := scope
			if spec.Selector != "" {
				target = scope.Find(spec.Selector)
			}
			values := make([]string, 0, target.Length())
			target.Each(func(_ int, s *goquery.Selection) {
				if spec.Attr != "" {
					if v, ok := s.Attr(spec.Attr); ok {
						values = append(values, v)
					}
					return
				}
				values = append(values, s.Text())
			})
			return values
		},
	}
}

// SelectionLists builds one list strategy per spec, preserving order
func SelectionLists(specs []FieldSpec) []ListStrategy[*goquery.Selection] {
	strategies := make([]ListStrategy[*goquery.Selection], 0, len(specs))
	for _, spec := range specs {
		strategies = append(strategies, SelectionList(spec))
	}
	return strategies
}
