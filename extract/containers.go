package extract

import (
	"github.com/PuerkitoBio/goquery"
)

// SelectorContainers matches containers with a CSS selector
func SelectorContainers(selector string) ContainerStrategy {
	return ContainerStrategy{
		Name: selector,
		Find: func(root *goquery.Selection) *goquery.Selection {
			return root.Find(selector)
		},
	}
}

// BuiltinContainers are the semantic fallbacks tried after a profile's own selectors
func BuiltinContainers() []ContainerStrategy {
	return []ContainerStrategy{
		{Name: "heading-with-link", Find: headingWithLink},
		SelectorContainers(`[data-testid="post-container"], [data-testid*="post"]`),
		SelectorContainers("article"),
	}
}

const headingSelector = "h1, h2, h3, h4"

// headingWithLink treats the smallest element around every heading that also holds a
// link as an item. The walk up stops at an element holding another heading, so sibling
// items under one wrapper stay separate.
func headingWithLink(root *goquery.Selection) *goquery.Selection {
	found := root.Slice(0, 0)
	root.Find(headingSelector).Each(func(_ int, heading *goquery.Selection) {
		for candidate := heading; candidate.Length() > 0 && !candidate.Is("body, html"); candidate = candidate.Parent() {
			if candidate.Find(headingSelector).NotSelection(heading).Length() > 0 {
				return
			}
			if candidate.Find("a[href]").Length() > 0 {
				found = found.AddSelection(candidate)
				return
			}
		}
	})
	return found
}
