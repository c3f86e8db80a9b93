package document

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/devbridge/internal/config"
)

// InjectHead inserts snippet right after the <head> start tag of document.
// Without a head element the snippet follows the <html> start tag, and
// without either it is prepended. The rest of the document is left
// byte-for-byte intact.
func InjectHead(document, snippet string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(document))

	offset := 0
	htmlEnd := -1
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}

		raw := tokenizer.Raw()
		offset += len(raw)

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		name, _ := tokenizer.TagName()
		switch string(name) {
		case "head":
			return document[:offset] + snippet + document[offset:]
		case "html":
			htmlEnd = offset
		case "body":
			// No head before the body.
			if htmlEnd >= 0 {
				return document[:htmlEnd] + snippet + document[htmlEnd:]
			}
			return snippet + document
		}
	}

	if htmlEnd >= 0 {
		return document[:htmlEnd] + snippet + document[htmlEnd:]
	}
	return snippet + document
}

// HeadInjector returns a Transformer inserting snippet into every document's
// head.
func HeadInjector(snippet string) config.Transformer {
	return func(_ context.Context, document string, _ *http.Request) (string, error) {
		return InjectHead(document, snippet), nil
	}
}
