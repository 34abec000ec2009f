package domain

import "fmt"

// ContentKind discriminates between a literal body and a template reference.
type ContentKind string

const (
	ContentLiteral  ContentKind = "literal"
	ContentTemplate ContentKind = "template"
)

// Content is the body of a campaign or autoresponder reply: either a literal
// string or a reference to a stored template. The Kind tag must be switched on
// exhaustively wherever content is resolved.
type Content struct {
	Kind        ContentKind
	Body        string // set when Kind == ContentLiteral
	TemplateKey string // set when Kind == ContentTemplate
}

// LiteralContent wraps a literal message body.
func LiteralContent(body string) Content {
	return Content{Kind: ContentLiteral, Body: body}
}

// TemplateContent references a stored template by key.
func TemplateContent(key string) Content {
	return Content{Kind: ContentTemplate, TemplateKey: key}
}

// Validate checks that the tagged value is internally consistent.
func (c Content) Validate() error {
	switch c.Kind {
	case ContentLiteral:
		if c.Body == "" {
			return &ValidationError{Field: "content.body", Reason: "literal content requires a body"}
		}
	case ContentTemplate:
		if c.TemplateKey == "" {
			return &ValidationError{Field: "content.templateKey", Reason: "template content requires a template key"}
		}
	default:
		return &ValidationError{Field: "content.kind", Reason: fmt.Sprintf("unknown content kind %q", c.Kind)}
	}
	return nil
}

// Template is a reusable message body with {{name}} placeholders.
// Variables is derived from Body on save and always equals the set of
// placeholder names present in Body.
type Template struct {
	Key       string
	Body      string
	Variables []string
	Active    bool
}
