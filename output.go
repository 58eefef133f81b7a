package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/chinmina/console-sync/internal/remotedata"
	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

var stateColors = map[remotedata.Tag]*color.Color{
	remotedata.TagNotAsked: color.New(color.FgWhite),
	remotedata.TagLoading:  color.New(color.FgYellow),
	remotedata.TagSuccess:  color.New(color.FgGreen),
	remotedata.TagFailed:   color.New(color.FgRed),
}

// printer writes cache entries: a colored state label, then the value in
// the selected format.
type printer struct {
	out    io.Writer
	format string
	title  cases.Caser
}

func newPrinter(out io.Writer, format string) (*printer, error) {
	switch format {
	case "json", "yaml":
	default:
		return nil, fmt.Errorf("unsupported output format %q: must be json or yaml", format)
	}
	return &printer{
		out:    out,
		format: format,
		title:  cases.Title(language.English),
	}, nil
}

// label renders a tag as words, so NotAsked reads "Not Asked".
func (p *printer) label(tag remotedata.Tag) string {
	var words strings.Builder
	for i, r := range tag.String() {
		if i > 0 && unicode.IsUpper(r) {
			words.WriteRune(' ')
		}
		words.WriteRune(unicode.ToLower(r))
	}

	text := p.title.String(words.String())
	if c, ok := stateColors[tag]; ok {
		return c.Sprint(text)
	}
	return text
}

func (p *printer) message(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

func printEntry[D any](p *printer, entry remotedata.RemoteData[D]) error {
	label := p.label(entry.Tag())

	if msg, failed := entry.Failed(); failed {
		p.message("%s: %s", label, msg)
		return nil
	}

	value, ok := entry.Value()
	if !ok {
		p.message("%s", label)
		return nil
	}

	p.message("%s", label)
	return p.value(value)
}

func (p *printer) value(v any) error {
	// round-trip through JSON so both formats use the API's field names
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	if p.format == "json" {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(generic)
	}

	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}
