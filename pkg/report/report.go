// Package report renders inspection and scan results for the command line.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/carved4/go-pluginmeta/pkg/peimage"
	"github.com/carved4/go-pluginmeta/pkg/plugin"
	"github.com/carved4/go-pluginmeta/pkg/scan"
)

// Format is an output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts the names listed in config.Formats.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// Detail is everything the inspect command reports about one module.
type Detail struct {
	plugin.Info `yaml:",inline"`
	ImageBase   uint64            `json:"image_base" yaml:"image_base"`
	SizeOfImage uint32            `json:"size_of_image" yaml:"size_of_image"`
	Sections    []peimage.Section `json:"sections,omitempty" yaml:"sections,omitempty"`
	Exports     []peimage.Export  `json:"exports,omitempty" yaml:"exports,omitempty"`
}

// NewDetail snapshots d. The result stays valid after d is closed.
func NewDetail(d *plugin.Data) (Detail, error) {
	img := d.Image()
	exports, err := img.Exports()
	if err != nil {
		return Detail{}, err
	}
	return Detail{
		Info:        d.Info(),
		ImageBase:   img.ImageBase(),
		SizeOfImage: img.SizeOfImage(),
		Sections:    img.Sections(),
		Exports:     exports,
	}, nil
}

type Writer struct {
	w       io.Writer
	format  Format
	noColor bool
}

func NewWriter(w io.Writer, format Format, noColor bool) *Writer {
	return &Writer{w: w, format: format, noColor: noColor}
}

// Results writes one row per scanned candidate followed by a status summary.
func (rw *Writer) Results(results []scan.Result) error {
	switch rw.format {
	case FormatJSON:
		return rw.json(results)
	case FormatYAML:
		return rw.yaml(results)
	}

	tw := tabwriter.NewWriter(rw.w, 0, 0, 3, ' ', 0)
	header := rw.paint(color.New(color.Bold, color.FgCyan))
	header.Fprintln(tw, "STATUS\tNAME\tVERSION\tAUTHOR\tPATH")
	for _, r := range results {
		name, version, author := "-", "-", "-"
		if r.Info != nil {
			name, version, author = r.Info.Name, r.Info.Version.String(), r.Info.Author
		}
		path := r.Path
		if r.DuplicateOf != "" {
			path += " (duplicate of " + r.DuplicateOf + ")"
		}
		rw.status(r.Status).Fprint(tw, string(r.Status))
		fmt.Fprintf(tw, "\t%s\t%s\t%s\t%s\n", name, version, author, path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	counts := scan.Summarize(results)
	var parts []string
	for _, s := range []scan.Status{scan.StatusPlugin, scan.StatusNotPlugin, scan.StatusTooNew, scan.StatusBroken, scan.StatusError} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	_, err := fmt.Fprintf(rw.w, "\n%d candidates: %s\n", len(results), strings.Join(parts, ", "))
	return err
}

// Detail writes a single module's metadata and image layout.
func (rw *Writer) Detail(d Detail) error {
	switch rw.format {
	case FormatJSON:
		return rw.json(d)
	case FormatYAML:
		return rw.yaml(d)
	}

	key := rw.paint(color.New(color.Bold))
	tw := tabwriter.NewWriter(rw.w, 0, 0, 2, ' ', 0)
	for _, kv := range [][2]string{
		{"Path", d.Path},
		{"Name", d.Name},
		{"Author", d.Author},
		{"Description", d.Description},
		{"Version", d.Version.String()},
		{"Data version", fmt.Sprint(d.Tag)},
		{"Image base", fmt.Sprintf("0x%x", d.ImageBase)},
		{"Size of image", fmt.Sprintf("0x%x", d.SizeOfImage)},
	} {
		key.Fprint(tw, kv[0]+":")
		fmt.Fprintf(tw, "\t%s\n", kv[1])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(d.Sections) > 0 {
		fmt.Fprintln(rw.w)
		tw = tabwriter.NewWriter(rw.w, 0, 0, 2, ' ', 0)
		key.Fprintln(tw, "SECTION\tVA\tVSIZE\tRAW\tRAWSIZE")
		for _, s := range d.Sections {
			fmt.Fprintf(tw, "%s\t0x%x\t0x%x\t0x%x\t0x%x\n", s.Name, s.VirtualAddress, s.VirtualSize, s.PointerToRawData, s.SizeOfRawData)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(d.Exports) > 0 {
		fmt.Fprintln(rw.w)
		tw = tabwriter.NewWriter(rw.w, 0, 0, 2, ' ', 0)
		key.Fprintln(tw, "EXPORT\tORDINAL\tRVA")
		for _, e := range d.Exports {
			rva := fmt.Sprintf("0x%x", e.RVA)
			if e.Forwarded {
				rva = "forwarded"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Name, e.Ordinal, rva)
		}
		return tw.Flush()
	}
	return nil
}

func (rw *Writer) json(v any) error {
	enc := json.NewEncoder(rw.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (rw *Writer) yaml(v any) error {
	enc := yaml.NewEncoder(rw.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (rw *Writer) status(s scan.Status) *color.Color {
	var c *color.Color
	switch s {
	case scan.StatusPlugin:
		c = color.New(color.FgGreen)
	case scan.StatusNotPlugin:
		c = color.New(color.FgHiBlack)
	case scan.StatusTooNew:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgRed)
	}
	return rw.paint(c)
}

func (rw *Writer) paint(c *color.Color) *color.Color {
	if rw.noColor {
		c.DisableColor()
	}
	return c
}
