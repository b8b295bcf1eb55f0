package sitemap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
)

const (
	xmlnsSitemap = "http://www.sitemaps.org/schemas/sitemap/0.9"
	xmlnsImage   = "http://www.google.com/schemas/sitemap-image/1.1"

	lastModLayout = time.RFC3339
)

type xmlImage struct {
	Loc   string `xml:"image:loc"`
	Title string `xml:"image:title,omitempty"`
}

type xmlURL struct {
	Loc        string     `xml:"loc"`
	LastMod    string     `xml:"lastmod,omitempty"`
	ChangeFreq string     `xml:"changefreq,omitempty"`
	Priority   string     `xml:"priority,omitempty"`
	Images     []xmlImage `xml:"image:image,omitempty"`
}

type xmlURLSet struct {
	XMLName    xml.Name `xml:"urlset"`
	Xmlns      string   `xml:"xmlns,attr"`
	XmlnsImage string   `xml:"xmlns:image,attr,omitempty"`
	URLs       []xmlURL `xml:"url"`
}

// Encode renders entries into a sitemap urlset document. Output is
// deterministic for identical input: entry order is preserved and no
// wall-clock values are embedded.
func Encode(entries []Entry) ([]byte, error) {
	set := xmlURLSet{Xmlns: xmlnsSitemap}

	for _, e := range entries {
		if e.Loc == "" {
			return nil, fmt.Errorf("entry with empty loc")
		}
		if !e.ChangeFreq.Valid() {
			return nil, fmt.Errorf("entry %s: bad changefreq %q", e.Loc, e.ChangeFreq)
		}
		u := xmlURL{
			Loc:        e.Loc,
			ChangeFreq: string(e.ChangeFreq),
		}
		if !e.LastMod.IsZero() {
			u.LastMod = e.LastMod.UTC().Format(lastModLayout)
		}
		if e.Priority > 0 {
			u.Priority = strconv.FormatFloat(e.Priority, 'f', 1, 64)
		}
		for _, img := range e.Images {
			if img.Loc == "" {
				continue
			}
			u.Images = append(u.Images, xmlImage{Loc: img.Loc, Title: img.Title})
			set.XmlnsImage = xmlnsImage
		}
		set.URLs = append(set.URLs, u)
	}

	return marshalDocument(set)
}

// IndexRef is one partition reference inside the sitemap index document.
type IndexRef struct {
	Day     partition.Day
	Loc     string
	LastMod time.Time
}

type xmlSitemapRef struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name        `xml:"sitemapindex"`
	Xmlns    string          `xml:"xmlns,attr"`
	Sitemaps []xmlSitemapRef `xml:"sitemap"`
}

// EncodeIndex renders the sitemap index document enumerating every partition
// document, in the order given.
func EncodeIndex(refs []IndexRef) ([]byte, error) {
	idx := xmlSitemapIndex{Xmlns: xmlnsSitemap}
	for _, r := range refs {
		ref := xmlSitemapRef{Loc: r.Loc}
		if !r.LastMod.IsZero() {
			ref.LastMod = r.LastMod.UTC().Format(lastModLayout)
		}
		idx.Sitemaps = append(idx.Sitemaps, ref)
	}
	return marshalDocument(idx)
}

func marshalDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode sitemap document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// CountEntries counts the <url> elements in a stored partition document. It
// tolerates the image extension and indentation differences but rejects
// documents that are not well-formed XML.
func CountEntries(content []byte) (int, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))

	count := 0
	sawURLSet := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, fmt.Errorf("parse sitemap document: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "urlset":
			sawURLSet = true
		case "url":
			count++
		}
	}
	if !sawURLSet {
		return 0, fmt.Errorf("parse sitemap document: missing urlset root")
	}
	return count, nil
}
