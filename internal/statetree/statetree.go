// Package statetree is the structured tree persisted state travels through:
// presets, per-module extra state, and metadata. Readers are tolerant by
// construction — every accessor works on a nil node and returns the caller's
// default when an attribute is missing or malformed, because presets are
// user-editable files.
package statetree

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Node is one element of the tree: a name, string attributes, and ordered
// children. The zero value is not usable; construct with New.
type Node struct {
	Name     string
	Attrs    map[string]string
	Children []*Node
}

func New(name string) *Node {
	return &Node{Name: name, Attrs: make(map[string]string)}
}

// Set stores a string attribute and returns the node for chaining.
func (n *Node) Set(key, value string) *Node {
	n.Attrs[key] = value
	return n
}

func (n *Node) SetFloat(key string, value float64) *Node {
	return n.Set(key, strconv.FormatFloat(value, 'g', -1, 64))
}

func (n *Node) SetInt(key string, value int) *Node {
	return n.Set(key, strconv.Itoa(value))
}

func (n *Node) SetBool(key string, value bool) *Node {
	return n.Set(key, strconv.FormatBool(value))
}

// AddChild appends a child and returns it.
func (n *Node) AddChild(name string) *Node {
	c := New(name)
	n.Children = append(n.Children, c)
	return c
}

// Child returns the first child with the given name, or nil. Safe on nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all children with the given name, in order. Safe on nil.
func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// String returns the attribute value, or def when the node is nil or the
// attribute is absent.
func (n *Node) String(key, def string) string {
	if n == nil {
		return def
	}
	v, ok := n.Attrs[key]
	if !ok {
		return def
	}
	return v
}

func (n *Node) Float(key string, def float64) float64 {
	v, ok := n.attr(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (n *Node) Int(key string, def int) int {
	v, ok := n.attr(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func (n *Node) Bool(key string, def bool) bool {
	v, ok := n.attr(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (n *Node) attr(key string) (string, bool) {
	if n == nil {
		return "", false
	}
	v, ok := n.Attrs[key]
	return v, ok
}

// MarshalXML writes the node as an element named after the node, attributes
// as XML attributes, children as nested elements.
func (n *Node) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	name := n.Name
	if !validElementName(name) {
		name = "Node"
	}
	start := xml.StartElement{Name: xml.Name{Local: name}}
	for _, kv := range sortedAttrs(n.Attrs) {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: kv[0]}, Value: kv[1]})
	}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := c.MarshalXML(e, start); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// EncodeXML serializes the tree with a header and indentation.
func (n *Node) EncodeXML(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(n); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// DecodeXML parses a tree from XML. Unknown content (comments, character
// data) is skipped; only element structure and attributes survive.
func DecodeXML(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("statetree: no root element")
		}
		if err != nil {
			return nil, fmt.Errorf("statetree: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeElement(dec, start)
		}
	}
}

func decodeElement(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	n := New(start.Name.Local)
	for _, a := range start.Attr {
		n.Attrs[a.Name.Local] = a.Value
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("statetree: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			c, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, c)
		case xml.EndElement:
			return n, nil
		}
	}
}

func validElementName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// sortedAttrs keeps encoding deterministic regardless of map order.
func sortedAttrs(attrs map[string]string) [][2]string {
	out := make([][2]string, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, [2]string{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
