package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// ComponentType is the fixed vocabulary of structured components.
type ComponentType string

const (
	TypeHeading       ComponentType = "Heading"
	TypeText          ComponentType = "Text"
	TypeEquation      ComponentType = "Equation"
	TypeList          ComponentType = "List"
	TypeBlockquote    ComponentType = "Blockquote"
	TypeCode          ComponentType = "Code"
	TypeImage         ComponentType = "Image"
	TypeInlineImage   ComponentType = "InlineImage"
	TypeImageGroup    ComponentType = "ImageGroup"
	TypeTable         ComponentType = "Table"
	TypeTableGroup    ComponentType = "TableGroup"
	TypeFigureTitle   ComponentType = "FigureTitle"
	TypeFigureCaption ComponentType = "FigureCaption"
)

// ComponentTypes lists the vocabulary in a stable order.
var ComponentTypes = []ComponentType{
	TypeHeading, TypeText, TypeEquation, TypeList, TypeBlockquote, TypeCode,
	TypeImage, TypeInlineImage, TypeImageGroup, TypeTable, TypeTableGroup,
	TypeFigureTitle, TypeFigureCaption,
}

// ParseComponentType matches s case-insensitively against the vocabulary.
func ParseComponentType(s string) (ComponentType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range ComponentTypes {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// IsAsset reports whether the type references a single binary asset by src.
func (t ComponentType) IsAsset() bool {
	return t == TypeImage || t == TypeInlineImage || t == TypeTable
}

// IsGroup reports whether the type bundles several assets.
func (t ComponentType) IsGroup() bool {
	return t == TypeImageGroup || t == TypeTableGroup
}

// IsCaption reports whether the type is a figure title or caption.
func (t ComponentType) IsCaption() bool {
	return t == TypeFigureTitle || t == TypeFigureCaption
}

// Extra carries props the component's variant does not know about.
type Extra map[string]json.RawMessage

// Props is the type-specific payload of a component.
type Props interface {
	// Valid reports whether the variant's required keys are present.
	Valid() bool
	Extras() Extra
}

// HeadingProps is the payload of a Heading.
type HeadingProps struct {
	Text  string `json:"text"`
	Level int    `json:"level,omitempty"`
	Extra Extra  `json:"-"`
}

// TextProps is the payload of Text, Blockquote, FigureTitle and FigureCaption.
type TextProps struct {
	Text  string `json:"text"`
	Extra Extra  `json:"-"`
}

// EquationProps is the payload of an Equation.
type EquationProps struct {
	Latex  string `json:"latex"`
	Number string `json:"number,omitempty"`
	Extra  Extra  `json:"-"`
}

// ListProps is the payload of a List.
type ListProps struct {
	Items   []string `json:"items"`
	Ordered bool     `json:"ordered,omitempty"`
	Extra   Extra    `json:"-"`
}

// CodeProps is the payload of a Code block.
type CodeProps struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
	Extra    Extra  `json:"-"`
}

// ImageProps is the payload of Image, InlineImage and Table, and of group members.
type ImageProps struct {
	Src         string    `json:"src"`
	Alt         string    `json:"alt,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	BBox        []float64 `json:"bbox,omitempty"`
	Extra       Extra     `json:"-"`
}

// ImageGroupProps is the payload of an ImageGroup.
type ImageGroupProps struct {
	GroupID string       `json:"group_id,omitempty"`
	Images  []ImageProps `json:"images"`
	Extra   Extra        `json:"-"`
}

// TableGroupProps is the payload of a TableGroup.
type TableGroupProps struct {
	GroupID string       `json:"group_id,omitempty"`
	Tables  []ImageProps `json:"tables"`
	Extra   Extra        `json:"-"`
}

func (p *HeadingProps) Valid() bool    { return strings.TrimSpace(p.Text) != "" }
func (p *TextProps) Valid() bool       { return strings.TrimSpace(p.Text) != "" }
func (p *EquationProps) Valid() bool   { return strings.TrimSpace(p.Latex) != "" }
func (p *ListProps) Valid() bool       { return len(p.Items) > 0 }
func (p *CodeProps) Valid() bool       { return p.Code != "" }
func (p *ImageProps) Valid() bool      { return strings.TrimSpace(p.Src) != "" }
func (p *ImageGroupProps) Valid() bool { return len(p.Images) > 0 }
func (p *TableGroupProps) Valid() bool { return len(p.Tables) > 0 }

func (p *HeadingProps) Extras() Extra    { return p.Extra }
func (p *TextProps) Extras() Extra       { return p.Extra }
func (p *EquationProps) Extras() Extra   { return p.Extra }
func (p *ListProps) Extras() Extra       { return p.Extra }
func (p *CodeProps) Extras() Extra       { return p.Extra }
func (p *ImageProps) Extras() Extra      { return p.Extra }
func (p *ImageGroupProps) Extras() Extra { return p.Extra }
func (p *TableGroupProps) Extras() Extra { return p.Extra }

func (p HeadingProps) MarshalJSON() ([]byte, error) {
	type plain HeadingProps
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *HeadingProps) UnmarshalJSON(b []byte) error {
	type plain HeadingProps
	var v plain
	extra, err := unmarshalWithExtra(b, &v)
	if err != nil {
		return err
	}
	*p = HeadingProps(v)
	p.Extra = extra
	return nil
}

func (p TextProps) MarshalJSON() ([]byte, error) {
	type plain TextProps
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *TextProps) UnmarshalJSON(b []byte) error {
	type plain TextProps
	var v plain
	extra, err := unmarshalWithExtra(b, &v)
	if err != nil {
		return err
	}
	*p = TextProps(v)
	p.Extra = extra
	return nil
}

func (p EquationProps) MarshalJSON() ([]byte, error) {
	type plain EquationProps
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *EquationProps) UnmarshalJSON(b []byte) error {
	type plain EquationProps
	var v plain
	extra, err := unmarshalWithExtra(b, &v)
	if err != nil {
		return err
	}
	*p = EquationProps(v)
	p.Extra = extra
	return nil
}

func (p ListProps) MarshalJSON() ([]byte, error) {
	type plain ListProps
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *ListProps) UnmarshalJSON(b []byte) error {
	type plain ListProps
	var v plain
	extra, err := unmarshalWithExtra(b, &v)
	if err != nil {
		return err
	}
	*p = ListProps(v)
	p.Extra = extra
	return nil
}

func (p CodeProps) MarshalJSON() ([]byte, error) {
	type plain CodeProps
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *CodeProps) UnmarshalJSON(b []byte) error {
	type plain CodeProps
	var v plain
	extra, err := unmarshalWithExtra(b, &v)
	if err != nil {
		return err
	}
	*p = CodeProps(v)
	p.Extra = extra
	return nil
}

func (p ImageProps) MarshalJSON() ([]byte, error) {
	type plain ImageProps
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *ImageProps) UnmarshalJSON(b []byte) error {
	type plain ImageProps
	var v plain
	extra, err := unmarshalWithExtra(b, &v)
	if err != nil {
		return err
	}
	*p = ImageProps(v)
	p.Extra = extra
	return nil
}

func (p ImageGroupProps) MarshalJSON() ([]byte, error) {
	type plain ImageGroupProps
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *ImageGroupProps) UnmarshalJSON(b []byte) error {
	type plain ImageGroupProps
	var v plain
	extra, err := unmarshalWithExtra(b, &v)
	if err != nil {
		return err
	}
	*p = ImageGroupProps(v)
	p.Extra = extra
	return nil
}

func (p TableGroupProps) MarshalJSON() ([]byte, error) {
	type plain TableGroupProps
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *TableGroupProps) UnmarshalJSON(b []byte) error {
	type plain TableGroupProps
	var v plain
	extra, err := unmarshalWithExtra(b, &v)
	if err != nil {
		return err
	}
	*p = TableGroupProps(v)
	p.Extra = extra
	return nil
}

// Component is the unit produced by structuring.
type Component struct {
	Type  ComponentType
	Page  int
	Props Props
}

type componentJSON struct {
	Type  ComponentType   `json:"type"`
	Page  int             `json:"page,omitempty"`
	Props json.RawMessage `json:"props"`
}

// MarshalJSON encodes the component as {"type", "page", "props"}.
func (c Component) MarshalJSON() ([]byte, error) {
	props, err := json.Marshal(c.Props)
	if err != nil {
		return nil, err
	}
	return json.Marshal(componentJSON{Type: c.Type, Page: c.Page, Props: props})
}

// UnmarshalJSON decodes a component whose type is in the vocabulary.
func (c *Component) UnmarshalJSON(b []byte) error {
	var raw componentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t, ok := ParseComponentType(string(raw.Type))
	if !ok {
		return fmt.Errorf("unknown component type %q", raw.Type)
	}
	props, err := DecodeProps(t, raw.Props)
	if err != nil {
		return err
	}
	c.Type, c.Page, c.Props = t, raw.Page, props
	return nil
}

// NewProps returns an empty payload for the type.
func NewProps(t ComponentType) Props {
	switch t {
	case TypeHeading:
		return &HeadingProps{}
	case TypeEquation:
		return &EquationProps{}
	case TypeList:
		return &ListProps{}
	case TypeCode:
		return &CodeProps{}
	case TypeImage, TypeInlineImage, TypeTable:
		return &ImageProps{}
	case TypeImageGroup:
		return &ImageGroupProps{}
	case TypeTableGroup:
		return &TableGroupProps{}
	default:
		return &TextProps{}
	}
}

// DecodeProps decodes raw props into the variant for t.
func DecodeProps(t ComponentType, raw json.RawMessage) (Props, error) {
	props := NewProps(t)
	if len(raw) == 0 || string(raw) == "null" {
		return props, nil
	}
	if err := json.Unmarshal(raw, props); err != nil {
		return nil, fmt.Errorf("decode %s props: %w", t, err)
	}
	return props, nil
}

// Text returns the textual content of text-like components.
func (c Component) Text() string {
	switch p := c.Props.(type) {
	case *TextProps:
		return p.Text
	case *HeadingProps:
		return p.Text
	case *EquationProps:
		return p.Latex
	case *CodeProps:
		return p.Code
	case *ListProps:
		return strings.Join(p.Items, "\n")
	}
	return ""
}

// Assets returns pointers to every asset reference in the component, nested
// group members included, so callers can rewrite them in place.
func (c Component) Assets() []*ImageProps {
	switch p := c.Props.(type) {
	case *ImageProps:
		return []*ImageProps{p}
	case *ImageGroupProps:
		out := make([]*ImageProps, len(p.Images))
		for i := range p.Images {
			out[i] = &p.Images[i]
		}
		return out
	case *TableGroupProps:
		out := make([]*ImageProps, len(p.Tables))
		for i := range p.Tables {
			out[i] = &p.Tables[i]
		}
		return out
	}
	return nil
}

// GroupID returns the group id of group components.
func (c Component) GroupID() string {
	switch p := c.Props.(type) {
	case *ImageGroupProps:
		return p.GroupID
	case *TableGroupProps:
		return p.GroupID
	}
	return ""
}

func marshalWithExtra(v any, extra Extra) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, known := fields[k]; !known {
			fields[k] = val
		}
	}
	return json.Marshal(fields)
}

// unmarshalWithExtra decodes b into v and returns the fields v has no slot
// for. A known field whose value has the wrong JSON type does not fail the
// payload: integral numbers and numeric strings are coerced for int fields,
// anything else is kept in the returned Extra.
func unmarshalWithExtra(b []byte, v any) (Extra, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	known := jsonKeys(reflect.TypeOf(v).Elem())
	strict := json.Unmarshal(b, v) == nil

	var extra Extra
	for k, val := range fields {
		if _, ok := known[k]; ok && (strict || decodeField(v, k, val) == nil) {
			continue
		}
		if extra == nil {
			extra = make(Extra)
		}
		extra[k] = val
	}
	return extra, nil
}

// decodeField sets the single field key of v from val.
func decodeField(v any, key string, val json.RawMessage) error {
	single, err := json.Marshal(map[string]json.RawMessage{key: val})
	if err != nil {
		return err
	}
	err = json.Unmarshal(single, v)
	if err == nil {
		return nil
	}
	n, ok := lenientInt(val)
	if !ok {
		return err
	}
	single, _ = json.Marshal(map[string]int{key: n})
	return json.Unmarshal(single, v)
}

// lenientInt accepts 2, 2.0 and "2".
func lenientInt(val json.RawMessage) (int, bool) {
	var s string
	if json.Unmarshal(val, &s) == nil {
		val = json.RawMessage(strings.TrimSpace(s))
	}
	var f float64
	if json.Unmarshal(val, &f) != nil || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func jsonKeys(t reflect.Type) map[string]struct{} {
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}
