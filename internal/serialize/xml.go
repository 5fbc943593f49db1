package serialize

import (
	"encoding/xml"
	"io"
)

// XMLWriter writes
//
//	<Export source=".." category=".." kind="..">
//	  <Item><Name>..</Name><Connection name="WorksAt.Company"><Item>..</Item></Connection></Item>
//	</Export>
//
// Field elements are named by column; nil values become empty elements.
type XMLWriter struct {
	enc *xml.Encoder
	err error
}

var _ Writer = (*XMLWriter)(nil)

func NewXML(w io.Writer) *XMLWriter {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return &XMLWriter{enc: enc}
}

func (x *XMLWriter) token(t xml.Token) {
	if x.err != nil {
		return
	}
	x.err = x.enc.EncodeToken(t)
}

func (x *XMLWriter) start(name string, attrs ...xml.Attr) {
	x.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (x *XMLWriter) end(name string) {
	x.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (x *XMLWriter) fields(fs []Field) {
	for _, f := range fs {
		x.start(f.Column)
		if s := text(f.Value); s != "" {
			x.token(xml.CharData(s))
		}
		x.end(f.Column)
	}
}

func (x *XMLWriter) flush() error {
	if x.err == nil {
		x.err = x.enc.Flush()
	}
	return x.err
}

func (x *XMLWriter) Begin(m Meta) error {
	x.token(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)})
	x.start("Export",
		xml.Attr{Name: xml.Name{Local: "source"}, Value: m.Source},
		xml.Attr{Name: xml.Name{Local: "category"}, Value: m.Category},
		xml.Attr{Name: xml.Name{Local: "kind"}, Value: string(m.Kind)},
	)
	return x.err
}

func (x *XMLWriter) BeginItem(fs []Field) error {
	x.start("Item")
	x.fields(fs)
	return x.err
}

func (x *XMLWriter) BeginConnection(name string) error {
	x.start("Connection", xml.Attr{Name: xml.Name{Local: "name"}, Value: name})
	return x.err
}

func (x *XMLWriter) WriteChild(fs []Field) error {
	x.start("Item")
	x.fields(fs)
	x.end("Item")
	return x.err
}

func (x *XMLWriter) EndConnection() error {
	x.end("Connection")
	return x.err
}

// EndItem closes the item and flushes it to the underlying writer.
func (x *XMLWriter) EndItem() error {
	x.end("Item")
	return x.flush()
}

func (x *XMLWriter) End() error {
	x.end("Export")
	x.token(xml.CharData("\n"))
	return x.flush()
}
