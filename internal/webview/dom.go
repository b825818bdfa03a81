package webview

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DOM exposes a goquery document to page scripts. Element proxies are
// cached per node, so the same node always yields the same JS object.
// Only the UI loop touches it.
type DOM struct {
	vm        *goja.Runtime
	doc       *goquery.Document
	proxies   map[*html.Node]*goja.Object
	nodes     map[*goja.Object]*html.Node
	listeners map[*html.Node]map[string][]goja.Value
	changes   []DOMChange
	limit     int

	// invoke runs a listener under the page's time budget.
	invoke func(fn goja.Callable, this goja.Value, args ...goja.Value) error
}

func newDOM(vm *goja.Runtime, doc *goquery.Document, limit int) *DOM {
	return &DOM{
		vm:        vm,
		doc:       doc,
		proxies:   make(map[*html.Node]*goja.Object),
		nodes:     make(map[*goja.Object]*html.Node),
		listeners: make(map[*html.Node]map[string][]goja.Value),
		limit:     limit,
		invoke: func(fn goja.Callable, this goja.Value, args ...goja.Value) error {
			_, err := fn(this, args...)
			return err
		},
	}
}

// Root returns the document node.
func (d *DOM) Root() *html.Node {
	return d.doc.Nodes[0]
}

// Title returns the document title.
func (d *DOM) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// Changes returns the recorded mutations.
func (d *DOM) Changes() []DOMChange {
	return append([]DOMChange(nil), d.changes...)
}

func (d *DOM) record(change DOMChange) {
	if d.limit > 0 && len(d.changes) >= d.limit {
		d.changes = d.changes[1:]
	}
	d.changes = append(d.changes, change)
}

// Find returns the element nodes matching a CSS selector.
func (d *DOM) Find(selector string) []*html.Node {
	return d.doc.Find(selector).Nodes
}

// wrap returns the proxy for node, or null.
func (d *DOM) wrap(node *html.Node) goja.Value {
	if node == nil {
		return goja.Null()
	}
	if node.Type == html.DocumentNode {
		return d.vm.Get("document")
	}
	if node.Type != html.ElementNode {
		return goja.Null()
	}
	if obj, ok := d.proxies[node]; ok {
		return obj
	}
	obj := d.vm.NewDynamicObject(&elementObject{dom: d, node: node, expando: map[string]goja.Value{}})
	d.proxies[node] = obj
	d.nodes[obj] = node
	return obj
}

func (d *DOM) wrapAll(nodes []*html.Node) goja.Value {
	items := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			items = append(items, d.wrap(n))
		}
	}
	return d.vm.NewArray(items...)
}

// unwrap maps a JS value back to its node.
func (d *DOM) unwrap(v goja.Value) (*html.Node, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	node, ok := d.nodes[obj]
	return node, ok
}

func (d *DOM) fn(impl func(call goja.FunctionCall) goja.Value) goja.Value {
	return d.vm.ToValue(impl)
}

func (d *DOM) addListener(node *html.Node, typ string, fn goja.Value) {
	if _, ok := goja.AssertFunction(fn); !ok {
		return
	}
	byType, ok := d.listeners[node]
	if !ok {
		byType = make(map[string][]goja.Value)
		d.listeners[node] = byType
	}
	for _, existing := range byType[typ] {
		if existing.StrictEquals(fn) {
			return
		}
	}
	byType[typ] = append(byType[typ], fn)
}

func (d *DOM) removeListener(node *html.Node, typ string, fn goja.Value) {
	list := d.listeners[node][typ]
	for i, existing := range list {
		if existing.StrictEquals(fn) {
			d.listeners[node][typ] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Dispatch fires evt at node and bubbles it to the document. It returns how
// many listeners ran and the first listener error.
func (d *DOM) Dispatch(node *html.Node, evt Event) (int, error) {
	stopped := false
	obj := d.vm.NewObject()
	_ = obj.Set("type", evt.Type)
	_ = obj.Set("target", d.wrap(node))
	_ = obj.Set("clientX", evt.ClientX)
	_ = obj.Set("clientY", evt.ClientY)
	_ = obj.Set("pageX", evt.PageX)
	_ = obj.Set("pageY", evt.PageY)
	_ = obj.Set("screenX", evt.ScreenX)
	_ = obj.Set("screenY", evt.ScreenY)
	touches := make([]interface{}, 0, len(evt.Touches))
	for _, t := range evt.Touches {
		touches = append(touches, map[string]interface{}{
			"identifier": t.Identifier,
			"clientX":    t.ClientX,
			"clientY":    t.ClientY,
		})
	}
	_ = obj.Set("touches", d.vm.NewArray(touches...))
	_ = obj.Set("preventDefault", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = obj.Set("stopPropagation", func(goja.FunctionCall) goja.Value {
		stopped = true
		return goja.Undefined()
	})

	ran := 0
	var firstErr error
	for n := node; n != nil && !stopped; n = n.Parent {
		current := d.wrap(n)
		_ = obj.Set("currentTarget", current)
		// Copy: listeners may add or remove listeners.
		list := append([]goja.Value(nil), d.listeners[n][evt.Type]...)
		for _, fnValue := range list {
			fn, _ := goja.AssertFunction(fnValue)
			ran++
			if err := d.invoke(fn, current, obj); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return ran, firstErr
}

// cssPath describes node for change records, e.g. "body > div#menu > p:nth-of-type(2)".
func cssPath(node *html.Node) string {
	var parts []string
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		part := n.Data
		if id := attr(n, "id"); id != "" {
			parts = append(parts, part+"#"+id)
			break
		}
		if n.Parent != nil {
			index, count := 0, 0
			for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
				if s.Type == html.ElementNode && s.Data == n.Data {
					count++
					if s == n {
						index = count
					}
				}
			}
			if count > 1 {
				part = fmt.Sprintf("%s:nth-of-type(%d)", part, index)
			}
		}
		parts = append(parts, part)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func first(s *goquery.Selection) *html.Node {
	if s.Length() == 0 {
		return nil
	}
	return s.Nodes[0]
}

func selection(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

// shallowClone copies n and its attributes, detached and without children.
func shallowClone(n *html.Node) *html.Node {
	return &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
}

// isAncestor reports whether a is an ancestor of n.
func isAncestor(a, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// documentObject backs the page's document global.
type documentObject struct {
	dom *DOM
}

func (o *documentObject) Get(key string) goja.Value {
	d := o.dom
	switch key {
	case "title":
		return d.vm.ToValue(d.Title())
	case "body":
		return d.wrap(first(d.doc.Find("body")))
	case "head":
		return d.wrap(first(d.doc.Find("head")))
	case "documentElement":
		return d.wrap(first(d.doc.Find("html")))
	case "nodeType":
		return d.vm.ToValue(9)
	case "getElementById":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			id := call.Argument(0).String()
			for _, n := range d.doc.Find("[id]").Nodes {
				if attr(n, "id") == id {
					return d.wrap(n)
				}
			}
			return goja.Null()
		})
	case "querySelector":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			return d.wrap(first(d.doc.Find(call.Argument(0).String())))
		})
	case "querySelectorAll":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			return d.wrapAll(d.doc.Find(call.Argument(0).String()).Nodes)
		})
	case "getElementsByTagName":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			return d.wrapAll(d.doc.Find(call.Argument(0).String()).Nodes)
		})
	case "getElementsByClassName":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			classes := strings.Fields(call.Argument(0).String())
			if len(classes) == 0 {
				return d.vm.NewArray()
			}
			return d.wrapAll(d.doc.Find("." + strings.Join(classes, ".")).Nodes)
		})
	case "evaluateXPath":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			nodes, err := htmlquery.QueryAll(d.Root(), call.Argument(0).String())
			if err != nil {
				panic(d.vm.NewGoError(fmt.Errorf("evaluateXPath: %w", err)))
			}
			return d.wrapAll(nodes)
		})
	case "createElement":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			tag := strings.ToLower(call.Argument(0).String())
			return d.wrap(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
		})
	case "addEventListener":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			d.addListener(d.Root(), call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		})
	case "removeEventListener":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			d.removeListener(d.Root(), call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		})
	}
	return goja.Undefined()
}

func (o *documentObject) Set(key string, val goja.Value) bool {
	if key != "title" {
		return false
	}
	d := o.dom
	title := d.doc.Find("title").First()
	if title.Length() == 0 {
		head := d.doc.Find("head").First()
		if head.Length() == 0 {
			return false
		}
		head.AppendHtml("<title></title>")
		title = head.Find("title").First()
	}
	title.SetText(val.String())
	d.record(DOMChange{Type: "set_title", Selector: "title", Value: val.String()})
	return true
}

func (o *documentObject) Has(key string) bool {
	return !goja.IsUndefined(o.Get(key))
}

func (o *documentObject) Delete(string) bool {
	return false
}

func (o *documentObject) Keys() []string {
	return []string{"title", "body", "head", "documentElement"}
}

// elementObject is the live proxy for one element node.
type elementObject struct {
	dom     *DOM
	node    *html.Node
	expando map[string]goja.Value
	style   *goja.Object
}

func (e *elementObject) Get(key string) goja.Value {
	d, n := e.dom, e.node
	switch key {
	case "id":
		return d.vm.ToValue(attr(n, "id"))
	case "className":
		return d.vm.ToValue(attr(n, "class"))
	case "tagName", "nodeName":
		return d.vm.ToValue(strings.ToUpper(n.Data))
	case "nodeType":
		return d.vm.ToValue(1)
	case "textContent", "innerText":
		return d.vm.ToValue(selection(n).Text())
	case "innerHTML":
		h, _ := selection(n).Html()
		return d.vm.ToValue(h)
	case "outerHTML":
		h, _ := goquery.OuterHtml(selection(n))
		return d.vm.ToValue(h)
	case "parentNode", "parentElement":
		return d.wrap(n.Parent)
	case "childNodes", "children":
		return d.wrapAll(elementChildren(n))
	case "firstElementChild":
		if kids := elementChildren(n); len(kids) > 0 {
			return d.wrap(kids[0])
		}
		return goja.Null()
	case "style":
		if e.style == nil {
			e.style = d.vm.NewDynamicObject(&styleObject{element: e})
		}
		return e.style
	case "getAttribute":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			for _, a := range n.Attr {
				if a.Key == name {
					return d.vm.ToValue(a.Val)
				}
			}
			return goja.Null()
		})
	case "hasAttribute":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			_, ok := selection(n).Attr(call.Argument(0).String())
			return d.vm.ToValue(ok)
		})
	case "setAttribute":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			e.setAttr(call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		})
	case "removeAttribute":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			selection(n).RemoveAttr(name)
			d.record(DOMChange{Type: "remove_attribute", Selector: cssPath(n), Property: name})
			return goja.Undefined()
		})
	case "querySelector":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			return d.wrap(first(selection(n).Find(call.Argument(0).String())))
		})
	case "querySelectorAll":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			return d.wrapAll(selection(n).Find(call.Argument(0).String()).Nodes)
		})
	case "getElementsByTagName":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			return d.wrapAll(selection(n).Find(call.Argument(0).String()).Nodes)
		})
	case "value":
		return d.vm.ToValue(e.value())
	case "cloneNode":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			if call.Argument(0).ToBoolean() {
				return d.wrap(selection(n).Clone().Nodes[0])
			}
			return d.wrap(shallowClone(n))
		})
	case "insertBefore":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			child, ok := d.unwrap(call.Argument(0))
			if !ok || child == n || isAncestor(child, n) {
				panic(d.vm.NewTypeError("insertBefore: argument is not an element"))
			}
			ref, hasRef := d.unwrap(call.Argument(1))
			if hasRef && ref.Parent != n {
				panic(d.vm.NewTypeError("insertBefore: reference is not a child of this element"))
			}
			if ref == child {
				return call.Argument(0)
			}
			if child.Parent != nil {
				child.Parent.RemoveChild(child)
			}
			if hasRef {
				n.InsertBefore(child, ref)
			} else {
				n.AppendChild(child)
			}
			d.record(DOMChange{Type: "insert_before", Selector: cssPath(n), Value: child.Data})
			return call.Argument(0)
		})
	case "appendChild":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			child, ok := d.unwrap(call.Argument(0))
			if !ok || child == n || isAncestor(child, n) {
				panic(d.vm.NewTypeError("appendChild: argument is not an element"))
			}
			if child.Parent != nil {
				child.Parent.RemoveChild(child)
			}
			n.AppendChild(child)
			d.record(DOMChange{Type: "append_child", Selector: cssPath(n), Value: child.Data})
			return call.Argument(0)
		})
	case "removeChild":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			child, ok := d.unwrap(call.Argument(0))
			if !ok || child.Parent != n {
				panic(d.vm.NewTypeError("removeChild: argument is not a child of this element"))
			}
			path := cssPath(child)
			n.RemoveChild(child)
			d.record(DOMChange{Type: "remove_child", Selector: path})
			return call.Argument(0)
		})
	case "addEventListener":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			d.addListener(n, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		})
	case "removeEventListener":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			d.removeListener(n, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		})
	case "click":
		return d.fn(func(call goja.FunctionCall) goja.Value {
			if _, err := d.Dispatch(n, Event{Type: "click"}); err != nil {
				panic(d.vm.NewGoError(err))
			}
			return goja.Undefined()
		})
	}
	if v, ok := e.expando[key]; ok {
		return v
	}
	return goja.Undefined()
}

// value reads a form control's value. Text areas hold it as their text.
func (e *elementObject) value() string {
	if e.node.DataAtom == atom.Textarea {
		return selection(e.node).Text()
	}
	return attr(e.node, "value")
}

func (e *elementObject) setValue(value string) {
	if e.node.DataAtom == atom.Textarea {
		selection(e.node).SetText(value)
		e.dom.record(DOMChange{Type: "set_value", Selector: cssPath(e.node), Value: value})
		return
	}
	e.setAttr("value", value)
}

func (e *elementObject) setAttr(name, value string) {
	selection(e.node).SetAttr(name, value)
	e.dom.record(DOMChange{Type: "set_attribute", Selector: cssPath(e.node), Property: name, Value: value})
}

func (e *elementObject) Set(key string, val goja.Value) bool {
	switch key {
	case "id":
		e.setAttr("id", val.String())
	case "className":
		e.setAttr("class", val.String())
	case "textContent", "innerText":
		selection(e.node).SetText(val.String())
		e.dom.record(DOMChange{Type: "set_text", Selector: cssPath(e.node), Value: val.String()})
	case "innerHTML":
		selection(e.node).SetHtml(val.String())
		e.dom.record(DOMChange{Type: "set_html", Selector: cssPath(e.node), Value: val.String()})
	case "value":
		e.setValue(val.String())
	case "tagName", "nodeName", "nodeType", "parentNode", "parentElement", "childNodes", "children", "style":
		return false
	default:
		e.expando[key] = val
	}
	return true
}

func (e *elementObject) Has(key string) bool {
	return !goja.IsUndefined(e.Get(key))
}

func (e *elementObject) Delete(key string) bool {
	delete(e.expando, key)
	return true
}

func (e *elementObject) Keys() []string {
	keys := []string{"id", "className", "tagName", "textContent"}
	extra := make([]string, 0, len(e.expando))
	for k := range e.expando {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// styleObject maps element.style properties onto the style attribute.
type styleObject struct {
	element *elementObject
}

func (s *styleObject) declarations() ([]string, map[string]string) {
	var order []string
	values := make(map[string]string)
	for _, decl := range strings.Split(attr(s.element.node, "style"), ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if _, seen := values[name]; !seen {
			order = append(order, name)
		}
		values[name] = strings.TrimSpace(value)
	}
	return order, values
}

func (s *styleObject) Get(key string) goja.Value {
	_, values := s.declarations()
	return s.element.dom.vm.ToValue(values[cssName(key)])
}

func (s *styleObject) Set(key string, val goja.Value) bool {
	order, values := s.declarations()
	name := cssName(key)
	if _, ok := values[name]; !ok {
		order = append(order, name)
	}
	values[name] = val.String()

	parts := make([]string, 0, len(order))
	for _, k := range order {
		if values[k] != "" {
			parts = append(parts, k+": "+values[k])
		}
	}
	s.element.setAttr("style", strings.Join(parts, "; "))
	return true
}

func (s *styleObject) Has(key string) bool {
	_, values := s.declarations()
	_, ok := values[cssName(key)]
	return ok
}

func (s *styleObject) Delete(key string) bool {
	return s.Set(key, s.element.dom.vm.ToValue(""))
}

func (s *styleObject) Keys() []string {
	order, _ := s.declarations()
	return order
}

// cssName turns backgroundColor into background-color.
func cssName(key string) string {
	var b strings.Builder
	for _, r := range key {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
