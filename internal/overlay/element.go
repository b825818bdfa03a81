package overlay

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

var styleName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// Element is a handle to a page element reached through its Minko accessor.
// Handles are valid until the next page becomes ready.
type Element struct {
	engine   *Engine
	accessor string

	mu        sync.Mutex
	listening map[string]bool
	handlers  map[string]*listeners[Event]
}

// Accessor returns the JS expression naming the element, e.g. Minko.element3.
func (el *Element) Accessor() string {
	return el.accessor
}

func (el *Element) get(ctx context.Context, property string) (string, error) {
	return el.engine.Eval(ctx, fmt.Sprintf("(%s.%s)", el.accessor, property))
}

func (el *Element) set(ctx context.Context, property, value string) error {
	_, err := el.engine.Eval(ctx, fmt.Sprintf("%s.%s = %s;", el.accessor, property, quote(value)))
	return err
}

func (el *Element) ID(ctx context.Context) (string, error) {
	return el.get(ctx, "id")
}

func (el *Element) SetID(ctx context.Context, value string) error {
	return el.set(ctx, "id", value)
}

func (el *Element) ClassName(ctx context.Context) (string, error) {
	return el.get(ctx, "className")
}

func (el *Element) SetClassName(ctx context.Context, value string) error {
	return el.set(ctx, "className", value)
}

func (el *Element) TagName(ctx context.Context) (string, error) {
	return el.get(ctx, "tagName")
}

func (el *Element) TextContent(ctx context.Context) (string, error) {
	return el.get(ctx, "textContent")
}

func (el *Element) SetTextContent(ctx context.Context, value string) error {
	return el.set(ctx, "textContent", value)
}

func (el *Element) InnerHTML(ctx context.Context) (string, error) {
	return el.get(ctx, "innerHTML")
}

func (el *Element) SetInnerHTML(ctx context.Context, value string) error {
	return el.set(ctx, "innerHTML", value)
}

// GetAttribute returns the attribute value, or "" when it is missing.
func (el *Element) GetAttribute(ctx context.Context, name string) (string, error) {
	return el.engine.Eval(ctx, fmt.Sprintf("(%s.getAttribute(%s))", el.accessor, quote(name)))
}

func (el *Element) SetAttribute(ctx context.Context, name, value string) error {
	_, err := el.engine.Eval(ctx, fmt.Sprintf("%s.setAttribute(%s, %s);", el.accessor, quote(name), quote(value)))
	return err
}

// Style reads one style property by its JS name, e.g. backgroundColor.
func (el *Element) Style(ctx context.Context, name string) (string, error) {
	if !styleName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return el.get(ctx, "style."+name)
}

func (el *Element) SetStyle(ctx context.Context, name, value string) error {
	if !styleName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return el.set(ctx, "style."+name, value)
}

// ParentNode returns the parent element, or ErrNoElement at the root.
func (el *Element) ParentNode(ctx context.Context) (*Element, error) {
	return el.engine.one(ctx, el.accessor+".parentNode")
}

// ChildNodes returns the element children in document order.
func (el *Element) ChildNodes(ctx context.Context) ([]*Element, error) {
	return el.engine.list(ctx, el.accessor+".childNodes")
}

// QuerySelector returns the first descendant matching selector, or ErrNoElement.
func (el *Element) QuerySelector(ctx context.Context, selector string) (*Element, error) {
	return el.engine.one(ctx, fmt.Sprintf("%s.querySelector(%s)", el.accessor, quote(selector)))
}

// GetElementsByTagName returns every descendant with the given tag.
func (el *Element) GetElementsByTagName(ctx context.Context, tag string) ([]*Element, error) {
	return el.engine.list(ctx, fmt.Sprintf("%s.getElementsByTagName(%s)", el.accessor, quote(tag)))
}

// AppendChild moves child to the end of this element's children.
func (el *Element) AppendChild(ctx context.Context, child *Element) error {
	_, err := el.engine.Eval(ctx, fmt.Sprintf("%s.appendChild(%s);", el.accessor, child.accessor))
	return err
}

// InsertBefore moves child in front of ref. A nil ref appends.
func (el *Element) InsertBefore(ctx context.Context, child, ref *Element) error {
	refExpr := "null"
	if ref != nil {
		refExpr = ref.accessor
	}
	_, err := el.engine.Eval(ctx, fmt.Sprintf("%s.insertBefore(%s, %s);", el.accessor, child.accessor, refExpr))
	return err
}

// RemoveChild detaches child from this element.
func (el *Element) RemoveChild(ctx context.Context, child *Element) error {
	_, err := el.engine.Eval(ctx, fmt.Sprintf("%s.removeChild(%s);", el.accessor, child.accessor))
	return err
}

// CloneNode returns a detached copy, with descendants when deep is set.
func (el *Element) CloneNode(ctx context.Context, deep bool) (*Element, error) {
	return el.engine.one(ctx, fmt.Sprintf("%s.cloneNode(%t)", el.accessor, deep))
}

// Value returns a form control's current value.
func (el *Element) Value(ctx context.Context) (string, error) {
	return el.get(ctx, "value")
}

func (el *Element) SetValue(ctx context.Context, value string) error {
	return el.set(ctx, "value", value)
}

// On subscribes fn to events of type on this element. The page listener is
// installed the first time a type is requested.
func (el *Element) On(ctx context.Context, eventType string, fn func(Event)) (func(), error) {
	el.mu.Lock()
	if el.handlers == nil {
		el.handlers = make(map[string]*listeners[Event])
		el.listening = make(map[string]bool)
	}
	set, ok := el.handlers[eventType]
	if !ok {
		set = &listeners[Event]{}
		el.handlers[eventType] = set
	}
	installed := el.listening[eventType]
	el.listening[eventType] = true
	el.mu.Unlock()

	if !installed {
		script := fmt.Sprintf("Minko.addListener(%s, %s, %s);", el.accessor, quote(eventType), quote(el.accessor))
		if _, err := el.engine.Eval(ctx, script); err != nil {
			el.mu.Lock()
			delete(el.listening, eventType)
			el.mu.Unlock()
			return nil, err
		}
	}
	return set.add(fn), nil
}

func (el *Element) deliver(evt Event) {
	el.mu.Lock()
	set := el.handlers[evt.Type]
	el.mu.Unlock()
	if set != nil {
		set.emit(evt)
	}
}
