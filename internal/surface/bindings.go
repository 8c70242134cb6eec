package surface

import (
	"net/url"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/shim"
	"github.com/skiff-browser/exthost/internal/surface/webstorage"
)

// docState backs the minimal document and navigation primitives exposed
// to extension scripts. It is only touched while the context mutex is
// held, either by a running script or by snapshot.
type docState struct {
	title       string
	readyState  string
	href        string
	origin      string
	styles      []string
	scriptSrcs  []string
	navigations []string
}

func newDocState() *docState {
	return &docState{readyState: "complete"}
}

// bindWindow aliases the global object as window/self and installs
// window.open, which records the target instead of navigating.
func (sc *scriptContext) bindWindow() {
	global := sc.vm.GlobalObject()
	sc.vm.Set("window", global)
	sc.vm.Set("self", global)

	sc.vm.Set("open", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			sc.doc.navigations = append(sc.doc.navigations, call.Argument(0).String())
		}
		return goja.Null()
	})
}

// bindLocation installs a location object whose href setter records the
// navigation. The host decides whether to act on recorded targets.
func (sc *scriptContext) bindLocation(href string) {
	sc.doc.href = href
	if u, err := url.Parse(href); err == nil && u.Host != "" {
		sc.doc.origin = u.Scheme + "://" + u.Host
	}

	loc := sc.vm.NewObject()
	loc.DefineAccessorProperty("href",
		sc.vm.ToValue(func() string { return sc.doc.href }),
		sc.vm.ToValue(func(v string) {
			sc.doc.navigations = append(sc.doc.navigations, v)
			sc.doc.href = v
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	loc.Set("origin", sc.doc.origin)
	loc.Set("reload", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
	sc.vm.Set("location", loc)
}

// bindLocalStorage exposes an extension's persistent area through the
// standard localStorage contract, including the live length property.
func (sc *scriptContext) bindLocalStorage(area *webstorage.Area) {
	ls := sc.vm.NewObject()

	ls.Set("getItem", func(call goja.FunctionCall) goja.Value {
		v, ok := area.Get(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return sc.vm.ToValue(v)
	})
	ls.Set("setItem", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if err := area.Set(key, call.Argument(1).String()); err != nil {
			sc.log.Warn("web storage write failed", zap.String("key", key), zap.Error(err))
		}
		return goja.Undefined()
	})
	ls.Set("removeItem", func(call goja.FunctionCall) goja.Value {
		if err := area.Remove(call.Argument(0).String()); err != nil {
			sc.log.Warn("web storage remove failed", zap.Error(err))
		}
		return goja.Undefined()
	})
	ls.Set("clear", func(call goja.FunctionCall) goja.Value {
		if err := area.Clear(); err != nil {
			sc.log.Warn("web storage clear failed", zap.Error(err))
		}
		return goja.Undefined()
	})
	ls.Set("key", func(call goja.FunctionCall) goja.Value {
		n := int(call.Argument(0).ToInteger())
		keys := area.Keys()
		if n < 0 || n >= len(keys) {
			return goja.Null()
		}
		return sc.vm.ToValue(keys[n])
	})
	ls.DefineAccessorProperty("length",
		sc.vm.ToValue(func() int { return area.Len() }),
		nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	sc.vm.Set("localStorage", ls)
	sc.vm.Set("sessionStorage", ls)
}

// bindDocument installs the minimal document: title, readyState,
// createElement, and head/body appendChild that record style and script
// insertions.
func (sc *scriptContext) bindDocument() {
	doc := sc.vm.NewObject()

	doc.DefineAccessorProperty("title",
		sc.vm.ToValue(func() string { return sc.doc.title }),
		sc.vm.ToValue(func(v string) { sc.doc.title = v }),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	doc.Set("readyState", sc.doc.readyState)

	doc.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return sc.newElement(call.Argument(0).String())
	})

	head := sc.vm.NewObject()
	head.Set("appendChild", sc.makeAppendChild())
	doc.Set("head", head)

	body := sc.vm.NewObject()
	body.Set("appendChild", sc.makeAppendChild())
	doc.Set("body", body)

	doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return goja.Null()
	})
	doc.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return goja.Null()
	})
	doc.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return sc.vm.ToValue([]interface{}{})
	})
	doc.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})

	sc.vm.Set("document", doc)
}

func (sc *scriptContext) newElement(tag string) *goja.Object {
	el := sc.vm.NewObject()
	el.Set("tagName", strings.ToUpper(tag))
	el.Set("textContent", "")

	attrs := make(map[string]string)
	el.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		attrs[call.Argument(0).String()] = call.Argument(1).String()
		return goja.Undefined()
	})
	el.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := attrs[call.Argument(0).String()]; ok {
			return sc.vm.ToValue(v)
		}
		return goja.Null()
	})
	el.Set("style", sc.vm.NewObject())
	el.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		return call.Argument(0)
	})
	return el
}

// makeAppendChild records appended style text and script sources so
// insertCSS and DOM-building scripts observably take effect.
func (sc *scriptContext) makeAppendChild() func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		child := call.Argument(0)
		obj, ok := child.(*goja.Object)
		if !ok {
			return child
		}

		tag := ""
		if v := obj.Get("tagName"); v != nil && !goja.IsUndefined(v) {
			tag = strings.ToUpper(v.String())
		}
		switch tag {
		case "STYLE":
			if v := obj.Get("textContent"); v != nil && !goja.IsUndefined(v) {
				sc.doc.styles = append(sc.doc.styles, v.String())
			}
		case "SCRIPT":
			if v := obj.Get("src"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
				sc.doc.scriptSrcs = append(sc.doc.scriptSrcs, v.String())
			}
		}
		return child
	}
}

// setTitle seeds the document title, typically from parsed page HTML.
func (sc *scriptContext) setTitle(title string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.doc.title = title
}

// addStyle records a stylesheet applied by the host, as if appended via
// a style element.
func (sc *scriptContext) addStyle(css string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.doc.styles = append(sc.doc.styles, css)
}

// bindHost exposes the host hook the compatibility payload uses to load
// packaged files for file-based executeScript and insertCSS.
func (sc *scriptContext) bindHost(read func(string) ([]byte, error)) {
	host := sc.vm.NewObject()
	host.Set("readResource", func(call goja.FunctionCall) goja.Value {
		data, err := read(call.Argument(0).String())
		if err != nil {
			panic(sc.vm.NewGoError(err))
		}
		return sc.vm.ToValue(string(data))
	})
	sc.vm.Set(shim.HostSymbol, host)
}
