//go:build js && wasm

// Command imgform-wasm is the browser side of the form submitter. Built with
// GOOS=js GOARCH=wasm and loaded by the page through wasm_exec.js, it
// registers
//
//	getImageFromFormWebsocket(action, fields, image, instance) Promise
//
// which reads the input elements "<field>-<instance>", sends them to the
// data endpoint and sets the src of "<image>-<instance>". The endpoint can
// be overridden by setting window.imgformEndpoint before loading.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall/js"

	"golang.org/x/exp/slog"

	"github.com/fourtheye/imgserve/pkg/formsubmit"
)

type element struct{ v js.Value }

func (e element) Value() string {
	v := e.v.Get("value")
	if v.Type() != js.TypeString {
		return ""
	}
	return v.String()
}

func (e element) SetSource(src string) {
	e.v.Set("src", src)
}

type document struct{ v js.Value }

func (d document) ElementByID(id string) (formsubmit.Element, bool) {
	el := d.v.Call("getElementById", id)
	if el.IsNull() || el.IsUndefined() {
		return nil, false
	}
	return element{el}, true
}

// hide calls the page's hideForm(group, instance) when it defines one, and
// otherwise hides the element "<group>-<instance>" itself.
func hide(group, instance string) {
	if f := js.Global().Get("hideForm"); f.Type() == js.TypeFunction {
		f.Invoke(group, instance)
		return
	}

	doc := document{js.Global().Get("document")}
	if el, ok := doc.ElementByID(formsubmit.ElementID(group, instance)); ok {
		el.(element).v.Get("style").Set("display", "none")
	}
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).WithGroup("formsubmit")

	submitter := &formsubmit.Submitter{
		Dialer: formsubmit.CoderDialer{},
		Logger: logger,
	}
	if endpoint := js.Global().Get("imgformEndpoint"); endpoint.Type() == js.TypeString {
		submitter.Endpoint = endpoint.String()
	}

	submit := js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) != 4 {
			return rejected(fmt.Errorf("getImageFromFormWebsocket: want 4 arguments, got %d", len(args)))
		}

		action := args[0].String()
		image := args[2].String()
		instance := args[3].String()

		fields := make([]string, args[1].Length())
		for i := range fields {
			fields[i] = args[1].Index(i).String()
		}

		form, err := formsubmit.BindForm(document{js.Global().Get("document")}, action, fields, image, instance, formsubmit.HiderFunc(hide))
		if err != nil {
			logger.Warn("binding form failed", slog.String("instance", instance), slog.Any("error", err))
			return rejected(err)
		}

		// The exchange blocks on the network, so it must not run on the
		// event loop goroutine.
		return newPromise(func(resolve, reject js.Value) {
			go func() {
				resp, err := submitter.Submit(context.Background(), form)
				if err != nil {
					reject.Invoke(js.Global().Get("Error").New(err.Error()))
					return
				}
				resolve.Invoke(resp.Status)
			}()
		})
	})
	defer submit.Release()

	js.Global().Set("getImageFromFormWebsocket", submit)

	select {}
}

func newPromise(run func(resolve, reject js.Value)) js.Value {
	var executor js.Func
	executor = js.FuncOf(func(this js.Value, args []js.Value) any {
		defer executor.Release()
		run(args[0], args[1])
		return nil
	})
	return js.Global().Get("Promise").New(executor)
}

func rejected(err error) js.Value {
	return js.Global().Get("Promise").Call("reject", js.Global().Get("Error").New(err.Error()))
}
