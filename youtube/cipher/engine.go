package cipher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	"github.com/robertkrimen/otto"
)

// Engine names accepted by NewEngine.
const (
	EngineGoja = "goja"
	EngineOtto = "otto"
)

// ErrNoFunction is returned by an Engine when the script does not define the
// requested global function.
var ErrNoFunction = errors.New("function not defined")

// Engine evaluates a script and calls one of its global functions with a
// single string argument.
type Engine interface {
	Call(ctx context.Context, script, fn, arg string) (string, error)
}

// NewEngine returns the engine registered under name, backed by the other
// engine as fallback. An empty name selects goja.
func NewEngine(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EngineGoja:
		return Chain{GojaEngine{}, OttoEngine{}}, nil
	case EngineOtto:
		return Chain{OttoEngine{}, GojaEngine{}}, nil
	default:
		return nil, fmt.Errorf("unknown js engine: %s", name)
	}
}

// Chain tries each engine in order until one succeeds. Cancellation stops
// the chain.
type Chain []Engine

func (c Chain) Call(ctx context.Context, script, fn, arg string) (string, error) {
	var firstErr error
	missing := 0
	for _, e := range c {
		out, err := e.Call(ctx, script, fn, arg)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, ErrNoFunction) {
			missing++
		} else if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil && missing > 0 {
		return "", ErrNoFunction
	}
	if firstErr == nil {
		firstErr = errors.New("no js engine configured")
	}
	return "", firstErr
}

// GojaEngine runs scripts on goja.
type GojaEngine struct{}

func (GojaEngine) Call(ctx context.Context, script, fn, arg string) (string, error) {
	vm := goja.New()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	if _, err := vm.RunString(script); err != nil {
		return "", err
	}
	f, ok := goja.AssertFunction(vm.Get(fn))
	if !ok {
		return "", ErrNoFunction
	}
	v, err := f(goja.Undefined(), vm.ToValue(arg))
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return "", fmt.Errorf("%s returned %s", fn, v.String())
	}
	return v.String(), nil
}

// OttoEngine runs scripts on otto. Regular expression syntax otto cannot
// compile is rewritten first.
type OttoEngine struct{}

var (
	namedGroupRe = regexp.MustCompile(`\(\?<[A-Za-z_$][A-Za-z0-9_$]*>`)
	lookaroundRe = regexp.MustCompile(`\(\?(?:<=|<!|=|!)`)
)

func sanitizeForOtto(script string) string {
	script = namedGroupRe.ReplaceAllString(script, "(")
	return lookaroundRe.ReplaceAllString(script, "(?:")
}

func (OttoEngine) Call(ctx context.Context, script, fn, arg string) (result string, err error) {
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt <- func() { panic(errInterrupted) }
		case <-stop:
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			if r == errInterrupted {
				result, err = "", ctx.Err()
				return
			}
			panic(r)
		}
	}()

	if _, err := vm.Run(sanitizeForOtto(script)); err != nil {
		return "", err
	}
	f, err := vm.Get(fn)
	if err != nil || !f.IsFunction() {
		return "", ErrNoFunction
	}
	v, err := f.Call(otto.UndefinedValue(), arg)
	if err != nil {
		return "", err
	}
	if v.IsUndefined() || v.IsNull() {
		return "", fmt.Errorf("%s returned %s", fn, v.String())
	}
	return v.ToString()
}

var errInterrupted = errors.New("interrupted")
