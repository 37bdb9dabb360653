package botguard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"
)

const attestFuncName = "bgAttest"

// GojaSolver executes a user-provided JS file to produce Botguard tokens.
// The script must define a global function `bgAttest(input)` returning a string token
// or an object { token: string, ttlSeconds?: number }.
type GojaSolver struct {
	scriptPath string

	once   sync.Once
	script string
	err    error
}

// NewGojaSolver returns a solver for the script at scriptPath. The file is
// read on first use.
func NewGojaSolver(scriptPath string) *GojaSolver {
	return &GojaSolver{scriptPath: scriptPath}
}

func (s *GojaSolver) load() (string, error) {
	s.once.Do(func() {
		if s.scriptPath == "" {
			s.err = errors.New("goja solver: script path not set")
			return
		}
		b, err := os.ReadFile(s.scriptPath)
		if err != nil {
			s.err = fmt.Errorf("read script: %w", err)
			return
		}
		s.script = string(b)
	})
	return s.script, s.err
}

// Attest runs bgAttest(input) in a fresh runtime. ctx cancellation
// interrupts the script.
func (s *GojaSolver) Attest(ctx context.Context, input Input) (Output, error) {
	script, err := s.load()
	if err != nil {
		return Output{}, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	_ = vm.Set("console", map[string]any{
		"log": func(...any) {},
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	if _, err := vm.RunScript(s.scriptPath, script); err != nil {
		return Output{}, fmt.Errorf("run script: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get(attestFuncName))
	if !ok {
		return Output{}, errors.New("bgAttest function not found in script")
	}
	res, err := fn(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		return Output{}, fmt.Errorf("bgAttest error: %w", err)
	}

	if goja.IsUndefined(res) || goja.IsNull(res) {
		return Output{}, errors.New("bgAttest returned undefined/null")
	}
	if str, ok := res.Export().(string); ok {
		return Output{Token: str}, nil
	}

	var out Output
	obj := res.ToObject(vm)
	if v := obj.Get("token"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		out.Token = v.String()
	}
	if v := obj.Get("ttlSeconds"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		if n := v.ToInteger(); n > 0 {
			out.ExpiresAt = time.Now().Add(time.Duration(n) * time.Second)
		}
	}
	if out.Token == "" {
		return Output{}, errors.New("bgAttest returned no token")
	}
	return out, nil
}
