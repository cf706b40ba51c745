// Package demo is a small target package served by the pkgproxy CLI.
package demo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/richinsley/pkgproxy"
)

// Root is the target root of the demo package.
const Root = "demo"

// Package returns the source tree of the demo package:
//
//	demo          package, exports VERSION
//	demo.mathx    add, mul, hypot
//	demo.text     greet, upper, words
//	demo.shapes   abstract Shape with Rect and Circle
//	demo.counter  Counter class
func Package() pkgproxy.Package {
	return pkgproxy.Package{
		Name: Root,
		Doc:  "Demo target package.",
		Init: func(m *pkgproxy.Module, _ pkgproxy.Importer) error {
			m.Set("VERSION", "1.0.0")
			return nil
		},
		Modules: []pkgproxy.ModuleSource{
			{Name: "mathx", Doc: "Arithmetic helpers.", Build: buildMathx},
			{Name: "text", Doc: "String helpers.", Build: buildText},
			{Name: "shapes", Doc: "Shapes with an abstract base.", Build: buildShapes},
			{Name: "counter", Doc: "A stateful counter.", Build: buildCounter},
		},
	}
}

// Catalog returns a catalog holding the demo package.
func Catalog() *pkgproxy.Catalog {
	return pkgproxy.NewCatalog(Package())
}

func buildMathx(m *pkgproxy.Module, _ pkgproxy.Importer) error {
	m.Define(
		pkgproxy.NewFunc("add", func(args pkgproxy.Args) (any, error) {
			a, b, err := twoNumbers(args)
			if err != nil {
				return nil, err
			}
			return a + b, nil
		}),
		pkgproxy.NewFunc("mul", func(args pkgproxy.Args) (any, error) {
			a, b, err := twoNumbers(args)
			if err != nil {
				return nil, err
			}
			return a * b, nil
		}),
		pkgproxy.NewFunc("hypot", func(args pkgproxy.Args) (any, error) {
			a, b, err := twoNumbers(args)
			if err != nil {
				return nil, err
			}
			return math.Hypot(a, b), nil
		}),
	)
	m.Set("PI", math.Pi)
	m.Set("__all__", []string{"add", "mul", "hypot", "PI"})
	return nil
}

func buildText(m *pkgproxy.Module, _ pkgproxy.Importer) error {
	m.Define(
		pkgproxy.NewFunc("greet", func(args pkgproxy.Args) (any, error) {
			name, ok := args.Get(0, "name")
			if !ok {
				name = "world"
			}
			return fmt.Sprintf("hello, %v", name), nil
		}),
		pkgproxy.NewFunc("upper", func(args pkgproxy.Args) (any, error) {
			s, err := oneString(args)
			if err != nil {
				return nil, err
			}
			return strings.ToUpper(s), nil
		}),
		pkgproxy.NewFunc("words", func(args pkgproxy.Args) (any, error) {
			s, err := oneString(args)
			if err != nil {
				return nil, err
			}
			return strings.Fields(s), nil
		}),
	)
	return nil
}

func buildShapes(m *pkgproxy.Module, imp pkgproxy.Importer) error {
	mathx, err := imp.Import(Root + ".mathx")
	if err != nil {
		return err
	}
	hypot, err := pkgproxy.GetAttr(mathx, "hypot")
	if err != nil {
		return err
	}

	shape := pkgproxy.MustNewClass(m.Name(), "Shape")
	shape.Define(
		&pkgproxy.Method{Name: "area", Abstract: true},
		&pkgproxy.Method{Name: "describe", Fn: func(self *pkgproxy.Instance, _ pkgproxy.Args) (any, error) {
			area, err := callMethod(self, "area")
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("%s with area %.2f", self.Class().Name(), area), nil
		}},
	)

	rect := pkgproxy.MustNewClass(m.Name(), "Rect", shape)
	rect.Define(
		&pkgproxy.Method{Name: "__init__", Fn: func(self *pkgproxy.Instance, args pkgproxy.Args) (any, error) {
			w, h, err := twoNumbers(args)
			if err != nil {
				return nil, err
			}
			self.SetField("w", w)
			self.SetField("h", h)
			return nil, nil
		}},
		&pkgproxy.Method{Name: "area", Fn: func(self *pkgproxy.Instance, _ pkgproxy.Args) (any, error) {
			w, _ := self.Field("w")
			h, _ := self.Field("h")
			return w.(float64) * h.(float64), nil
		}},
		&pkgproxy.Method{Name: "diagonal", Fn: func(self *pkgproxy.Instance, _ pkgproxy.Args) (any, error) {
			w, _ := self.Field("w")
			h, _ := self.Field("h")
			return hypot.(pkgproxy.Callable).Invoke(pkgproxy.Args{Pos: []any{w, h}})
		}},
	)

	circle := pkgproxy.MustNewClass(m.Name(), "Circle", shape)
	circle.Define(
		&pkgproxy.Method{Name: "__init__", Fn: func(self *pkgproxy.Instance, args pkgproxy.Args) (any, error) {
			v, ok := args.Get(0, "r")
			if !ok {
				return nil, fmt.Errorf("Circle() missing radius")
			}
			r, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			if r < 0 {
				return nil, fmt.Errorf("Circle() radius must not be negative, got %v", r)
			}
			self.SetField("r", r)
			return nil, nil
		}},
		&pkgproxy.Method{Name: "area", Fn: func(self *pkgproxy.Instance, _ pkgproxy.Args) (any, error) {
			r, _ := self.Field("r")
			return math.Pi * r.(float64) * r.(float64), nil
		}},
	)

	m.Define(shape, rect, circle)
	return nil
}

func buildCounter(m *pkgproxy.Module, _ pkgproxy.Importer) error {
	counter := pkgproxy.MustNewClass(m.Name(), "Counter")
	counter.Set("step", 1.0)
	counter.Define(
		&pkgproxy.Method{Name: "__init__", Fn: func(self *pkgproxy.Instance, args pkgproxy.Args) (any, error) {
			start := 0.0
			if v, ok := args.Get(0, "start"); ok {
				f, err := toFloat(v)
				if err != nil {
					return nil, err
				}
				start = f
			}
			self.SetField("value", start)
			return nil, nil
		}},
		&pkgproxy.Method{Name: "increment", Fn: func(self *pkgproxy.Instance, _ pkgproxy.Args) (any, error) {
			step, err := pkgproxy.GetAttr(self, "step")
			if err != nil {
				return nil, err
			}
			v, _ := self.Field("value")
			next := v.(float64) + step.(float64)
			self.SetField("value", next)
			return next, nil
		}},
	)
	m.Define(counter)
	return nil
}

func callMethod(self *pkgproxy.Instance, name string) (float64, error) {
	v, err := pkgproxy.GetAttr(self, name)
	if err != nil {
		return 0, err
	}
	fn, ok := v.(pkgproxy.Callable)
	if !ok {
		return 0, fmt.Errorf("%s is not callable", name)
	}
	out, err := fn.Invoke(pkgproxy.Args{})
	if err != nil {
		return 0, err
	}
	return toFloat(out)
}

func twoNumbers(args pkgproxy.Args) (float64, float64, error) {
	av, ok := args.Get(0, "a")
	if !ok {
		return 0, 0, fmt.Errorf("missing argument a")
	}
	bv, ok := args.Get(1, "b")
	if !ok {
		return 0, 0, fmt.Errorf("missing argument b")
	}
	a, err := toFloat(av)
	if err != nil {
		return 0, 0, err
	}
	b, err := toFloat(bv)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func oneString(args pkgproxy.Args) (string, error) {
	v, ok := args.Get(0, "s")
	if !ok {
		return "", fmt.Errorf("missing argument s")
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", v)
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not a number: %T", v)
}
