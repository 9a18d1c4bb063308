// Package override applies typed parameter overrides to a job graph before
// submission. The engine never mutates its input: Apply clones the graph and
// returns the mutated copy. Overrides are applied in list order, so a later
// override addressing the same path wins.
package override

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/graph"
)

// Kind tags an override's payload, making the dispatch in Apply exhaustive.
type Kind string

const (
	// Text stores the string value as-is; a missing value stores "".
	Text Kind = "text"
	// Number stores the numeric value; a missing value stores 0.
	Number Kind = "number"
	// Boolean stores NormalizeBoolean of the value.
	Boolean Kind = "boolean"
	// Image ingests the referenced asset and stores the server handle.
	Image Kind = "image"
	// Values merges a whole object of key → primitive value into the
	// node's inputs.
	Values Kind = "values"
)

// ImageSource names where an image override's bytes come from: a URL or a
// named binary payload among the host's input items.
type ImageSource struct {
	URL       string
	BinaryKey string
}

// Override is one typed mutation of a job graph node.
type Override struct {
	NodeID string
	// Path is dot-separated inside the node's inputs. Every segment but the
	// last must resolve to an existing object. Unused for Values overrides.
	Path string
	Kind Kind
	// Value carries the payload for Text, Number, Boolean, and Values.
	Value any
	// Image carries the payload for Image overrides.
	Image *ImageSource
}

// Ingestor resolves an image override into a server-side asset handle.
type Ingestor interface {
	FromURL(ctx context.Context, url string) (string, error)
	FromBinary(ctx context.Context, key string) (string, error)
}

// Engine applies override lists to job graphs.
type Engine struct {
	ingestor Ingestor
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithIngestor sets the asset ingestor used by Image overrides. An Engine
// without one rejects Image overrides.
func WithIngestor(in Ingestor) Option {
	return func(e *Engine) { e.ingestor = in }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply clones g, applies every override in order, and returns the copy.
// Structural problems (unknown node id, bad path, non-primitive bulk value)
// surface as errors immediately; the input graph is never touched either
// way. Applying an empty override list returns a plain clone, so a no-op
// second pass is idempotent.
func (e *Engine) Apply(ctx context.Context, g graph.JobGraph, overrides []Override) (graph.JobGraph, error) {
	out := g.Clone()
	for i, o := range overrides {
		if err := e.applyOne(ctx, out, o); err != nil {
			return nil, fmt.Errorf("override %d (node %q): %w", i, o.NodeID, err)
		}
	}
	return out, nil
}

func (e *Engine) applyOne(ctx context.Context, g graph.JobGraph, o Override) error {
	node, ok := g[o.NodeID]
	if !ok || node == nil {
		return fmt.Errorf("%w: %q", atelier.ErrUnknownNode, o.NodeID)
	}
	if node.Inputs == nil {
		node.Inputs = make(map[string]any)
	}

	switch o.Kind {
	case Text:
		return e.set(node, o, normalizeText(o.Value))
	case Number:
		return e.set(node, o, normalizeNumber(o.Value))
	case Boolean:
		return e.set(node, o, NormalizeBoolean(o.Value))
	case Image:
		handle, err := e.ingestImage(ctx, o)
		if err != nil {
			return err
		}
		return e.set(node, o, handle)
	case Values:
		return e.merge(node, o)
	default:
		return atelier.Errorf(atelier.KindValidation, "override",
			"unknown override kind %q", string(o.Kind))
	}
}

func (e *Engine) ingestImage(ctx context.Context, o Override) (string, error) {
	if e.ingestor == nil {
		return "", atelier.Errorf(atelier.KindValidation, "override",
			"image override on node %q requires an ingestor", o.NodeID)
	}
	if o.Image == nil {
		return "", atelier.Errorf(atelier.KindValidation, "override",
			"image override on node %q has no source", o.NodeID)
	}
	if o.Image.URL != "" {
		return e.ingestor.FromURL(ctx, o.Image.URL)
	}
	if o.Image.BinaryKey != "" {
		return e.ingestor.FromBinary(ctx, o.Image.BinaryKey)
	}
	return "", atelier.Errorf(atelier.KindValidation, "override",
		"image override on node %q needs a url or a binary key", o.NodeID)
}

// set resolves the dot path and stores value at the final segment.
// Connection inputs (NodeRef values) are left untouched.
func (e *Engine) set(node *graph.NodeSpec, o Override, value any) error {
	if o.Path == "" {
		return atelier.Errorf(atelier.KindValidation, "override",
			"override on node %q has an empty path", o.NodeID)
	}
	segments := strings.Split(o.Path, ".")
	container := node.Inputs
	for i, seg := range segments[:len(segments)-1] {
		next, ok := container[seg]
		if !ok {
			return atelier.Errorf(atelier.KindValidation, "override",
				"path %q on node %q: segment %q does not exist", o.Path, o.NodeID, seg)
		}
		obj, ok := next.(map[string]any)
		if !ok {
			return atelier.Errorf(atelier.KindValidation, "override",
				"path %q on node %q: segment %q is not an object",
				strings.Join(segments[:i+1], "."), o.NodeID, seg)
		}
		container = obj
	}

	last := segments[len(segments)-1]
	if existing, ok := container[last]; ok && graph.IsRef(existing) {
		e.logger.Debug("skipping override of connection input",
			slog.String("node", o.NodeID),
			slog.String("path", o.Path),
		)
		return nil
	}
	container[last] = value
	return nil
}

// merge applies a bulk values override: every key of the object lands
// directly in the node's inputs. Values must be JSON-representable
// primitives, arrays, or objects.
func (e *Engine) merge(node *graph.NodeSpec, o Override) error {
	values, ok := o.Value.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: bulk override value must be an object, got %T",
			atelier.ErrInvalidOverrideType, o.Value)
	}
	for key, v := range values {
		if err := checkPrimitive(v); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	for key, v := range values {
		if existing, ok := node.Inputs[key]; ok && graph.IsRef(existing) {
			e.logger.Debug("skipping bulk override of connection input",
				slog.String("node", o.NodeID),
				slog.String("key", key),
			)
			continue
		}
		node.Inputs[key] = v
	}
	return nil
}

// checkPrimitive rejects values with no JSON representation: functions,
// channels, complex numbers, and unsafe pointers, recursively through
// arrays and objects.
func checkPrimitive(v any) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Uintptr,
		reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("%w: %s", atelier.ErrInvalidOverrideType, rv.Kind())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := checkPrimitive(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
	case reflect.Map:
		for _, key := range rv.MapKeys() {
			if err := checkPrimitive(rv.MapIndex(key).Interface()); err != nil {
				return err
			}
		}
	case reflect.Ptr, reflect.Interface:
		if !rv.IsNil() {
			return checkPrimitive(rv.Elem().Interface())
		}
	}
	return nil
}

func normalizeText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func normalizeNumber(v any) float64 {
	switch val := v.(type) {
	case nil:
		return 0
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		return 0
	default:
		return 0
	}
}

// NormalizeBoolean maps an override value onto a strict boolean: only
// boolean true and the exact lowercase string "true" normalize to true.
// Everything else ("True", "TRUE", "yes", "1", nil, absent) is false.
func NormalizeBoolean(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true"
	default:
		return false
	}
}
