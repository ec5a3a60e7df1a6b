package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/roach88/nodebook/internal/ir"
	"github.com/roach88/nodebook/internal/runtime"
)

type encoder struct {
	c *Codec

	// active holds the mutable containers on the current path.
	active map[starlark.Value]bool
}

func (e *encoder) fail(v starlark.Value, path, reason string, err error) error {
	return &SerializationError{Type: v.Type(), Path: path, Reason: reason, Err: err}
}

// enter marks a mutable container as being encoded and reports a cycle if
// it already is.
func (e *encoder) enter(v starlark.Value, path string) error {
	if e.active[v] {
		return e.fail(v, path, "cyclic reference", nil)
	}
	e.active[v] = true
	return nil
}

func (e *encoder) leave(v starlark.Value) {
	delete(e.active, v)
}

func (e *encoder) value(v starlark.Value, path string, depth int) (ir.IRValue, error) {
	if depth > e.c.maxDepth {
		return nil, e.fail(v, path, fmt.Sprintf("nesting deeper than %d", e.c.maxDepth), nil)
	}

	switch v := v.(type) {
	case starlark.NoneType:
		return kind(KindNone), nil

	case starlark.Bool:
		return ir.IRObject{"kind": ir.IRString(KindBool), "value": ir.IRBool(v)}, nil

	case starlark.Int:
		return ir.IRObject{"kind": ir.IRString(KindInt), "value": ir.IRString(v.String())}, nil

	case starlark.Float:
		return ir.IRObject{"kind": ir.IRString(KindFloat), "value": ir.IRString(formatFloat(float64(v)))}, nil

	case starlark.String:
		if utf8.ValidString(string(v)) {
			return ir.IRObject{"kind": ir.IRString(KindString), "value": ir.IRString(v)}, nil
		}
		return ir.IRObject{
			"kind":   ir.IRString(KindString),
			"base64": ir.IRString(base64.StdEncoding.EncodeToString([]byte(v))),
		}, nil

	case starlark.Bytes:
		return ir.IRObject{
			"kind":   ir.IRString(KindBytes),
			"base64": ir.IRString(base64.StdEncoding.EncodeToString([]byte(v))),
		}, nil

	case *starlark.List:
		if err := e.enter(v, path); err != nil {
			return nil, err
		}
		defer e.leave(v)
		items, err := e.items(iterate(v), path, depth)
		if err != nil {
			return nil, err
		}
		return ir.IRObject{"kind": ir.IRString(KindList), "items": items}, nil

	case starlark.Tuple:
		items, err := e.items(v, path, depth)
		if err != nil {
			return nil, err
		}
		return ir.IRObject{"kind": ir.IRString(KindTuple), "items": items}, nil

	case *starlark.Set:
		if err := e.enter(v, path); err != nil {
			return nil, err
		}
		defer e.leave(v)
		items, err := e.items(iterate(v), path, depth)
		if err != nil {
			return nil, err
		}
		return ir.IRObject{"kind": ir.IRString(KindSet), "items": items}, nil

	case *starlark.Dict:
		if err := e.enter(v, path); err != nil {
			return nil, err
		}
		defer e.leave(v)
		return e.dict(v, path, depth)

	case *starlarkstruct.Struct:
		if err := e.enter(v, path); err != nil {
			return nil, err
		}
		defer e.leave(v)
		return e.structValue(v, path, depth)

	case *runtime.Table:
		if err := e.enter(v, path); err != nil {
			return nil, err
		}
		defer e.leave(v)
		return e.table(v, path, depth)

	case *starlark.Function:
		if err := e.enter(v, path); err != nil {
			return nil, err
		}
		defer e.leave(v)
		return e.function(v, path, depth)

	case *starlark.Builtin:
		ref, ok := e.c.rt.BuiltinRef(v)
		if !ok {
			if v.Receiver() != nil {
				return nil, e.fail(v, path, fmt.Sprintf("bound method %s.%s", v.Receiver().Type(), v.Name()), nil)
			}
			return nil, e.fail(v, path, fmt.Sprintf("unregistered builtin %s", v.Name()), nil)
		}
		return ir.IRObject{
			"kind":   ir.IRString(KindBuiltin),
			"module": ir.IRString(ref.Module),
			"name":   ir.IRString(ref.Name),
		}, nil

	case *starlarkstruct.Module:
		name, ok := e.c.rt.ModuleName(v)
		if !ok {
			return nil, e.fail(v, path, fmt.Sprintf("unregistered module %s", v.Name), nil)
		}
		return ir.IRObject{"kind": ir.IRString(KindModule), "name": ir.IRString(name)}, nil

	case startime.Duration:
		return ir.IRObject{
			"kind":  ir.IRString(KindDuration),
			"value": ir.IRString(strconv.FormatInt(int64(v), 10)),
		}, nil

	case startime.Time:
		t := time.Time(v)
		return ir.IRObject{
			"kind":      ir.IRString(KindTime),
			"unix_nano": ir.IRString(strconv.FormatInt(t.UnixNano(), 10)),
			"location":  ir.IRString(t.Location().String()),
		}, nil
	}

	return nil, e.fail(v, path, "unsupported type", nil)
}

func (e *encoder) items(elems []starlark.Value, path string, depth int) (ir.IRArray, error) {
	items := make(ir.IRArray, len(elems))
	for i, elem := range elems {
		item, err := e.value(elem, fmt.Sprintf("%s[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	return items, nil
}

func (e *encoder) dict(d *starlark.Dict, path string, depth int) (ir.IRValue, error) {
	entries := make(ir.IRArray, 0, d.Len())
	for _, item := range d.Items() {
		k, err := e.value(item[0], path+"{key}", depth+1)
		if err != nil {
			return nil, err
		}
		v, err := e.value(item[1], fmt.Sprintf("%s[%s]", path, item[0].String()), depth+1)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ir.IRArray{k, v})
	}
	return ir.IRObject{"kind": ir.IRString(KindDict), "entries": entries}, nil
}

func (e *encoder) structValue(s *starlarkstruct.Struct, path string, depth int) (ir.IRValue, error) {
	ctor, err := e.value(s.Constructor(), path+".<constructor>", depth+1)
	if err != nil {
		return nil, err
	}
	fields := make(ir.IRObject, len(s.AttrNames()))
	for _, name := range s.AttrNames() {
		fv, err := s.Attr(name)
		if err != nil {
			return nil, e.fail(s, path+"."+name, "unreadable field", err)
		}
		enc, err := e.value(fv, path+"."+name, depth+1)
		if err != nil {
			return nil, err
		}
		fields[name] = enc
	}
	return ir.IRObject{"kind": ir.IRString(KindStruct), "constructor": ctor, "fields": fields}, nil
}

func (e *encoder) table(t *runtime.Table, path string, depth int) (ir.IRValue, error) {
	columns := make(ir.IRArray, 0, len(t.Columns()))
	for _, c := range t.Columns() {
		columns = append(columns, ir.IRString(c))
	}
	rows := make(ir.IRArray, 0, len(t.Rows()))
	for i, row := range t.Rows() {
		items, err := e.items(row, fmt.Sprintf("%s.rows[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		rows = append(rows, items)
	}
	return ir.IRObject{"kind": ir.IRString(KindTable), "columns": columns, "rows": rows}, nil
}

func kind(k string) ir.IRObject {
	return ir.IRObject{"kind": ir.IRString(k)}
}

// formatFloat writes the shortest exact representation. Negative zero is
// folded into zero so that 0.0 == -0.0 hash alike.
func formatFloat(f float64) string {
	if f == 0 {
		return "0"
	}
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// hashForm returns a copy of tree with every dict's entries and every set's
// items sorted by canonical encoding. Payloads keep insertion order; only
// the hash is taken over this form, so equal dicts and sets share a hash.
func hashForm(tree ir.IRValue) (ir.IRValue, error) {
	switch v := tree.(type) {
	case ir.IRArray:
		out := make(ir.IRArray, len(v))
		for i, item := range v {
			norm, err := hashForm(item)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil

	case ir.IRObject:
		out := make(ir.IRObject, len(v))
		for k, item := range v {
			norm, err := hashForm(item)
			if err != nil {
				return nil, err
			}
			out[k] = norm
		}
		var unordered string
		switch out["kind"] {
		case ir.IRString(KindDict):
			unordered = "entries"
		case ir.IRString(KindSet):
			unordered = "items"
		}
		if items, ok := out[unordered].(ir.IRArray); ok {
			if err := sortCanonical(items); err != nil {
				return nil, err
			}
		}
		return out, nil

	default:
		return tree, nil
	}
}

// sortCanonical orders items by their canonical encoding.
func sortCanonical(items ir.IRArray) error {
	keys := make([][]byte, len(items))
	for i, item := range items {
		b, err := ir.MarshalCanonical(item)
		if err != nil {
			return err
		}
		keys[i] = b
	}
	sort.Sort(&byKey{items: items, keys: keys})
	return nil
}

type byKey struct {
	items ir.IRArray
	keys  [][]byte
}

func (s *byKey) Len() int           { return len(s.items) }
func (s *byKey) Less(i, j int) bool { return bytes.Compare(s.keys[i], s.keys[j]) < 0 }
func (s *byKey) Swap(i, j int) {
	s.items[i], s.items[j] = s.items[j], s.items[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}

func iterate(v starlark.Iterable) []starlark.Value {
	var out []starlark.Value
	iter := v.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		out = append(out, x)
	}
	return out
}
