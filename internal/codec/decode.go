package codec

import (
	"encoding/base64"
	"math/big"
	"strconv"
	"time"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/roach88/nodebook/internal/ir"
	"github.com/roach88/nodebook/internal/runtime"
)

type decoder struct {
	c *Codec
}

func (d *decoder) value(tree ir.IRValue) (starlark.Value, error) {
	obj, ok := tree.(ir.IRObject)
	if !ok {
		return nil, malformed("value is %T, want object", tree)
	}
	k, err := str(obj, "kind")
	if err != nil {
		return nil, err
	}

	switch k {
	case KindNone:
		return starlark.None, nil

	case KindBool:
		b, ok := obj["value"].(ir.IRBool)
		if !ok {
			return nil, malformed("bool without value")
		}
		return starlark.Bool(b), nil

	case KindInt:
		s, err := str(obj, "value")
		if err != nil {
			return nil, err
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, malformed("bad int %q", s)
		}
		return starlark.MakeBigInt(n), nil

	case KindFloat:
		s, err := str(obj, "value")
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, malformed("bad float %q", s)
		}
		return starlark.Float(f), nil

	case KindString:
		if s, ok := obj["value"].(ir.IRString); ok {
			return starlark.String(s), nil
		}
		b, err := b64(obj)
		if err != nil {
			return nil, err
		}
		return starlark.String(b), nil

	case KindBytes:
		b, err := b64(obj)
		if err != nil {
			return nil, err
		}
		return starlark.Bytes(b), nil

	case KindList:
		items, err := d.items(obj)
		if err != nil {
			return nil, err
		}
		return starlark.NewList(items), nil

	case KindTuple:
		items, err := d.items(obj)
		if err != nil {
			return nil, err
		}
		return starlark.Tuple(items), nil

	case KindSet:
		items, err := d.items(obj)
		if err != nil {
			return nil, err
		}
		set := starlark.NewSet(len(items))
		for _, item := range items {
			if err := set.Insert(item); err != nil {
				return nil, malformed("set item: %v", err)
			}
		}
		return set, nil

	case KindDict:
		return d.dict(obj)

	case KindStruct:
		return d.structValue(obj)

	case KindTable:
		return d.table(obj)

	case KindFunction:
		return d.function(obj)

	case KindBuiltin:
		module, err := str(obj, "module")
		if err != nil {
			return nil, err
		}
		name, err := str(obj, "name")
		if err != nil {
			return nil, err
		}
		b, ok := d.c.rt.LookupBuiltin(runtime.BuiltinRef{Module: module, Name: name})
		if !ok {
			return nil, malformed("unknown builtin %s.%s", module, name)
		}
		return b, nil

	case KindModule:
		name, err := str(obj, "name")
		if err != nil {
			return nil, err
		}
		mod, ok := d.c.rt.Module(name)
		if !ok {
			return nil, malformed("unknown module %q", name)
		}
		return mod, nil

	case KindDuration:
		s, err := str(obj, "value")
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, malformed("bad duration %q", s)
		}
		return startime.Duration(n), nil

	case KindTime:
		s, err := str(obj, "unix_nano")
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, malformed("bad time %q", s)
		}
		locName, err := str(obj, "location")
		if err != nil {
			return nil, err
		}
		loc, err := time.LoadLocation(locName)
		if err != nil {
			return nil, malformed("bad location %q", locName)
		}
		return startime.Time(time.Unix(0, n).In(loc)), nil
	}

	return nil, malformed("unknown kind %q", k)
}

func (d *decoder) items(obj ir.IRObject) ([]starlark.Value, error) {
	arr, ok := obj["items"].(ir.IRArray)
	if !ok {
		return nil, malformed("container without items")
	}
	out := make([]starlark.Value, len(arr))
	for i, item := range arr {
		v, err := d.value(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *decoder) dict(obj ir.IRObject) (starlark.Value, error) {
	entries, ok := obj["entries"].(ir.IRArray)
	if !ok {
		return nil, malformed("dict without entries")
	}
	dict := starlark.NewDict(len(entries))
	for _, entry := range entries {
		pair, ok := entry.(ir.IRArray)
		if !ok || len(pair) != 2 {
			return nil, malformed("dict entry is not a pair")
		}
		k, err := d.value(pair[0])
		if err != nil {
			return nil, err
		}
		v, err := d.value(pair[1])
		if err != nil {
			return nil, err
		}
		if err := dict.SetKey(k, v); err != nil {
			return nil, malformed("dict key: %v", err)
		}
	}
	return dict, nil
}

func (d *decoder) structValue(obj ir.IRObject) (starlark.Value, error) {
	ctorTree, ok := obj["constructor"]
	if !ok {
		return nil, malformed("struct without constructor")
	}
	ctor, err := d.value(ctorTree)
	if err != nil {
		return nil, err
	}
	fields, ok := obj["fields"].(ir.IRObject)
	if !ok {
		return nil, malformed("struct without fields")
	}
	members := make(starlark.StringDict, len(fields))
	for name, tree := range fields {
		v, err := d.value(tree)
		if err != nil {
			return nil, err
		}
		members[name] = v
	}
	return starlarkstruct.FromStringDict(ctor, members), nil
}

func (d *decoder) table(obj ir.IRObject) (starlark.Value, error) {
	colsArr, ok := obj["columns"].(ir.IRArray)
	if !ok {
		return nil, malformed("table without columns")
	}
	columns := make([]string, len(colsArr))
	for i, c := range colsArr {
		s, ok := c.(ir.IRString)
		if !ok {
			return nil, malformed("table column is %T", c)
		}
		columns[i] = string(s)
	}
	rowsArr, ok := obj["rows"].(ir.IRArray)
	if !ok {
		return nil, malformed("table without rows")
	}
	rows := make([]starlark.Tuple, len(rowsArr))
	for i, r := range rowsArr {
		items, err := d.items(ir.IRObject{"items": r})
		if err != nil {
			return nil, err
		}
		rows[i] = items
	}
	t, err := runtime.NewTable(columns, rows)
	if err != nil {
		return nil, malformed("%v", err)
	}
	return t, nil
}

func (d *decoder) function(obj ir.IRObject) (starlark.Value, error) {
	form, err := str(obj, "form")
	if err != nil {
		return nil, err
	}
	name, err := str(obj, "name")
	if err != nil {
		return nil, err
	}
	source, err := str(obj, "source")
	if err != nil {
		return nil, err
	}
	globals, ok := obj["globals"].(ir.IRObject)
	if !ok {
		return nil, malformed("function without globals")
	}
	captures := make(starlark.StringDict, len(globals))
	for capName, tree := range globals {
		v, err := d.value(tree)
		if err != nil {
			return nil, err
		}
		captures[capName] = v
	}
	return d.rebuild(form, name, source, captures)
}

func str(obj ir.IRObject, key string) (string, error) {
	s, ok := obj[key].(ir.IRString)
	if !ok {
		return "", malformed("missing string field %q", key)
	}
	return string(s), nil
}

func b64(obj ir.IRObject) ([]byte, error) {
	s, err := str(obj, "base64")
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, malformed("bad base64: %v", err)
	}
	return b, nil
}
