package runtime

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Table is tabular data: named columns and rows of equal width.
//
// Starlark API:
//
//	t = table(["a", "b"], [(1, 2), (3, 4)])
//	t.columns        # ("a", "b")
//	t.rows           # [(1, 2), (3, 4)]
//	t.column("a")    # [1, 3]
//	t.append((5, 6))
//	t.select("b")    # table(["b"], [(2,), (4,), (6,)])
//	len(t), t[0]
type Table struct {
	columns []string
	rows    []starlark.Tuple
	frozen  bool
}

var (
	_ starlark.Value      = (*Table)(nil)
	_ starlark.HasAttrs   = (*Table)(nil)
	_ starlark.Sequence   = (*Table)(nil)
	_ starlark.Indexable  = (*Table)(nil)
	_ starlark.Comparable = (*Table)(nil)
)

// NewTable builds a table, checking that names are unique and every row
// has one value per column.
func NewTable(columns []string, rows []starlark.Tuple) (*Table, error) {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return nil, fmt.Errorf("table: duplicate column %q", c)
		}
		seen[c] = true
	}
	t := &Table{columns: append([]string(nil), columns...)}
	for _, row := range rows {
		if err := t.checkRow(row); err != nil {
			return nil, err
		}
		t.rows = append(t.rows, append(starlark.Tuple(nil), row...))
	}
	return t, nil
}

// Columns returns a copy of the column names.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Rows returns the rows. Callers must not modify them.
func (t *Table) Rows() []starlark.Tuple {
	return t.rows
}

func (t *Table) checkRow(row starlark.Tuple) error {
	if len(row) != len(t.columns) {
		return fmt.Errorf("table: row has %d values, want %d", len(row), len(t.columns))
	}
	return nil
}

func (t *Table) String() string {
	var b strings.Builder
	b.WriteString("table(")
	b.WriteString(stringsTuple(t.columns).String())
	fmt.Fprintf(&b, ", %d rows)", len(t.rows))
	return b.String()
}

func (t *Table) Type() string { return "table" }

func (t *Table) Freeze() {
	if t.frozen {
		return
	}
	t.frozen = true
	for _, row := range t.rows {
		row.Freeze()
	}
}

func (t *Table) Truth() starlark.Bool { return len(t.rows) > 0 }

func (t *Table) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: table")
}

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Index(i int) starlark.Value { return t.rows[i] }

func (t *Table) Iterate() starlark.Iterator {
	return &tableIterator{t: t}
}

func (t *Table) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other := y.(*Table)
	switch op {
	case syntax.EQL:
		return t.equal(other, depth)
	case syntax.NEQ:
		eq, err := t.equal(other, depth)
		return !eq, err
	default:
		return false, fmt.Errorf("%s %s %s not implemented", t.Type(), op, other.Type())
	}
}

func (t *Table) equal(other *Table, depth int) (bool, error) {
	if len(t.columns) != len(other.columns) || len(t.rows) != len(other.rows) {
		return false, nil
	}
	for i := range t.columns {
		if t.columns[i] != other.columns[i] {
			return false, nil
		}
	}
	for i := range t.rows {
		eq, err := starlark.EqualDepth(t.rows[i], other.rows[i], depth-1)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

func (t *Table) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		return stringsTuple(t.columns), nil
	case "rows":
		elems := make([]starlark.Value, len(t.rows))
		for i, row := range t.rows {
			elems[i] = row
		}
		return starlark.NewList(elems), nil
	}
	if method, ok := tableMethods[name]; ok {
		return method.BindReceiver(t), nil
	}
	return nil, nil
}

func (t *Table) AttrNames() []string {
	return []string{"append", "column", "columns", "rows", "select"}
}

func (t *Table) columnIndex(name string) (int, error) {
	for i, c := range t.columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("table has no column %q", name)
}

var tableMethods = map[string]*starlark.Builtin{
	"append": starlark.NewBuiltin("append", tableAppend),
	"column": starlark.NewBuiltin("column", tableColumn),
	"select": starlark.NewBuiltin("select", tableSelect),
}

// newTable implements the table(columns, rows=[]) builtin.
func newTable(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var columns starlark.Iterable
	var rows starlark.Iterable = starlark.NewList(nil)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "columns", &columns, "rows?", &rows); err != nil {
		return nil, err
	}

	names, err := iterStrings(columns)
	if err != nil {
		return nil, fmt.Errorf("%s: columns: %w", b.Name(), err)
	}

	var tuples []starlark.Tuple
	iter := rows.Iterate()
	defer iter.Done()
	var row starlark.Value
	for iter.Next(&row) {
		tuple, err := toTuple(row)
		if err != nil {
			return nil, fmt.Errorf("%s: rows: %w", b.Name(), err)
		}
		tuples = append(tuples, tuple)
	}
	return NewTable(names, tuples)
}

func tableAppend(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	t := b.Receiver().(*Table)
	var row starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &row); err != nil {
		return nil, err
	}
	if t.frozen {
		return nil, fmt.Errorf("%s: cannot append to frozen table", b.Name())
	}
	tuple, err := toTuple(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := t.checkRow(tuple); err != nil {
		return nil, err
	}
	t.rows = append(t.rows, tuple)
	return starlark.None, nil
}

func tableColumn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	t := b.Receiver().(*Table)
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	idx, err := t.columnIndex(name)
	if err != nil {
		return nil, err
	}
	values := make([]starlark.Value, len(t.rows))
	for i, row := range t.rows {
		values[i] = row[idx]
	}
	return starlark.NewList(values), nil
}

func tableSelect(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	t := b.Receiver().(*Table)
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	names, err := iterStrings(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	indexes := make([]int, len(names))
	for i, name := range names {
		if indexes[i], err = t.columnIndex(name); err != nil {
			return nil, err
		}
	}
	rows := make([]starlark.Tuple, len(t.rows))
	for r, row := range t.rows {
		rows[r] = make(starlark.Tuple, len(indexes))
		for i, idx := range indexes {
			rows[r][i] = row[idx]
		}
	}
	return NewTable(names, rows)
}

type tableIterator struct {
	t *Table
	i int
}

func (it *tableIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.t.rows) {
		return false
	}
	*p = it.t.rows[it.i]
	it.i++
	return true
}

func (it *tableIterator) Done() {}

func toTuple(v starlark.Value) (starlark.Tuple, error) {
	if tuple, ok := v.(starlark.Tuple); ok {
		return tuple, nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want iterable row", v.Type())
	}
	var tuple starlark.Tuple
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		tuple = append(tuple, x)
	}
	return tuple, nil
}

func iterStrings(iterable starlark.Iterable) ([]string, error) {
	var out []string
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		s, ok := starlark.AsString(x)
		if !ok {
			return nil, fmt.Errorf("got %s, want string", x.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

func stringsTuple(ss []string) starlark.Tuple {
	tuple := make(starlark.Tuple, len(ss))
	for i, s := range ss {
		tuple[i] = starlark.String(s)
	}
	return tuple
}
