package logic

import (
	"fmt"
	"maps"
	"slices"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// scriptInput exposes an evaluation input to a script as a struct, so rules
// read ctx.artifacts rather than ctx["artifacts"].
func scriptInput(input map[string]interface{}) (*starlarkstruct.Struct, error) {
	fields := make(starlark.StringDict, len(input))
	for name, v := range input {
		sv, err := toScript(v)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		fields[name] = sv
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, fields), nil
}

// toScript converts decoded JSON-like data into Starlark values. Map keys
// are inserted in sorted order so scripts iterate deterministically.
func toScript(v interface{}) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		return starlark.Float(x), nil
	case []string:
		items := make([]starlark.Value, len(x))
		for i, s := range x {
			items[i] = starlark.String(s)
		}
		return starlark.NewList(items), nil
	case []interface{}:
		items := make([]starlark.Value, 0, len(x))
		for i, elem := range x {
			sv, err := toScript(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, sv)
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		d := starlark.NewDict(len(x))
		for _, k := range slices.Sorted(maps.Keys(x)) {
			sv, err := toScript(x[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("cannot pass %T to a script", v)
}

// fromScript converts a script's return value back into Go data. Lists and
// tuples both become []interface{}; dicts and structs become maps.
func fromScript(v starlark.Value) (interface{}, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer %s overflows int64", x)
	case *starlark.Dict:
		out := make(map[string]interface{}, x.Len())
		for _, kv := range x.Items() {
			k, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", kv[0])
			}
			val, err := fromScript(kv[1])
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]interface{})
		for _, name := range x.AttrNames() {
			attr, err := x.Attr(name)
			if err != nil {
				return nil, err
			}
			if out[name], err = fromScript(attr); err != nil {
				return nil, err
			}
		}
		return out, nil
	case starlark.Iterable:
		var out []interface{}
		iter := x.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			val, err := fromScript(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		if out == nil {
			out = []interface{}{}
		}
		return out, nil
	}
	return nil, fmt.Errorf("script returned unsupported %s", v.Type())
}
