package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/vk/mcubench/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// FileName is the name of the cache file inside the deps directory.
const FileName = "cache.hcl"

// fileSchema is the on-disk layout: one block per entry.
//
//	entry "llvm.install_dir" {
//	  flags = []
//	  type  = "string"
//	  value = "/home/user/.mcubench/deps/install/llvm"
//	}
type fileSchema struct {
	Entries []entryBlock `hcl:"entry,block"`
}

type entryBlock struct {
	Name  string    `hcl:"name,label"`
	Flags []string  `hcl:"flags,optional"`
	Type  string    `hcl:"type,optional"`
	Value cty.Value `hcl:"value"`
}

// Encode renders the cache in its file format.
func (c *Cache) Encode() ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for i, e := range c.Entries() {
		if i > 0 {
			body.AppendNewline()
		}
		ty, err := gocty.ImpliedType(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", e.Key, err)
		}
		val, err := gocty.ToCtyValue(e.Value, ty)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", e.Key, err)
		}

		block := body.AppendNewBlock("entry", []string{e.Key.Name}).Body()
		block.SetAttributeValue("flags", flagsValue(e.Key.Flags()))
		block.SetAttributeValue("type", cty.StringVal(typeName(e.Value)))
		block.SetAttributeValue("value", val)
	}
	return hclwrite.Format(f.Bytes()), nil
}

// WriteFile persists the cache atomically.
func (c *Cache) WriteFile(path string) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing dependency cache %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a cache file. A missing file yields an empty cache.
func ReadFile(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading dependency cache: %w", err)
	}
	return Decode(data, path)
}

// Decode parses the file format. filename is only used in diagnostics.
func Decode(data []byte, filename string) (*Cache, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse dependency cache: %w", diags)
	}

	var schema fileSchema
	if diags := gohcl.DecodeBody(file.Body, nil, &schema); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode dependency cache: %w", diags)
	}

	c := New()
	for _, e := range schema.Entries {
		v, err := fromCty(e.Value, e.Type)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.Name, err)
		}
		if err := c.Set(e.Name, e.Flags, v); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func flagsValue(flags []string) cty.Value {
	if len(flags) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(flags))
	for i, f := range flags {
		vals[i] = cty.StringVal(f)
	}
	return cty.ListVal(vals)
}

func typeName(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	default:
		return "string"
	}
}

func fromCty(v cty.Value, typ string) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, errors.New("value must be a known, non-null scalar")
	}
	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Bool:
		return v.True(), nil
	case cty.Number:
		bf := v.AsBigFloat()
		if typ != "float" && bf.IsInt() {
			i, _ := bf.Int64()
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", v.Type().FriendlyName())
	}
}
