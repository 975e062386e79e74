package config

import (
	"reflect"
	"strings"

	"github.com/spf13/pflag"
)

// FlagBinding exposes every Config option as a flag of the same name.
type FlagBinding struct {
	fs     *pflag.FlagSet
	values *Config
	fields map[string]int
}

// BindFlags registers one flag per option on fs. Dashes and underscores are
// interchangeable in flag names (--few-shot-n, --few_shot_n).
func BindFlags(fs *pflag.FlagSet) *FlagBinding {
	b := &FlagBinding{fs: fs, values: Defaults(), fields: make(map[string]int)}

	v := reflect.ValueOf(b.values).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := optionName(field)
		if name == "" {
			continue
		}
		help := field.Tag.Get("help")

		switch p := v.Field(i).Addr().Interface().(type) {
		case *string:
			fs.StringVar(p, name, *p, help)
		case *int:
			fs.IntVar(p, name, *p, help)
		case *int64:
			fs.Int64Var(p, name, *p, help)
		case *float64:
			fs.Float64Var(p, name, *p, help)
		case *bool:
			fs.BoolVar(p, name, *p, help)
		default:
			continue
		}
		b.fields[name] = i
	}

	fs.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
	})
	return b
}

// Apply copies the flags set on the command line onto cfg.
func (b *FlagBinding) Apply(cfg *Config) {
	src := reflect.ValueOf(b.values).Elem()
	dst := reflect.ValueOf(cfg).Elem()
	b.fs.Visit(func(f *pflag.Flag) {
		if i, ok := b.fields[f.Name]; ok {
			dst.Field(i).Set(src.Field(i))
		}
	})
}

// Changed reports whether any option flag was set.
func (b *FlagBinding) Changed() bool {
	changed := false
	b.fs.Visit(func(f *pflag.Flag) {
		if _, ok := b.fields[f.Name]; ok {
			changed = true
		}
	})
	return changed
}

func optionName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// Resolve builds the effective configuration: defaults, then the config file
// at path (if any), then the flags, then prompt_json. Escape sequences in the
// prompt options are expanded last.
func Resolve(path string, flags *FlagBinding) (*Config, []string, error) {
	cfg := Defaults()
	if path != "" {
		loaded, err := LoadFrom(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	if flags != nil {
		flags.Apply(cfg)
	}
	applied, err := cfg.ApplyPromptJSON()
	if err != nil {
		return nil, nil, err
	}
	cfg.Unescape()
	return cfg, applied, nil
}
