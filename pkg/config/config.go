package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors a configuration struct field by field. Precedence:
// modified value > environment > config file > default tag > zero value.
type Config struct {
	Ptr      reflect.Value //指向配置结构体值
	Modify   any           //命令行修改的值
	Env      any           //环境变量中的值
	File     any           //配置文件中的值
	Default  any           //默认值
	Enum     []string
	name     string // 小写
	propsMap map[string]*Config
	props    []*Config
	tag      reflect.StructTag
	err      error
}

var durationType = reflect.TypeOf(time.Duration(0))

func (config *Config) Get(key string) (v *Config) {
	if config.propsMap == nil {
		config.propsMap = make(map[string]*Config)
	}
	if v, ok := config.propsMap[key]; ok {
		return v
	}
	v = &Config{name: key}
	config.propsMap[key] = v
	config.props = append(config.props, v)
	return v
}

func (config *Config) Has(key string) (ok bool) {
	if config.propsMap == nil {
		return false
	}
	_, ok = config.propsMap[strings.ToLower(key)]
	return ok
}

func (config *Config) GetValue() any {
	return config.Ptr.Interface()
}

// Err returns the first value that could not be assigned.
func (config *Config) Err() error {
	if config.err != nil {
		return config.err
	}
	for _, p := range config.props {
		if err := p.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (config *Config) set(name string, v any) (reflect.Value, bool) {
	target, err := config.assign(name, v)
	if err != nil {
		if config.err == nil {
			config.err = err
		}
		return target, false
	}
	if len(config.Enum) > 0 {
		if s := fmt.Sprint(target.Interface()); !contains(config.Enum, s) {
			config.err = fmt.Errorf("%s: %q is not one of %s", name, s, strings.Join(config.Enum, ","))
			return target, false
		}
	}
	return target, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Parse 第一步读取配置结构体的默认值与环境变量
func (config *Config) Parse(s any, prefix ...string) {
	var t reflect.Type
	var v reflect.Value
	if vv, ok := s.(reflect.Value); ok {
		t, v = vv.Type(), vv
	} else {
		t, v = reflect.TypeOf(s), reflect.ValueOf(s)
	}
	if t.Kind() == reflect.Pointer {
		t, v = t.Elem(), v.Elem()
	}

	config.Ptr = v
	config.Default = v.Interface()
	if enum := config.tag.Get("enum"); enum != "" {
		for _, kv := range strings.Split(enum, ",") {
			value, _, _ := strings.Cut(kv, ":")
			config.Enum = append(config.Enum, strings.TrimSpace(value))
		}
	}

	if l := len(prefix); l > 0 && t.Kind() != reflect.Struct {
		name := strings.ToLower(prefix[l-1])
		if tag := config.tag.Get("default"); tag != "" {
			if dv, ok := config.set(name, tag); ok {
				v.Set(dv)
				config.Default = v.Interface()
			}
		}
		if envValue := os.Getenv(strings.Join(prefix, "_")); envValue != "" {
			if ev, ok := config.set(name, envValue); ok {
				v.Set(ev)
				config.Env = v.Interface()
			}
		}
	}

	if t.Kind() == reflect.Struct {
		for i, j := 0, t.NumField(); i < j; i++ {
			ft, fv := t.Field(i), v.Field(i)
			if !ft.IsExported() {
				continue
			}
			name := strings.ToLower(ft.Name)
			if tag := ft.Tag.Get("yaml"); tag != "" {
				if tag == "-" {
					continue
				}
				name, _, _ = strings.Cut(tag, ",")
			}
			prop := config.Get(name)
			prop.tag = ft.Tag
			prop.Parse(fv, append(prefix, strings.ToUpper(ft.Name))...)
		}
	}
}

// ParseUserFile 第二步读取用户配置文件
func (config *Config) ParseUserFile(conf map[string]any) {
	if conf == nil {
		return
	}
	config.File = conf
	for k, v := range conf {
		if !config.Has(k) {
			continue
		}
		if prop := config.Get(strings.ToLower(k)); prop.props != nil {
			if m, ok := v.(map[string]any); ok {
				prop.ParseUserFile(m)
			}
		} else if fv, ok := prop.set(k, v); ok {
			prop.File = fv.Interface()
			if prop.Env == nil {
				prop.Ptr.Set(fv)
			}
		}
	}
}

// ParseModifyFile 第三步应用命令行修改，与原值相同的修改会被丢弃
func (config *Config) ParseModifyFile(conf map[string]any) {
	if conf == nil {
		return
	}
	config.Modify = conf
	for k, v := range conf {
		if !config.Has(k) {
			continue
		}
		if prop := config.Get(strings.ToLower(k)); prop.props != nil {
			if vmap, ok := v.(map[string]any); ok {
				prop.ParseModifyFile(vmap)
				if len(vmap) == 0 {
					delete(conf, k)
				}
			}
		} else {
			mv, ok := prop.set(k, v)
			if !ok {
				continue
			}
			v = mv.Interface()
			vwm := prop.valueWithoutModify()
			if reflect.DeepEqual(vwm, v) {
				delete(conf, k)
				if prop.Modify != nil {
					prop.Modify = nil
					prop.Ptr.Set(reflect.ValueOf(vwm))
				}
				continue
			}
			prop.Modify = v
			prop.Ptr.Set(mv)
		}
	}
	if len(conf) == 0 {
		config.Modify = nil
	}
}

func (config *Config) valueWithoutModify() any {
	if config.Env != nil {
		return config.Env
	}
	if config.File != nil {
		return config.File
	}
	return config.Default
}

// GetMap returns the effective values as nested maps, for logging.
func (config *Config) GetMap() map[string]any {
	m := make(map[string]any)
	for k, v := range config.propsMap {
		if v.props != nil {
			if vv := v.GetMap(); vv != nil {
				m[k] = vv
			}
		} else if v.GetValue() != nil {
			m[k] = v.GetValue()
		}
	}
	if len(m) > 0 {
		return m
	}
	return nil
}

var regexPureNumber = regexp.MustCompile(`^\d+$`)

func (config *Config) assign(k string, v any) (target reflect.Value, err error) {
	ft := config.Ptr.Type()
	source := reflect.ValueOf(v)
	if ft == durationType {
		target = reflect.New(ft).Elem()
		switch {
		case !source.IsValid() || source.IsZero():
		case source.Type() == durationType:
			target.Set(source)
		default:
			timeStr := fmt.Sprint(v)
			d, perr := time.ParseDuration(timeStr)
			if perr != nil || regexPureNumber.MatchString(timeStr) {
				return target, fmt.Errorf("%s: invalid duration %q, add a unit (ms, s, m, h)", k, timeStr)
			}
			target.SetInt(int64(d))
		}
		return
	}
	tmpStruct := reflect.StructOf([]reflect.StructField{{
		Name: strings.ToUpper(k),
		Type: ft,
		Tag:  reflect.StructTag(fmt.Sprintf(`yaml:"%s"`, k)),
	}})
	tmpValue := reflect.New(tmpStruct)
	if v != nil {
		var out []byte
		if vv, ok := v.(string); ok {
			out = []byte(fmt.Sprintf("%s: %s", k, vv))
		} else {
			out, _ = yaml.Marshal(map[string]any{k: v})
		}
		if err = yaml.Unmarshal(out, tmpValue.Interface()); err != nil {
			return target, fmt.Errorf("%s: %w", k, err)
		}
	}
	target = tmpValue.Elem().Field(0)
	return
}

// Load fills target from its default tags, the environment (PREFIX_FIELD),
// the yaml file at path (skipped when empty) and then modify, in that order
// of increasing precedence.
func Load(target any, prefix, path string, modify map[string]any) (*Config, error) {
	var c Config
	c.Parse(target, prefix)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var conf map[string]any
		if err = yaml.Unmarshal(b, &conf); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		c.ParseUserFile(conf)
	}
	c.ParseModifyFile(modify)
	return &c, c.Err()
}
