// Copyright 2021 The logrange Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// autowirer is the default DependencyResolver. It applies the definition
// properties to the raw instance and injects other components into the struct
// fields tagged with `inject`. The supported tag forms are:
//
//	`inject:"compName"`
//	`inject:"compName,optional"`
//	`inject:"compName,optional:<default value>"`
//
// The default value of an optional field is parsed the json way, strings may
// be provided unquoted.
type autowirer struct{}

var defaultResolver DependencyResolver = autowirer{}

const injectTag = "inject"

type tagInfo struct {
	name     string
	optional bool
	defVal   string
}

// Populate is a part of DependencyResolver
func (autowirer) Populate(c *Creation, def *Definition, obj interface{}) error {
	if len(def.Properties) > 0 {
		if err := mapstructure.Decode(def.Properties, obj); err != nil {
			return errors.Wrapf(err, "could not apply properties of the %q definition", def.Name)
		}
	}

	tp := reflect.TypeOf(obj)
	if !isStructPtr(tp) {
		return nil
	}

	v := reflect.ValueOf(obj).Elem()
	for fi := 0; fi < v.NumField(); fi++ {
		f := v.Field(fi)
		sf := tp.Elem().Field(fi)

		tag, ok := sf.Tag.Lookup(injectTag)
		if !ok {
			continue
		}
		ti, err := parseInjectTag(tag)
		if err != nil {
			return errors.Wrapf(err, "bad inject tag on the field %s of %s", sf.Name, tp)
		}
		if !f.CanSet() {
			return errors.Errorf("could not inject into the field %s of %s, it is unexported", sf.Name, tp)
		}

		dep, err := c.Dependency(def.Name, ti.name)
		if err != nil {
			if ti.optional && errors.Cause(err) == ErrNotRegistered {
				if err := setFieldValueByString(f, ti.defVal); err != nil {
					return errors.Wrapf(err, "could not assign the default value %q to the field %s of %s",
						ti.defVal, sf.Name, tp)
				}
				continue
			}
			return err
		}

		dv := reflect.ValueOf(dep)
		if !dv.Type().AssignableTo(f.Type()) {
			return errors.Errorf("component %q of type %s is not assignable to the field %s (%s) of %s",
				ti.name, dv.Type(), sf.Name, f.Type(), tp)
		}
		f.Set(dv)
	}
	return nil
}

func parseInjectTag(tag string) (tagInfo, error) {
	var ti tagInfo
	parts := strings.SplitN(tag, ",", 2)
	ti.name = strings.Trim(parts[0], " ")
	if ti.name == "" {
		return ti, errors.Errorf("the component name must come first in the tag value")
	}
	if len(parts) == 1 {
		return ti, nil
	}

	p := strings.Trim(parts[1], " ")
	if !strings.HasPrefix(p, "optional") {
		return ti, errors.Errorf("unknown parameter %q in the tag value, \"optional\" is supported so far", p)
	}
	ti.optional = true
	p = strings.TrimLeft(p[len("optional"):], " ")
	if len(p) > 0 {
		if p[0] != ':' {
			return ti, errors.Errorf("the default value must be provided in the optional[:<default value>] form, but got %q", parts[1])
		}
		ti.defVal = p[1:]
	}
	return ti, nil
}

func isStructPtr(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct
}

// setFieldValueByString assigns the string to the field, parsing it the json
// way. Strings may be provided unquoted.
func setFieldValueByString(field reflect.Value, s string) error {
	if len(s) == 0 {
		return nil
	}

	obj := reflect.New(field.Type()).Interface()
	if t := reflect.TypeOf(obj); t.Kind() == reflect.Ptr &&
		t.Elem().Kind() == reflect.String && !strings.HasPrefix(s, "\"") {
		s = strconv.Quote(s)
	}

	if err := json.Unmarshal([]byte(s), obj); err != nil {
		return err
	}

	field.Set(reflect.ValueOf(obj).Elem())
	return nil
}
