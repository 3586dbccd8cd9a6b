package check

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Validatable is implemented by anything that has fields that should be validated.
type Validatable interface {
	Validate() []error
}

// ValidationError collects every failure found by Validate.
type ValidationError struct {
	Errs []error
}

func (v ValidationError) Error() string {
	errStrings := make([]string, 0, len(v.Errs))
	for _, err := range v.Errs {
		errStrings = append(errStrings, err.Error())
	}
	sort.Strings(errStrings)
	return fmt.Sprintf("Check Failed! %d errors found:\n\t%s",
		len(v.Errs), strings.Join(errStrings, "\n\t"))
}

// Validate walks v (structs, slices, maps and pointers) and calls Validate on every value that
// implements Validatable. The failures of all of them are combined into one returned error.
func Validate(v any) error {
	errs := validate(reflect.ValueOf(v), "root")
	if len(errs) == 0 {
		return nil
	}
	return ValidationError{Errs: errs}
}

// Collect combines the non-nil errors of one Validate result into a single error whose message
// lists them separated by semicolons, for showing next to a form. It returns nil if all are nil.
func Collect(errs []error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return nil
	}
	merr.ErrorFormat = func(es []error) string {
		msgs := make([]string, 0, len(es))
		for _, e := range es {
			msgs = append(msgs, e.Error())
		}
		return strings.Join(msgs, "; ")
	}
	return merr
}

func validate(v reflect.Value, path string) []error {
	var errs []error
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		errs = append(errs, validate(v.Elem(), path)...)
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			errs = append(errs, validate(v.Index(i), fmt.Sprintf("%s[%d]", path, i))...)
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			errs = append(errs, validate(v.MapIndex(key),
				fmt.Sprintf("%s[%v]", path, key.Interface()))...)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Field(i).CanInterface() {
				continue
			}
			errs = append(errs, validate(v.Field(i),
				fmt.Sprintf("%s.%s", path, v.Type().Field(i).Name))...)
		}
	}

	if v.IsValid() && v.Kind() != reflect.Ptr {
		vp := reflect.New(v.Type())
		vp.Elem().Set(v)
		if validatable, ok := vp.Interface().(Validatable); ok {
			for _, err := range validatable.Validate() {
				if err != nil {
					errs = append(errs, errors.Wrapf(err, "error found at %s", path))
				}
			}
		}
	}

	return errs
}
