package check

import (
	"testing"

	"gotest.tools/assert"
)

type pointerReceiver struct {
	A bool
}

func (t *pointerReceiver) Validate() []error {
	return []error{
		True(t.A, "field A must be true"),
	}
}

type valueReceiver struct {
	A bool
}

func (t valueReceiver) Validate() []error {
	return []error{
		True(t.A, "field A must be true"),
	}
}

type nested struct {
	Inner []valueReceiver
}

func TestMethodSets(t *testing.T) {
	const want = "error found at root: field A must be true: expected true, got false"
	p := pointerReceiver{}
	v := valueReceiver{}
	assert.ErrorContains(t, Validate(p), want)
	assert.ErrorContains(t, Validate(&p), want)
	assert.ErrorContains(t, Validate(v), want)
	assert.ErrorContains(t, Validate(&v), want)

	assert.NilError(t, Validate(valueReceiver{A: true}))
}

func TestNestedPaths(t *testing.T) {
	err := Validate(nested{Inner: []valueReceiver{{A: true}, {A: false}}})
	assert.ErrorContains(t, err, "error found at root.Inner[1]")
	assert.ErrorContains(t, err, "1 errors found")
}

func TestHelpers(t *testing.T) {
	assert.NilError(t, NotEmpty("x"))
	assert.ErrorContains(t, NotEmpty("  ", "name is required"), "name is required")

	assert.NilError(t, Contains("csv", []string{"csv", "json"}))
	assert.ErrorContains(t, Contains("txt", []string{"csv", "json"}), "txt not in [csv json]")

	assert.NilError(t, Between(2000, 1, 2000))
	assert.ErrorContains(t, Between(0, 1, 2000, "rows"), "rows: 0 is not between 1 and 2000")

	assert.NilError(t, GreaterThan(1, 0))
	assert.Assert(t, GreaterThan(0, 0) != nil)
}

func TestMessagesAreNotFormatStrings(t *testing.T) {
	assert.ErrorContains(t, NotEmpty("", "name for 100% split"), "name for 100% split: ")
	assert.ErrorContains(t, Contains("growth_%d", []string{"a", "b"}, "target_column"),
		"target_column: growth_%d not in [a b]")
	assert.ErrorContains(t, Between(0, 1, 10, "%s rows", "num"), "num rows: 0 is not between")
}

func TestCollect(t *testing.T) {
	assert.NilError(t, Collect([]error{nil, NotEmpty("x")}))
	err := Collect([]error{
		NotEmpty("", "name"),
		nil,
		Between(0, 1, 2000, "num_rows"),
	})
	assert.Error(t, err, `name: "" is empty; num_rows: 0 is not between 1 and 2000`)
}
