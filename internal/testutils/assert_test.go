package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter_EqualDocuments(t *testing.T) {
	ja := NewJSONAsserter(t)
	ja.Assert(`{"a":1,"b":[1,2]}`, `{"a":1,"b":[1,2]}`)
}

func TestJSONAsserter_PresencePlaceholder(t *testing.T) {
	ja := NewJSONAsserter(t)
	ja.Assert(
		`{"endpointId":"X7K2","name":"kiosk"}`,
		`{"endpointId":"<<PRESENCE>>","name":"kiosk"}`,
	)
}

func TestJSONAsserter_IgnoresExtraKeysByDefault(t *testing.T) {
	ja := NewJSONAsserter(t)
	ja.Assert(`{"a":1,"extra":true}`, `{"a":1}`)
}

func TestJSONAsserter_ExtraKeysReportedWhenStrict(t *testing.T) {
	ja := NewJSONAsserter(t, WithIgnoreExtraKeys(false))
	diff := ja.diff(`{"a":1,"extra":true}`, `{"a":1}`)
	assert.NotEmpty(t, diff)
}

func TestJSONAsserter_IgnoredFields(t *testing.T) {
	ja := NewJSONAsserter(t, WithIgnoredFields("timestamp"))
	ja.Assert(
		`{"mac":"aa:bb","timestamp":123}`,
		`{"mac":"aa:bb","timestamp":999}`,
	)
}

func TestJSONAsserter_ValueDifferenceProducesDiff(t *testing.T) {
	ja := NewJSONAsserter(t)
	diff := ja.diff(`{"a":1}`, `{"a":2}`)
	assert.NotEmpty(t, diff)
}

func TestJSONAsserter_RootArrays(t *testing.T) {
	ja := NewJSONAsserter(t)
	ja.Assert(`[{"kind":"ble"}]`, `[{"kind":"ble"}]`)

	diff := ja.diff(`[{"kind":"ble"}]`, `[{"kind":"wifi_lan"}]`)
	assert.NotEmpty(t, diff)
}

func TestTextAsserter_EqualText(t *testing.T) {
	ta := NewTextAsserter(t)
	ta.Assert("one\ntwo\n", "one\ntwo\n")
}

func TestTextAsserter_TrailingWhitespaceIgnoredByDefault(t *testing.T) {
	ta := NewTextAsserter(t)
	ta.Assert("one  \ntwo\t\n", "one\ntwo\n")
}

func TestTextAsserter_EmptyLines(t *testing.T) {
	ta := NewTextAsserter(t, WithIgnoreEmptyLines(true))
	ta.Assert("one\n\n\ntwo\n", "one\ntwo\n")
}

func TestTextAsserter_DiffIsUnified(t *testing.T) {
	ta := NewTextAsserter(t)
	diff := ta.diff("one\nthree\n", "one\ntwo\n")
	assert.Contains(t, diff, "-two")
	assert.Contains(t, diff, "+three")
}

func TestMustJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, MustJSON(map[string]int{"a": 1}))
}
