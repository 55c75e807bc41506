package reportparser

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestParse_FastPath(t *testing.T) {
	raw := "X-Trace Report ver 1\nX-Trace: ABCDEF0123456789\nSomeKey: SomeValue\n\n"
	p := New(testLogger())

	res := p.Parse(raw)

	require.True(t, res.OK)
	assert.Equal(t, "ABCDEF0123456789", string(res.Report.TaskID))
	assert.Equal(t, raw, res.Report.RawText)
	assert.Empty(t, res.Report.Title)
	assert.Empty(t, res.Report.Tags)
}

func TestParse_FastPathFallsBackOnTitle(t *testing.T) {
	raw := "X-Trace Report ver 1\nX-Trace: ABCDEF0123456789\nTitle: hello\nTag: x\n\n"
	p := New(testLogger())

	res := p.Parse(raw)

	require.True(t, res.OK)
	assert.Equal(t, "ABCDEF0123456789", string(res.Report.TaskID))
	assert.Equal(t, "hello", res.Report.Title)
	_, hasX := res.Report.Tags["x"]
	assert.True(t, hasX)
}

func TestParse_SlowPathCollectsTagsAndFirstTitle(t *testing.T) {
	raw := "X-Trace Report ver 1\nHost: a\nX-Trace: ABCDEF0123456789\nTitle: first\nTitle: second\nTag: a\nTag: b\n\n"
	p := New(testLogger())

	res := p.Parse(raw)

	require.True(t, res.OK)
	assert.Equal(t, "first", res.Report.Title)
	assert.Len(t, res.Report.Tags, 2)
}

func TestParse_NoXTraceLineDropped(t *testing.T) {
	raw := "X-Trace Report ver 1\nTitle: no trace here\n\n"
	p := New(testLogger())

	res := p.Parse(raw)

	assert.False(t, res.OK)
	assert.Nil(t, res.Report)
}

func TestParse_MissingHeaderDropped(t *testing.T) {
	raw := "Not a report\nX-Trace: ABCDEF0123456789\n\n"
	p := New(testLogger())

	res := p.Parse(raw)

	assert.False(t, res.OK)
}

func TestParse_ShortTaskIDDropped(t *testing.T) {
	raw := "X-Trace Report ver 1\nX-Trace: ABCD\n\n"
	p := New(testLogger())

	res := p.Parse(raw)

	assert.False(t, res.OK)
}

func TestParse_TaskIDNormalizedUppercase(t *testing.T) {
	raw := "X-Trace Report ver 1\nX-Trace: abcdef0123456789\n\n"
	p := New(testLogger())

	res := p.Parse(raw)

	require.True(t, res.OK)
	assert.Equal(t, "ABCDEF0123456789", string(res.Report.TaskID))
}
